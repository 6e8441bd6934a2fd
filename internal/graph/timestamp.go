package graph

import "time"

// Timestamp is an output timestamp with an explicit "absent" state, used by
// the freshness analyzer so a missing output can be treated as newer than
// anything else without overloading time.Time's zero value (which is a
// legitimate, very old instant).
type Timestamp struct {
	t       time.Time
	present bool
}

// Absent is the "does not exist" timestamp: sorts after every present
// timestamp, so a dependency's missing output makes its dependents stale.
var Absent = Timestamp{}

// At returns a present Timestamp for the given instant.
func At(t time.Time) Timestamp {
	return Timestamp{t: t, present: true}
}

// Present reports whether this timestamp corresponds to an existing output.
func (ts Timestamp) Present() bool { return ts.present }

// Time returns the underlying instant. Only meaningful when Present.
func (ts Timestamp) Time() time.Time { return ts.t }

// After reports whether ts is strictly more recent than other, treating
// Absent as later than any present timestamp.
func (ts Timestamp) After(other Timestamp) bool {
	switch {
	case !ts.present && !other.present:
		return false
	case !ts.present:
		return true
	case !other.present:
		return false
	default:
		return ts.t.After(other.t)
	}
}

// Package snapshot defines the immutable, serializable representation of
// an in-flight Execution produced by Freeze and consumed by Thaw (§4.7 of
// the design).
package snapshot

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
)

// NodeSnapshot is one node's recorded state at the moment of freezing.
//
// State is one of "NOT_READY", "READY", "SCHEDULED", "SUCCEEDED",
// "FAILED" -- encoded as a string rather than importing the execution
// package's NodeState, so that snapshot has no dependency on execution
// and can be reused by storage backends that never touch the live
// driver. A node recorded as "SCHEDULED" always carries a non-empty
// Token; the freeze invariant that a token-less in-flight node downgrades
// to "READY" is enforced before a FrozenExecution is ever constructed.
type NodeSnapshot struct {
	State string
	Token string
}

// FrozenExecution is a point-in-time, immutable copy of an Execution's
// bookkeeping: which nodes make up its target and what state each was in.
// It carries no live resources (no scheduler, no callbacks) and can be
// persisted, transmitted, or held indefinitely before being thawed back
// into a running Execution.
type FrozenExecution struct {
	// TargetKeys lists every node key that belonged to the frozen
	// execution's target, in no particular order.
	TargetKeys []string
	// Statuses maps each of TargetKeys to its recorded NodeSnapshot. A
	// structure node (no task) is never recorded as "SCHEDULED".
	Statuses map[string]NodeSnapshot
	// Errs holds the string form of every error observed before the
	// freeze. Errors are not round-tripped as typed values: a frozen
	// execution is rehydrated against a fresh scheduler and is expected
	// to keep running, not to replay history.
	Errs []string
}

// Encode gob-serializes f to w.
func Encode(w io.Writer, f *FrozenExecution) error {
	if err := gob.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	return nil
}

// Decode gob-deserializes a FrozenExecution from r.
func Decode(r io.Reader) (*FrozenExecution, error) {
	var f FrozenExecution
	if err := gob.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	return &f, nil
}

// Bytes gob-serializes f and returns the result.
func Bytes(f *FrozenExecution) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromBytes decodes a FrozenExecution previously produced by Bytes.
func FromBytes(b []byte) (*FrozenExecution, error) {
	return Decode(bytes.NewReader(b))
}

// Package fileoutput is a concrete Task/Output implementation backed by
// the local filesystem: an Output's timestamp is its file's modification
// time, and deleting it removes the file (§6.3 of the design).
package fileoutput

import (
	"context"
	"fmt"
	"os"

	"github.com/tripflow/reflow/internal/graph"
)

var locks = newPathLocks()

// Output is a single file on disk.
type Output struct {
	Path string
}

// Timestamp returns the file's modification time. A missing file reports
// ok=false, never an error: "does not exist yet" is a normal state for an
// output that has never been produced.
func (o Output) Timestamp() (graph.Timestamp, bool, error) {
	info, err := os.Stat(o.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return graph.Timestamp{}, false, nil
		}
		return graph.Timestamp{}, false, fmt.Errorf("fileoutput: stat %q: %w", o.Path, err)
	}
	return graph.At(info.ModTime()), true, nil
}

// Delete removes the file. Deleting an already-missing file is not an
// error, since output removal must be safe to retry or to run twice.
func (o Output) Delete() error {
	locks.lock(o.Path)
	defer locks.unlock(o.Path)

	if err := os.Remove(o.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fileoutput: delete %q: %w", o.Path, err)
	}
	return nil
}

// Work is the unit of execution a Task runs. Implementations should write
// every one of the Task's declared output paths, or return an error
// without assuming partial output has been cleaned up -- the execution
// driver deletes a failed node's outputs itself.
type Work func(ctx context.Context) error

// Task pairs a Work function with the set of file paths it is expected to
// produce. It implements graph.Task directly and localscheduler.Runnable,
// so it can be submitted to localscheduler.Scheduler without an adapter.
type Task struct {
	Paths []string
	Work  Work
}

// Outputs returns one fileoutput.Output per declared path.
func (t Task) Outputs() []graph.Output {
	outs := make([]graph.Output, len(t.Paths))
	for i, p := range t.Paths {
		outs[i] = Output{Path: p}
	}
	return outs
}

// Run acquires every declared path's lock (in a fixed global order, so
// two tasks racing over the same paths never deadlock) and invokes Work.
func (t Task) Run(ctx context.Context) error {
	locks.lockAll(t.Paths)
	defer locks.unlockAll(t.Paths)
	return t.Work(ctx)
}

// NoOp is a Task with no declared outputs and a Run that does nothing. It
// is useful as a placeholder node in tests and as a notification-only
// step that participates in the graph without producing a file.
type NoOp struct{}

func (NoOp) Outputs() []graph.Output       { return nil }
func (NoOp) Run(ctx context.Context) error { return nil }

// WriteFile is a convenience Work that writes data to path with the given
// permissions, recording the write's wall-clock time as the output's
// implicit timestamp via the filesystem's own modification time.
func WriteFile(path string, data []byte, perm os.FileMode) Work {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, perm); err != nil {
			return fmt.Errorf("fileoutput: write %q: %w", path, err)
		}
		return nil
	}
}

package fileoutput

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOutputTimestampMissingFileIsAbsent(t *testing.T) {
	o := Output{Path: filepath.Join(t.TempDir(), "missing.txt")}
	_, ok, err := o.Timestamp()
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false for a file that does not exist")
	}
}

func TestOutputTimestampExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "present.txt")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	o := Output{Path: path}
	_, ok, err := o.Timestamp()
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if !ok {
		t.Errorf("expected ok=true for an existing file")
	}
}

func TestOutputDeleteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	o := Output{Path: path}
	if err := o.Delete(); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if err := o.Delete(); err != nil {
		t.Fatalf("second Delete on an already-missing file should not error: %v", err)
	}
}

func TestTaskRunWritesDeclaredOutputs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	task := Task{
		Paths: []string{path},
		Work:  WriteFile(path, []byte("hello"), 0o644),
	}

	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("expected file content %q, got %q", "hello", got)
	}

	outs := task.Outputs()
	if len(outs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outs))
	}
	if _, ok, err := outs[0].Timestamp(); err != nil || !ok {
		t.Errorf("expected the written output to report a timestamp, ok=%v err=%v", ok, err)
	}
}

func TestNoOpHasNoOutputsAndRunsCleanly(t *testing.T) {
	var n NoOp
	if len(n.Outputs()) != 0 {
		t.Errorf("expected NoOp to have no outputs")
	}
	if err := n.Run(context.Background()); err != nil {
		t.Errorf("expected NoOp.Run to never fail, got %v", err)
	}
}

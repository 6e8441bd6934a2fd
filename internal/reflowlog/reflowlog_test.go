package reflowlog

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func newTestLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Logger{component: "test", min: Info, out: log.New(&buf, "", 0)}, &buf
}

func TestInfofWritesMessage(t *testing.T) {
	l, buf := newTestLogger()
	l.Infof("starting run %s", "run-1")
	if !strings.Contains(buf.String(), "starting run run-1") {
		t.Errorf("expected message in output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[INFO]") {
		t.Errorf("expected level tag, got %q", buf.String())
	}
}

func TestDebugfSuppressedByDefault(t *testing.T) {
	l, buf := newTestLogger()
	l.Debugf("should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected debug line to be filtered out, got %q", buf.String())
	}
}

func TestWithMinLevelAllowsDebug(t *testing.T) {
	l, buf := newTestLogger()
	l = l.WithMinLevel(Debug)
	l.Debugf("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("expected debug line to appear after lowering min level, got %q", buf.String())
	}
}

func TestWithNestsComponent(t *testing.T) {
	l, buf := newTestLogger()
	nested := l.With("scheduler")
	nested.Infof("hello")
	if !strings.Contains(buf.String(), "test.scheduler") {
		t.Errorf("expected nested component name, got %q", buf.String())
	}
}

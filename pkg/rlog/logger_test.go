package rlog

import (
	"fmt"
	"testing"
)

type recorder struct {
	lines []string
}

func (r *recorder) record(level, msg string, kv []any) {
	r.lines = append(r.lines, fmt.Sprint(level, " ", msg, " ", kv))
}

func (r *recorder) Info(msg string, kv ...any)  { r.record("INFO", msg, kv) }
func (r *recorder) Error(msg string, kv ...any) { r.record("ERROR", msg, kv) }
func (r *recorder) Debug(msg string, kv ...any) { r.record("DEBUG", msg, kv) }
func (r *recorder) Warn(msg string, kv ...any)  { r.record("WARN", msg, kv) }

// TestWithPrependsKeyValues tests that With keeps its pairs ahead of the call's pairs
func TestWithPrependsKeyValues(t *testing.T) {
	rec := &recorder{}
	l := With(rec, "role", "server")
	l.Warn("desync", "entity", 4)

	if len(rec.lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(rec.lines))
	}
	want := "WARN desync [role server entity 4]"
	if rec.lines[0] != want {
		t.Errorf("got %q, want %q", rec.lines[0], want)
	}
}

// TestOrNop tests the nil fallback
func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	l.Error("dropped") // must not panic

	rec := &recorder{}
	if OrNop(rec) != Logger(rec) {
		t.Error("OrNop replaced a non-nil logger")
	}
}

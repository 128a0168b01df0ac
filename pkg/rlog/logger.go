// Package rlog defines the logging surface used throughout replica.
package rlog

// Logger is a leveled, structured logger. Key/value pairs follow the
// log/slog convention.
type Logger interface {
	Info(msg string, keyValues ...any)
	Error(msg string, keyValues ...any)
	Debug(msg string, keyValues ...any)
	Warn(msg string, keyValues ...any)
}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nop{} }

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}

// With returns a Logger that prepends keyValues to every entry.
func With(l Logger, keyValues ...any) Logger {
	if len(keyValues) == 0 {
		return OrNop(l)
	}
	return &prefixed{next: OrNop(l), kv: keyValues}
}

type nop struct{}

func (nop) Info(string, ...any)  {}
func (nop) Error(string, ...any) {}
func (nop) Debug(string, ...any) {}
func (nop) Warn(string, ...any)  {}

type prefixed struct {
	next Logger
	kv   []any
}

func (p *prefixed) merge(kv []any) []any {
	out := make([]any, 0, len(p.kv)+len(kv))
	out = append(out, p.kv...)
	return append(out, kv...)
}

func (p *prefixed) Info(msg string, kv ...any)  { p.next.Info(msg, p.merge(kv)...) }
func (p *prefixed) Error(msg string, kv ...any) { p.next.Error(msg, p.merge(kv)...) }
func (p *prefixed) Debug(msg string, kv ...any) { p.next.Debug(msg, p.merge(kv)...) }
func (p *prefixed) Warn(msg string, kv ...any)  { p.next.Warn(msg, p.merge(kv)...) }

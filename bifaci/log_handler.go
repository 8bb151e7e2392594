package bifaci

import (
	"context"
	"log/slog"
	"strings"
)

// LogForwarder is a slog.Handler that mirrors records at or above Level to
// the host as LOG frames. Attributes are appended to the message as key=value.
type LogForwarder struct {
	rt    *Runtime
	level slog.Leveler
	attrs []slog.Attr
}

// NewLogForwarder creates a handler forwarding records through rt.
func NewLogForwarder(rt *Runtime, level slog.Leveler) *LogForwarder {
	return &LogForwarder{rt: rt, level: level}
}

func (f *LogForwarder) Enabled(_ context.Context, level slog.Level) bool {
	return level >= f.level.Level()
}

func (f *LogForwarder) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(record.Message)
	write := func(a slog.Attr) bool {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.String())
		return true
	}
	for _, a := range f.attrs {
		write(a)
	}
	record.Attrs(write)
	// Never fails the caller: a dropped LOG frame is not an error
	f.rt.Log(strings.ToLower(record.Level.String()), b.String())
	return nil
}

func (f *LogForwarder) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *f
	cp.attrs = append(append([]slog.Attr(nil), f.attrs...), attrs...)
	return &cp
}

func (f *LogForwarder) WithGroup(string) slog.Handler {
	return f
}

// FanoutHandler sends every record to all of its handlers.
type FanoutHandler []slog.Handler

func (h FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h FanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h {
		if handler.Enabled(ctx, record.Level) {
			_ = handler.Handle(ctx, record.Clone())
		}
	}
	return nil
}

func (h FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(FanoutHandler, len(h))
	for i, handler := range h {
		out[i] = handler.WithAttrs(attrs)
	}
	return out
}

func (h FanoutHandler) WithGroup(name string) slog.Handler {
	out := make(FanoutHandler, len(h))
	for i, handler := range h {
		out[i] = handler.WithGroup(name)
	}
	return out
}

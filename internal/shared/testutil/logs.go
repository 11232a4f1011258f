// Package testutil captures slog output so tests can assert on event names
// and attributes instead of parsing JSON lines.
package testutil

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// Record is one captured log event. Attrs include the attributes bound
// with Logger.With.
type Record struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogCapture is a slog.Handler that keeps every record in memory.
type LogCapture struct {
	store *store
	bound []slog.Attr
	group string
}

type store struct {
	mu      sync.Mutex
	records []Record
	t       testing.TB
}

// NewLogger returns a logger writing into a fresh capture. Every record is
// echoed through t.Logf.
func NewLogger(t testing.TB) (*slog.Logger, *LogCapture) {
	c := &LogCapture{store: &store{t: t}}
	return slog.New(c), c
}

func (c *LogCapture) Enabled(context.Context, slog.Level) bool { return true }

func (c *LogCapture) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(c.bound)+r.NumAttrs())
	for _, a := range c.bound {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if c.group != "" {
			key = c.group + "." + key
		}
		attrs[key] = a.Value.Any()
		return true
	})

	s := c.store
	s.mu.Lock()
	s.records = append(s.records, Record{Time: r.Time, Level: r.Level, Message: r.Message, Attrs: attrs})
	s.mu.Unlock()
	if s.t != nil {
		s.t.Logf("[%s] %s %v", r.Level, r.Message, attrs)
	}
	return nil
}

func (c *LogCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make([]slog.Attr, 0, len(c.bound)+len(attrs))
	bound = append(bound, c.bound...)
	for _, a := range attrs {
		if c.group != "" {
			a.Key = c.group + "." + a.Key
		}
		bound = append(bound, a)
	}
	return &LogCapture{store: c.store, bound: bound, group: c.group}
}

func (c *LogCapture) WithGroup(name string) slog.Handler {
	group := name
	if c.group != "" {
		group = c.group + "." + name
	}
	return &LogCapture{store: c.store, bound: c.bound, group: group}
}

// Records returns a copy of everything captured so far.
func (c *LogCapture) Records() []Record {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return append([]Record(nil), c.store.records...)
}

// Events returns the records whose message is exactly msg.
func (c *LogCapture) Events(msg string) []Record {
	var out []Record
	for _, r := range c.Records() {
		if r.Message == msg {
			out = append(out, r)
		}
	}
	return out
}

// Last returns the newest record with message msg.
func (c *LogCapture) Last(msg string) (Record, bool) {
	events := c.Events(msg)
	if len(events) == 0 {
		return Record{}, false
	}
	return events[len(events)-1], true
}

// Reset drops every captured record.
func (c *LogCapture) Reset() {
	c.store.mu.Lock()
	c.store.records = nil
	c.store.mu.Unlock()
}

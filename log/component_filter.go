package log

import (
	"context"
	"log/slog"
	"strings"
)

// FilterComponents wraps next so that only records logged under one of the
// named component groups are emitted. Components match the names passed to
// Logger.WithGroup, case-insensitively. An empty component list disables
// filtering and returns next unchanged.
func FilterComponents(next slog.Handler, components []string) slog.Handler {
	allowed := make(map[string]struct{}, len(components))
	for _, c := range components {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			allowed[c] = struct{}{}
		}
	}
	if next == nil || len(allowed) == 0 {
		return next
	}
	return &componentFilter{next: next, allowed: allowed}
}

type componentFilter struct {
	next    slog.Handler
	allowed map[string]struct{}
	// matched is set once a WithGroup call names an allowed component;
	// nested groups inherit it.
	matched bool
}

func (f *componentFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return f.matched && f.next.Enabled(ctx, level)
}

func (f *componentFilter) Handle(ctx context.Context, record slog.Record) error {
	if !f.matched {
		return nil
	}
	return f.next.Handle(ctx, record)
}

func (f *componentFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentFilter{next: f.next.WithAttrs(attrs), allowed: f.allowed, matched: f.matched}
}

func (f *componentFilter) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	clone := &componentFilter{next: f.next.WithGroup(name), allowed: f.allowed, matched: f.matched}
	if _, ok := f.allowed[strings.ToLower(name)]; ok {
		clone.matched = true
	}
	return clone
}

package log

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	count int
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *countingHandler) Handle(context.Context, slog.Record) error {
	h.count++
	return nil
}

func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *countingHandler) WithGroup(string) slog.Handler { return h }

func TestFilterComponentsEmptyListIsPassthrough(t *testing.T) {
	t.Parallel()

	next := &countingHandler{}
	require.Equal(t, slog.Handler(next), FilterComponents(next, nil))
	require.Equal(t, slog.Handler(next), FilterComponents(next, []string{" ", ""}))
}

func TestFilterComponentsOnlyEmitsAllowedGroups(t *testing.T) {
	t.Parallel()

	next := &countingHandler{}
	handler := FilterComponents(next, []string{"Supervisor"})
	record := slog.NewRecord(time.Now(), slog.LevelInfo, "test", 0)

	require.NoError(t, handler.Handle(context.Background(), record))
	require.Zero(t, next.count)

	suppressed := handler.WithGroup("indexer")
	require.NoError(t, suppressed.Handle(context.Background(), record))
	require.Zero(t, next.count)

	allowed := handler.WithGroup("supervisor")
	require.NoError(t, allowed.Handle(context.Background(), record))
	require.Equal(t, 1, next.count)

	// Nested groups under an allowed component stay allowed.
	nested := allowed.WithGroup("inner")
	require.NoError(t, nested.Handle(context.Background(), record))
	require.Equal(t, 2, next.count)
}

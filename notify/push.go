package notify

import (
	"context"
	"log/slog"
)

// Pusher is the native push boundary. The tag deduplicates at the OS level:
// re-pushing the same tag replaces the previous banner.
type Pusher interface {
	Push(ctx context.Context, msg PushMessage) error
}

// PushMessage is one native push banner.
type PushMessage struct {
	Title string
	Body  string
	Icon  string
	Tag   string
}

// FlushPush fires native pushes for every notification that qualifies and
// advances the flush watermark. A notification qualifies only when push is
// enabled, the window is not focused, its status is below Seen, and its
// latest status change is newer than the watermark. The watermark advances
// even when nothing fired, so backgrounding the window cannot replay old
// events later.
func (e *Engine) FlushPush(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UnixMilli()
	defer func() {
		e.prefs.LastPushFlush = now
		e.persistPreferencesLocked(ctx)
	}()

	if e.pusher == nil || !e.prefs.PushEnabled || e.focused() {
		return
	}

	for key, n := range e.notifications {
		if n.Status >= StatusSeen {
			continue
		}
		if n.Timestamps[n.Status] <= e.prefs.LastPushFlush {
			continue
		}

		display := e.display[key]
		msg := PushMessage{
			Title: display.Title,
			Body:  display.Body,
			Icon:  display.Icon,
			Tag:   key,
		}
		if err := e.pusher.Push(ctx, msg); err != nil {
			e.logger.Warn("push failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}
}

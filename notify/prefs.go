package notify

import "context"

// PreferencesVersion invalidates stored preferences when the category set
// changes shape. A mismatch on load resets to defaults.
const PreferencesVersion = 2

// Preferences holds per-category enablement and the push gate state.
type Preferences struct {
	Version     int
	Categories  map[Category]bool
	PushEnabled bool

	// LastPushFlush is the epoch-ms watermark below which status changes
	// never produce a native push.
	LastPushFlush int64
}

// DefaultPreferences enables every category and disables native push until
// the user opts in.
func DefaultPreferences() Preferences {
	return Preferences{
		Version: PreferencesVersion,
		Categories: map[Category]bool{
			CategoryTrading:   true,
			CategoryTransfers: true,
			CategoryGeneral:   true,
			CategoryMustSee:   true,
		},
	}
}

// Enabled reports whether a category is active. MustSee is always on, and an
// unknown category defaults to on.
func (p Preferences) Enabled(c Category) bool {
	if c == CategoryMustSee {
		return true
	}
	enabled, ok := p.Categories[c]
	if !ok {
		return true
	}
	return enabled
}

// SetCategoryEnabled flips one category. Disabling a category drops every
// existing notification whose type maps into it.
func (e *Engine) SetCategoryEnabled(ctx context.Context, c Category, enabled bool) {
	if c == CategoryMustSee {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.prefs.Categories == nil {
		e.prefs.Categories = map[Category]bool{}
	}
	e.prefs.Categories[c] = enabled

	if !enabled {
		removed := false
		for key, n := range e.notifications {
			if TypeCategory[n.Key.Type] == c {
				delete(e.notifications, key)
				delete(e.display, key)
				removed = true
			}
		}
		if removed {
			e.persistLocked(ctx)
		}
	}

	e.persistPreferencesLocked(ctx)
}

// SetPushEnabled flips the native push opt-in.
func (e *Engine) SetPushEnabled(ctx context.Context, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prefs.PushEnabled = enabled
	e.persistPreferencesLocked(ctx)
}

// Preferences returns a copy of the current preferences.
func (e *Engine) Preferences() Preferences {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.prefs
	out.Categories = make(map[Category]bool, len(e.prefs.Categories))
	for k, v := range e.prefs.Categories {
		out.Categories[k] = v
	}
	return out
}

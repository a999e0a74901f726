// Package remap holds the remapping rule state and the pure keyboard event
// transformation that applies it.
package remap

import (
	"log/slog"
	"sync"

	"github.com/kclejeune/kestrel/internal/grabber"
	"github.com/kclejeune/kestrel/internal/keycode"
)

// Rules is the manipulator the command receiver mutates: three from→to
// tables, the system preferences values, and the dispatcher-attached flag.
// Mutations arrive on the dispatch goroutine while device pumps read
// concurrently, so all access goes through one RWMutex.
type Rules struct {
	mu         sync.RWMutex
	simple     map[keycode.Code]keycode.Code
	fn         map[keycode.Code]keycode.Code
	standalone map[keycode.Code]keycode.Code
	prefs      grabber.Preferences
	dispatcher bool
}

var _ grabber.Manipulator = (*Rules)(nil)

func NewRules() *Rules {
	return &Rules{
		simple:     make(map[keycode.Code]keycode.Code),
		fn:         make(map[keycode.Code]keycode.Code),
		standalone: make(map[keycode.Code]keycode.Code),
	}
}

func (r *Rules) CreateEventDispatcherClient() {
	r.mu.Lock()
	defer r.mu.Unlock()
	slog.Debug("event dispatcher client created", "already_attached", r.dispatcher)
	r.dispatcher = true
}

func (r *Rules) SetSystemPreferencesValues(v grabber.Preferences) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs = v
}

func (r *Rules) ClearSimpleModifications() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.simple = make(map[keycode.Code]keycode.Code)
}

func (r *Rules) AddSimpleModification(from, to keycode.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.simple[from] = to
}

func (r *Rules) ClearFnFunctionKeys() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fn = make(map[keycode.Code]keycode.Code)
}

func (r *Rules) AddFnFunctionKey(from, to keycode.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fn[from] = to
}

func (r *Rules) ClearStandaloneModifiers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.standalone = make(map[keycode.Code]keycode.Code)
}

func (r *Rules) AddStandaloneModifier(from, to keycode.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.standalone[from] = to
}

// Preferences returns the last values forwarded from the console user
// server.
func (r *Rules) Preferences() grabber.Preferences {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prefs
}

// mapCode runs the table stages that need no per-key state: the simple
// modification, then the fn function key override when the preferences say
// the fn row is in media mode.
func (r *Rules) mapCode(c keycode.Code) keycode.Code {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if to, ok := r.simple[c]; ok {
		c = to
	}
	if r.prefs.KeyboardFnState {
		if to, ok := r.fn[c]; ok {
			c = to
		}
	}
	return c
}

func (r *Rules) standaloneFor(c keycode.Code) (keycode.Code, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	to, ok := r.standalone[c]
	return to, ok
}

package remap

import "github.com/kclejeune/kestrel/internal/keycode"

// Key event values, matching the evdev convention.
const (
	ValueRelease int32 = 0
	ValuePress   int32 = 1
	ValueRepeat  int32 = 2
)

// Event is one key transition.
type Event struct {
	Code  keycode.Code
	Value int32
}

// pendingKey is a standalone-modifier press whose outcome is still
// undecided: alone (emit the standalone key) or held (emit the original).
type pendingKey struct {
	physical   keycode.Code
	mapped     keycode.Code
	standalone keycode.Code
}

// Transformer applies the rule tables to one device's event stream. It
// remembers the code each physical key was emitted as, so a press and its
// release stay paired even when the tables change in between, and it defers
// standalone-modifier presses until their alone/held outcome is known.
//
// A Transformer is not safe for concurrent use; each device pump owns one.
type Transformer struct {
	rules   *Rules
	pressed map[keycode.Code]keycode.Code
	pending *pendingKey
}

func NewTransformer(rules *Rules) *Transformer {
	return &Transformer{
		rules:   rules,
		pressed: make(map[keycode.Code]keycode.Code),
	}
}

// Transform consumes one input event and returns the events to emit, which
// may be none (a deferred standalone press) or several (an alone tap, or a
// flush of a deferred press followed by the current event).
func (t *Transformer) Transform(ev Event) []Event {
	var out []Event

	// Any other key deciding the outcome means the deferred press was a
	// held modifier after all.
	if t.pending != nil && ev.Code != t.pending.physical {
		t.pressed[t.pending.physical] = t.pending.mapped
		out = append(out, Event{Code: t.pending.mapped, Value: ValuePress})
		t.pending = nil
	}

	if t.pending != nil {
		if ev.Value == ValueRelease {
			out = append(out,
				Event{Code: t.pending.standalone, Value: ValuePress},
				Event{Code: t.pending.standalone, Value: ValueRelease},
			)
			t.pending = nil
		}
		// Repeats stay swallowed while the outcome is undecided.
		return out
	}

	switch ev.Value {
	case ValuePress:
		mapped := t.rules.mapCode(ev.Code)
		if alone, ok := t.rules.standaloneFor(mapped); ok {
			t.pending = &pendingKey{physical: ev.Code, mapped: mapped, standalone: alone}
			return out
		}
		t.pressed[ev.Code] = mapped
		out = append(out, Event{Code: mapped, Value: ValuePress})

	case ValueRepeat:
		mapped, ok := t.pressed[ev.Code]
		if !ok {
			mapped = t.rules.mapCode(ev.Code)
		}
		out = append(out, Event{Code: mapped, Value: ValueRepeat})

	case ValueRelease:
		mapped, ok := t.pressed[ev.Code]
		if ok {
			delete(t.pressed, ev.Code)
		} else {
			mapped = t.rules.mapCode(ev.Code)
		}
		out = append(out, Event{Code: mapped, Value: ValueRelease})

	default:
		out = append(out, ev)
	}
	return out
}

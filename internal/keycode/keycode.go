// Package keycode maps human-readable key names to Linux evdev key codes.
//
// Names are the vocabulary profile files use ("caps_lock", "escape",
// "volume_up"); codes are the values carried on the wire and written to
// devices. The table covers the keys a keyboard remapper plausibly touches,
// not the whole evdev space; unknown names are the caller's problem to skip.
package keycode

import "strings"

// Code is an evdev key code (input-event-codes.h KEY_* value).
type Code int32

// Max is the largest valid key code (KEY_MAX).
const Max Code = 0x2ff

// Valid reports whether c is inside the evdev key code range.
func Valid(c Code) bool {
	return c >= 0 && c <= Max
}

// names holds the canonical name for each code. Reverse lookups use this
// table only, so every code appears exactly once.
var names = map[string]Code{
	"escape": 1, "tab": 15, "return": 28, "spacebar": 57,
	"delete_or_backspace": 14, "delete_forward": 111, "insert": 110,

	"1": 2, "2": 3, "3": 4, "4": 5, "5": 6,
	"6": 7, "7": 8, "8": 9, "9": 10, "0": 11,

	"q": 16, "w": 17, "e": 18, "r": 19, "t": 20,
	"y": 21, "u": 22, "i": 23, "o": 24, "p": 25,
	"a": 30, "s": 31, "d": 32, "f": 33, "g": 34,
	"h": 35, "j": 36, "k": 37, "l": 38,
	"z": 44, "x": 45, "c": 46, "v": 47, "b": 48,
	"n": 49, "m": 50,

	"hyphen": 12, "equal_sign": 13, "open_bracket": 26, "close_bracket": 27,
	"semicolon": 39, "quote": 40, "grave": 41, "backslash": 43,
	"comma": 51, "period": 52, "slash": 53,

	"left_control": 29, "left_shift": 42, "left_option": 56, "left_command": 125,
	"right_control": 97, "right_shift": 54, "right_option": 100, "right_command": 126,
	"caps_lock": 58, "application": 127, "menu": 139,

	"f1": 59, "f2": 60, "f3": 61, "f4": 62, "f5": 63, "f6": 64,
	"f7": 65, "f8": 66, "f9": 67, "f10": 68, "f11": 87, "f12": 88,
	"f13": 183, "f14": 184, "f15": 185, "f16": 186, "f17": 187, "f18": 188,
	"f19": 189, "f20": 190, "f21": 191, "f22": 192, "f23": 193, "f24": 194,

	"home": 102, "end": 107, "page_up": 104, "page_down": 109,
	"up_arrow": 103, "down_arrow": 108, "left_arrow": 105, "right_arrow": 106,

	"num_lock": 69, "scroll_lock": 70, "print_screen": 99, "pause": 119,

	"keypad_0": 82, "keypad_1": 79, "keypad_2": 80, "keypad_3": 81,
	"keypad_4": 75, "keypad_5": 76, "keypad_6": 77, "keypad_7": 71,
	"keypad_8": 72, "keypad_9": 73,
	"keypad_period": 83, "keypad_enter": 96, "keypad_plus": 78,
	"keypad_hyphen": 74, "keypad_asterisk": 55, "keypad_slash": 98,
	"keypad_equal_sign": 117, "keypad_comma": 121,

	"mute": 113, "volume_down": 114, "volume_up": 115,
	"next_song": 163, "play_or_pause": 164, "previous_song": 165,
	"brightness_down": 224, "brightness_up": 225,
	"illumination_toggle": 228, "illumination_down": 229, "illumination_up": 230,
	"scale": 120, "cycle_windows": 154, "all_applications": 204,
	"search": 217, "power": 116, "mic_mute": 248,
}

// aliases accepts common alternative spellings on lookup only.
var aliases = map[string]Code{
	"esc": 1, "enter": 28, "backspace": 14, "space": 57,
	"minus": 12, "equal": 13, "apostrophe": 40, "capslock": 58,
	"left_ctrl": 29, "right_ctrl": 97, "left_alt": 56, "right_alt": 100,
	"left_meta": 125, "right_meta": 126, "left_gui": 125, "right_gui": 126,
	"up": 103, "down": 108, "left": 105, "right": 106,
	"play_pause": 164, "launchpad": 204, "mission_control": 120,
}

var codeNames map[Code]string

func init() {
	codeNames = make(map[Code]string, len(names))
	for name, code := range names {
		codeNames[code] = name
	}
}

// Lookup resolves a key name to its code. Matching is case-insensitive and
// accepts a handful of aliases alongside the canonical names.
func Lookup(name string) (Code, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if c, ok := names[n]; ok {
		return c, true
	}
	if c, ok := aliases[n]; ok {
		return c, true
	}
	return 0, false
}

// Name returns the canonical name for a code, or "" if the code is not in
// the table. Useful for logs only; the wire always carries codes.
func Name(c Code) string {
	return codeNames[c]
}

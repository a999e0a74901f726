// Package profile reads the user's profiles document and resolves it into
// key-code rules.
package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/kclejeune/kestrel/internal/keycode"
)

// Document is the on-disk profiles file.
type Document struct {
	Profiles []Profile `json:"profiles"`
}

// Profile is one named rule collection. Key names resolve through the
// key-code table when the profile is applied.
type Profile struct {
	Name                string            `json:"name"`
	Selected            bool              `json:"selected,omitempty"`
	KeyboardFnState     bool              `json:"keyboard_fn_state,omitempty"`
	SimpleModifications map[string]string `json:"simple_modifications,omitempty"`
	FnFunctionKeys      map[string]string `json:"fn_function_keys,omitempty"`
	StandaloneModifiers map[string]string `json:"standalone_modifiers,omitempty"`
	CapsLockLed         *bool             `json:"caps_lock_led,omitempty"`
}

// Rule is one resolved from→to remapping.
type Rule struct {
	From keycode.Code
	To   keycode.Code
}

// RuleSet is a profile resolved to wire-ready rules.
type RuleSet struct {
	Simple     []Rule
	Fn         []Rule
	Standalone []Rule
}

// Load reads and parses the profiles document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}
	return &doc, nil
}

// Selected returns the profile to apply: the first one marked selected,
// else the document's first profile, else the built-in default.
func (d *Document) Selected() Profile {
	for _, p := range d.Profiles {
		if p.Selected {
			return p
		}
	}
	if len(d.Profiles) > 0 {
		return d.Profiles[0]
	}
	return Default()
}

// Rules resolves the profile's key names. Unknown names are logged and
// skipped; rules are ordered by source name so applies are deterministic.
func (p Profile) Rules() RuleSet {
	return RuleSet{
		Simple:     p.resolve("simple_modifications", p.SimpleModifications),
		Fn:         p.resolve("fn_function_keys", p.FnFunctionKeys),
		Standalone: p.resolve("standalone_modifiers", p.StandaloneModifiers),
	}
}

func (p Profile) resolve(table string, pairs map[string]string) []Rule {
	names := make([]string, 0, len(pairs))
	for name := range pairs {
		names = append(names, name)
	}
	slices.Sort(names)

	var rules []Rule
	for _, fromName := range names {
		toName := pairs[fromName]
		from, ok := keycode.Lookup(fromName)
		if !ok {
			slog.Warn("skipping rule with unknown key name",
				"profile", p.Name, "table", table, "name", fromName)
			continue
		}
		to, ok := keycode.Lookup(toName)
		if !ok {
			slog.Warn("skipping rule with unknown key name",
				"profile", p.Name, "table", table, "name", toName)
			continue
		}
		rules = append(rules, Rule{From: from, To: to})
	}
	return rules
}

// Default is the profile used when no document exists: the fn row acts as
// the usual media row.
func Default() Profile {
	return Profile{
		Name:            "Default",
		Selected:        true,
		KeyboardFnState: true,
		FnFunctionKeys: map[string]string{
			"f1":  "brightness_down",
			"f2":  "brightness_up",
			"f3":  "scale",
			"f4":  "all_applications",
			"f5":  "illumination_down",
			"f6":  "illumination_up",
			"f7":  "previous_song",
			"f8":  "play_or_pause",
			"f9":  "next_song",
			"f10": "mute",
			"f11": "volume_down",
			"f12": "volume_up",
		},
	}
}

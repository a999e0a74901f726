package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kclejeune/kestrel/internal/keycode"
)

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndSelect(t *testing.T) {
	path := writeDoc(t, `{
  "profiles": [
    {"name": "Laptop"},
    {"name": "External", "selected": true,
     "simple_modifications": {"caps_lock": "left_control"}}
  ]
}`)

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(doc.Profiles) != 2 {
		t.Fatalf("profiles = %d, want 2", len(doc.Profiles))
	}

	p := doc.Selected()
	if p.Name != "External" {
		t.Errorf("Selected().Name = %q, want External", p.Name)
	}
}

func TestSelectedFallsBackToFirst(t *testing.T) {
	doc := &Document{Profiles: []Profile{{Name: "One"}, {Name: "Two"}}}
	if got := doc.Selected().Name; got != "One" {
		t.Errorf("Selected().Name = %q, want One", got)
	}
}

func TestSelectedEmptyDocument(t *testing.T) {
	doc := &Document{}
	if got := doc.Selected().Name; got != "Default" {
		t.Errorf("Selected().Name = %q, want Default", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Load() succeeded on missing file")
	}
}

func TestLoadBadJSON(t *testing.T) {
	path := writeDoc(t, `{"profiles": [`)
	if _, err := Load(path); err == nil {
		t.Error("Load() succeeded on malformed json")
	}
}

func TestRulesResolution(t *testing.T) {
	p := Profile{
		Name: "test",
		SimpleModifications: map[string]string{
			"caps_lock": "left_control",
			"a":         "b",
		},
		StandaloneModifiers: map[string]string{
			"left_control": "escape",
		},
	}

	rs := p.Rules()
	wantSimple := []Rule{
		{From: 30, To: 48}, // a → b
		{From: 58, To: 29}, // caps_lock → left_control
	}
	if len(rs.Simple) != len(wantSimple) {
		t.Fatalf("simple rules = %v, want %v", rs.Simple, wantSimple)
	}
	for i, want := range wantSimple {
		if rs.Simple[i] != want {
			t.Errorf("simple rule %d = %v, want %v", i, rs.Simple[i], want)
		}
	}

	if len(rs.Standalone) != 1 || rs.Standalone[0] != (Rule{From: 29, To: 1}) {
		t.Errorf("standalone rules = %v, want [{29 1}]", rs.Standalone)
	}
	if len(rs.Fn) != 0 {
		t.Errorf("fn rules = %v, want none", rs.Fn)
	}
}

func TestRulesSkipsUnknownNames(t *testing.T) {
	p := Profile{
		Name: "test",
		SimpleModifications: map[string]string{
			"caps_lock": "hyper_key",
			"warp_core": "escape",
			"a":         "b",
		},
	}

	rs := p.Rules()
	if len(rs.Simple) != 1 {
		t.Fatalf("simple rules = %v, want only the resolvable one", rs.Simple)
	}
	if rs.Simple[0] != (Rule{From: 30, To: 48}) {
		t.Errorf("simple rule = %v, want {30 48}", rs.Simple[0])
	}
}

func TestDefaultProfileResolves(t *testing.T) {
	rs := Default().Rules()
	if len(rs.Fn) != 12 {
		t.Fatalf("default fn rules = %d, want 12", len(rs.Fn))
	}

	byFrom := make(map[keycode.Code]keycode.Code, len(rs.Fn))
	for _, r := range rs.Fn {
		byFrom[r.From] = r.To
	}
	if got := byFrom[59]; got != 224 { // f1 → brightness_down
		t.Errorf("f1 maps to %d, want 224", got)
	}
	if got := byFrom[68]; got != 113 { // f10 → mute
		t.Errorf("f10 maps to %d, want 113", got)
	}
	if got := byFrom[88]; got != 115 { // f12 → volume_up
		t.Errorf("f12 maps to %d, want 115", got)
	}
}

func TestCapsLockLedOptional(t *testing.T) {
	path := writeDoc(t, `{
  "profiles": [
    {"name": "plain"},
    {"name": "lit", "caps_lock_led": true}
  ]
}`)

	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Profiles[0].CapsLockLed != nil {
		t.Error("absent caps_lock_led should stay nil")
	}
	led := doc.Profiles[1].CapsLockLed
	if led == nil || !*led {
		t.Error("caps_lock_led = nil or false, want true")
	}
}

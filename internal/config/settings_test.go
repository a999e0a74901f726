package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kclejeune/kestrel/internal/devices"
	"github.com/kclejeune/kestrel/internal/grabber"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		input string
		want  string
	}{
		{"~/kestrel.sock", filepath.Join(home, "kestrel.sock")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDefaults(t *testing.T) {
	s := Default()
	if s.Grabber.SocketPath != grabber.DefaultSocketPath {
		t.Errorf("default socket path = %q, want %q", s.Grabber.SocketPath, grabber.DefaultSocketPath)
	}
	if s.Grabber.PollInterval != Duration(time.Second) {
		t.Errorf("default poll interval = %v, want 1s", s.Grabber.PollInterval.Duration())
	}
	if s.Grabber.VirtualDeviceName != devices.DefaultVirtualName {
		t.Errorf("default virtual name = %q, want %q", s.Grabber.VirtualDeviceName, devices.DefaultVirtualName)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
[grabber]
socket_path = "/tmp/kestrel/grabber.sock"
poll_interval = "250ms"
console_user = 1000
virtual_device_name = "kbd-proxy"

[devices]
include = ["*keyboard*"]
exclude = ["*Mouse*", "Power Button"]

[agent]
profiles = "` + tmpDir + `/profiles.json"
`
	cfgFile := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if s.Grabber.SocketPath != "/tmp/kestrel/grabber.sock" {
		t.Errorf("socket path = %q", s.Grabber.SocketPath)
	}
	if s.Grabber.PollInterval.Duration() != 250*time.Millisecond {
		t.Errorf("poll interval = %v, want 250ms", s.Grabber.PollInterval.Duration())
	}
	if s.Grabber.ConsoleUser == nil || *s.Grabber.ConsoleUser != 1000 {
		t.Errorf("console user = %v, want pinned 1000", s.Grabber.ConsoleUser)
	}
	if len(s.Devices.Exclude) != 2 {
		t.Errorf("exclude globs = %v, want 2 entries", s.Devices.Exclude)
	}
}

func TestConsoleUserPin(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want *int
	}{
		{"unset resolves at startup", "", nil},
		{"explicit zero pins root", "[grabber]\nconsole_user = 0\n", ptr(0)},
		{"explicit uid pins it", "[grabber]\nconsole_user = 1000\n", ptr(1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgFile := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(cfgFile, []byte(tt.toml), 0o644); err != nil {
				t.Fatal(err)
			}

			s, err := Load(cfgFile)
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}

			got := s.Grabber.ConsoleUser
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("console user = %d, want unset", *got)
			case tt.want != nil && got == nil:
				t.Errorf("console user unset, want pinned %d", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("console user = %d, want %d", *got, *tt.want)
			}
		})
	}
}

func ptr(uid int) *int { return &uid }

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(cfgFile, []byte("[devices]\ninclude = [\"*\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if s.Grabber.SocketPath != grabber.DefaultSocketPath {
		t.Errorf("socket path = %q, want default", s.Grabber.SocketPath)
	}
	if s.Grabber.PollInterval != Duration(time.Second) {
		t.Errorf("poll interval = %v, want default 1s", s.Grabber.PollInterval.Duration())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"relative socket path", func(s *Settings) { s.Grabber.SocketPath = "run/grabber.sock" }},
		{"zero poll interval", func(s *Settings) { s.Grabber.PollInterval = 0 }},
		{"negative console user", func(s *Settings) { uid := -1; s.Grabber.ConsoleUser = &uid }},
		{"empty virtual name", func(s *Settings) { s.Grabber.VirtualDeviceName = "" }},
		{"bad include glob", func(s *Settings) { s.Devices.Include = []string{"[oops"} }},
		{"bad exclude glob", func(s *Settings) { s.Devices.Exclude = []string{"[oops"} }},
		{"empty profiles path", func(s *Settings) { s.Agent.Profiles = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)
			if err := s.Validate(); err == nil {
				t.Error("Validate() succeeded, want error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load() error = %v, want not-exist", err)
	}
}

func TestLoadBadToml(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgFile, []byte("[grabber\nsocket_path="), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgFile); err == nil {
		t.Error("Load() succeeded on malformed toml")
	}
}

func TestLoadBadDuration(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgFile, []byte("[grabber]\npoll_interval = \"soon\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgFile); err == nil {
		t.Error("Load() succeeded on unparsable duration")
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	s, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}
	if s.Grabber.SocketPath != grabber.DefaultSocketPath {
		t.Errorf("socket path = %q, want default", s.Grabber.SocketPath)
	}

	// An explicit path must not fall back.
	if _, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("LoadOrDefault(explicit missing path) succeeded, want error")
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("500ms")); err != nil {
		t.Errorf("unexpected error for '500ms': %v", err)
	}
	if d.Duration() != 500*time.Millisecond {
		t.Errorf("got %v, want 500ms", d.Duration())
	}

	if err := d.UnmarshalText([]byte("banana")); err == nil {
		t.Error("expected error for invalid duration")
	}
}

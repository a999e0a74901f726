// Package config loads the daemon and agent settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kclejeune/kestrel/internal/devices"
	"github.com/kclejeune/kestrel/internal/grabber"
)

// Duration wraps time.Duration with TOML text unmarshalling.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type Settings struct {
	Grabber GrabberConfig `toml:"grabber"`
	Devices DeviceConfig  `toml:"devices"`
	Agent   AgentConfig   `toml:"agent"`
}

// GrabberConfig configures the privileged daemon.
type GrabberConfig struct {
	// SocketPath is where the command endpoint binds.
	SocketPath string `toml:"socket_path"`
	// PollInterval bounds the receive loop's shutdown latency.
	PollInterval Duration `toml:"poll_interval"`
	// ConsoleUser pins the trusted uid instead of asking logind for the
	// active seat. Nil means resolve at startup; an explicit 0 pins root.
	ConsoleUser *int `toml:"console_user"`
	// VirtualDeviceName is the name the virtual output keyboard registers
	// under.
	VirtualDeviceName string `toml:"virtual_device_name"`
}

// DeviceConfig filters which input devices get grabbed, by device name
// glob. An empty include list means every keyboard.
type DeviceConfig struct {
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

// AgentConfig configures the per-user agent.
type AgentConfig struct {
	// Profiles is the JSON profiles document the agent pushes rules from.
	Profiles string `toml:"profiles"`
}

func Default() *Settings {
	return &Settings{
		Grabber: GrabberConfig{
			SocketPath:        grabber.DefaultSocketPath,
			PollInterval:      Duration(time.Second),
			VirtualDeviceName: devices.DefaultVirtualName,
		},
		Agent: AgentConfig{
			Profiles: DefaultProfilePath(),
		},
	}
}

// Load reads the settings file, falling back to
// $XDG_CONFIG_HOME/kestrel/config.toml or ~/.config/kestrel/config.toml.
func Load(file string) (*Settings, error) {
	if file == "" {
		file = DefaultConfigPath()
	}
	file = ExpandPath(file)

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	s := Default()
	if err := toml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	s.Grabber.SocketPath = ExpandPath(s.Grabber.SocketPath)
	s.Agent.Profiles = ExpandPath(s.Agent.Profiles)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return s, nil
}

// LoadOrDefault behaves like Load, except that a missing file at the
// default location falls back to the built-in defaults. An explicitly
// requested file that is missing is still an error.
func LoadOrDefault(file string) (*Settings, error) {
	if file != "" {
		return Load(file)
	}
	s, err := Load("")
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return s, err
}

func (s *Settings) Validate() error {
	if !filepath.IsAbs(s.Grabber.SocketPath) {
		return fmt.Errorf("socket_path must be absolute, got %q", s.Grabber.SocketPath)
	}
	if s.Grabber.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", s.Grabber.PollInterval.Duration())
	}
	if s.Grabber.ConsoleUser != nil && *s.Grabber.ConsoleUser < 0 {
		return fmt.Errorf("console_user must be a uid, got %d", *s.Grabber.ConsoleUser)
	}
	if s.Grabber.VirtualDeviceName == "" {
		return fmt.Errorf("virtual_device_name must not be empty")
	}

	for _, pat := range s.Devices.Include {
		if _, err := path.Match(pat, ""); err != nil {
			return fmt.Errorf("invalid device include glob: %q", pat)
		}
	}
	for _, pat := range s.Devices.Exclude {
		if _, err := path.Match(pat, ""); err != nil {
			return fmt.Errorf("invalid device exclude glob: %q", pat)
		}
	}

	if s.Agent.Profiles == "" {
		return fmt.Errorf("profiles path must not be empty")
	}
	return nil
}

func ExpandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	return os.ExpandEnv(p)
}

// DefaultConfigPath is /etc for the root daemon and XDG for everyone else.
func DefaultConfigPath() string {
	if os.Geteuid() == 0 {
		return "/etc/kestrel/config.toml"
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kestrel", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "kestrel", "config.toml")
}

func DefaultProfilePath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kestrel", "profiles.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "kestrel", "profiles.json")
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kclejeune/kestrel/internal/config"
	"github.com/kclejeune/kestrel/internal/keycode"
	"github.com/kclejeune/kestrel/internal/profile"
)

const defaultSettingsTemplate = `# kestrel daemon settings

[grabber]
socket_path = "/run/kestrel/grabber.sock"
poll_interval = "1s"
virtual_device_name = "kestrel-virtual-keyboard"
# console_user = 1000            # pin the trusted uid (default: ask logind)

[devices]
# include = ["AT Translated*"]   # device name globs; empty grabs every keyboard
exclude = []

[agent]
profiles = "~/.config/kestrel/profiles.json"
`

const defaultProfilesTemplate = `{
  "profiles": [
    {
      "name": "Default",
      "selected": true,
      "keyboard_fn_state": true,
      "fn_function_keys": {
        "f1": "brightness_down",
        "f2": "brightness_up",
        "f3": "scale",
        "f4": "all_applications",
        "f5": "illumination_down",
        "f6": "illumination_up",
        "f7": "previous_song",
        "f8": "play_or_pause",
        "f9": "next_song",
        "f10": "mute",
        "f11": "volume_down",
        "f12": "volume_up"
      }
    },
    {
      "name": "Example",
      "simple_modifications": {
        "caps_lock": "left_control"
      },
      "standalone_modifiers": {
        "left_control": "escape"
      }
    }
  ]
}
`

func cfgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Aliases: []string{"cfg"},
		Short:   "Show and manage settings and profiles",
		GroupID: "debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow()
		},
	}

	cmd.AddCommand(cfgShowCmd())
	cmd.AddCommand(cfgInitCmd())
	cmd.AddCommand(cfgValidateCmd())
	cmd.AddCommand(cfgEditCmd())
	return cmd
}

func cfgShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved settings and selected profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow()
		},
	}
}

func runShow() error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	path = config.ExpandPath(path)

	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	if _, statErr := os.Stat(path); statErr == nil {
		fmt.Printf("settings: %s\n", path)
	} else {
		fmt.Printf("settings: %s (not present, using defaults)\n", path)
	}
	fmt.Printf("  socket_path          %s\n", resolveSocket(cfg))
	fmt.Printf("  poll_interval        %s\n", cfg.Grabber.PollInterval.Duration())
	if cfg.Grabber.ConsoleUser != nil {
		fmt.Printf("  console_user         %d\n", *cfg.Grabber.ConsoleUser)
	} else {
		fmt.Printf("  console_user         (resolved at startup)\n")
	}
	fmt.Printf("  virtual_device_name  %s\n", cfg.Grabber.VirtualDeviceName)
	fmt.Printf("  include              %s\n", globList(cfg.Devices.Include, "(all keyboards)"))
	fmt.Printf("  exclude              %s\n", globList(cfg.Devices.Exclude, "(none)"))
	fmt.Printf("  profiles             %s\n", cfg.Agent.Profiles)

	doc, err := profile.Load(cfg.Agent.Profiles)
	var p profile.Profile
	switch {
	case err == nil:
		p = doc.Selected()
		fmt.Printf("\nprofile: %s (selected, of %d)\n", p.Name, len(doc.Profiles))
	case errors.Is(err, fs.ErrNotExist):
		p = profile.Default()
		fmt.Printf("\nprofile: %s (built-in, no profiles file)\n", p.Name)
	default:
		return fmt.Errorf("loading profiles: %w", err)
	}

	onOff := "off"
	if p.KeyboardFnState {
		onOff = "on"
	}
	fmt.Printf("  keyboard_fn_state    %s\n", onOff)
	if p.CapsLockLed != nil {
		led := "off"
		if *p.CapsLockLed {
			led = "on"
		}
		fmt.Printf("  caps_lock_led        %s\n", led)
	}

	rs := p.Rules()
	printRules("simple_modifications", rs.Simple)
	printRules("fn_function_keys", rs.Fn)
	printRules("standalone_modifiers", rs.Standalone)
	return nil
}

func globList(pats []string, empty string) string {
	if len(pats) == 0 {
		return empty
	}
	return strings.Join(pats, ", ")
}

func printRules(table string, rules []profile.Rule) {
	if len(rules) == 0 {
		return
	}
	fmt.Printf("  %s:\n", table)
	for _, r := range rules {
		fmt.Printf("    %-20s -> %s\n", keyLabel(r.From), keyLabel(r.To))
	}
}

func cfgInitCmd() *cobra.Command {
	var settings bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter profiles file",
		Long: `Create a starter profiles document at the configured location.

The starter document holds a selected "Default" profile (fn row as media
keys) and an unselected "Example" showing the other rule tables. Use
--settings to create the daemon settings file instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path, content string

			if settings {
				path = cfgFile
				if path == "" {
					path = config.DefaultConfigPath()
				}
				path = config.ExpandPath(path)
				content = defaultSettingsTemplate
			} else {
				cfg, err := config.LoadOrDefault(cfgFile)
				if err != nil {
					return fmt.Errorf("loading settings: %w", err)
				}
				path = cfg.Agent.Profiles
				content = defaultProfilesTemplate
			}

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("file already exists: %s", path)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				return fmt.Errorf("writing file: %w", err)
			}

			fmt.Fprintf(os.Stderr, "created %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&settings, "settings", false, "create the daemon settings file instead of the profiles file")
	return cmd
}

func cfgValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate settings and profiles without starting anything",
		Long: `Check the settings file and the profiles document for errors.

Validates TOML and JSON syntax, settings ranges, duplicate profile names,
and that every key name in every profile resolves to a key code. Exits
non-zero if any errors are found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(cfgFile)
			if err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			fmt.Fprintf(os.Stderr, "settings: ok\n")

			doc, err := profile.Load(cfg.Agent.Profiles)
			if errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "profiles: not present (agent will use the built-in default)\n")
				return nil
			}
			if err != nil {
				return fmt.Errorf("profiles: %w", err)
			}

			var errs []error
			seen := make(map[string]bool)
			for _, p := range doc.Profiles {
				if seen[p.Name] {
					errs = append(errs, fmt.Errorf("profile %q: duplicate name", p.Name))
				}
				seen[p.Name] = true

				for _, name := range unresolvedNames(p) {
					errs = append(errs, fmt.Errorf("profile %q: unknown key name %q", p.Name, name))
				}
			}

			if len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintf(os.Stderr, "error: %v\n", e)
				}
				return fmt.Errorf("%d validation error(s)", len(errs))
			}

			fmt.Fprintf(os.Stderr, "profiles: ok (%d profile(s), selected %q)\n",
				len(doc.Profiles), doc.Selected().Name)
			return nil
		},
	}
}

// unresolvedNames returns the key names in p that the key table does not
// know, sorted and deduplicated.
func unresolvedNames(p profile.Profile) []string {
	tables := []map[string]string{
		p.SimpleModifications,
		p.FnFunctionKeys,
		p.StandaloneModifiers,
	}

	bad := make(map[string]bool)
	for _, table := range tables {
		for from, to := range table {
			if _, ok := keycode.Lookup(from); !ok {
				bad[from] = true
			}
			if _, ok := keycode.Lookup(to); !ok {
				bad[to] = true
			}
		}
	}
	return slices.Sorted(maps.Keys(bad))
}

func cfgEditCmd() *cobra.Command {
	var settings bool

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Open the profiles file in $EDITOR",
		Long: `Open the profiles document in your editor.

Use --settings to edit the daemon settings file instead. The editor is
determined by $EDITOR, falling back to $VISUAL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = os.Getenv("VISUAL")
			}
			if editor == "" {
				return fmt.Errorf("$EDITOR is not set")
			}

			var target string
			if settings {
				target = cfgFile
				if target == "" {
					target = config.DefaultConfigPath()
				}
				target = config.ExpandPath(target)
			} else {
				cfg, err := config.LoadOrDefault(cfgFile)
				if err != nil {
					return fmt.Errorf("loading settings: %w", err)
				}
				target = cfg.Agent.Profiles
			}

			c := exec.Command(editor, target)
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			return c.Run()
		},
	}

	cmd.Flags().BoolVar(&settings, "settings", false, "edit the daemon settings file instead of the profiles file")
	return cmd
}

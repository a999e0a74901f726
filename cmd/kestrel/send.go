package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kclejeune/kestrel/internal/config"
	"github.com/kclejeune/kestrel/internal/grabber"
	"github.com/kclejeune/kestrel/internal/keycode"
)

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "send",
		Short:   "Send protocol commands to the grabber",
		GroupID: "debug",
		Long: `Speak the grabber protocol directly, without the agent.

Useful for poking at a running grabber: announce a console user server,
flip the fn-key preference, push individual rules, clear tables, or drive
the caps lock LED. "send connect" uses this shell's PID, so the grabber
releases the keyboards again when the shell exits.`,
	}

	cmd.AddCommand(sendConnectCmd())
	cmd.AddCommand(sendPrefsCmd())
	cmd.AddCommand(sendLedCmd())
	cmd.AddCommand(sendAddCmd())
	cmd.AddCommand(sendClearCmd())
	return cmd
}

// sendClient builds a protocol client from the resolved settings.
func sendClient() (*grabber.Client, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	client, err := grabber.NewClient(resolveSocket(cfg), os.Getuid())
	if err != nil {
		return nil, fmt.Errorf("connecting to grabber: %w", err)
	}
	return client, nil
}

func sendConnectCmd() *cobra.Command {
	var origin string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Announce a client to the grabber",
		Long: `Send a connect command carrying this process's PID.

With --origin console (the default) the grabber treats the calling shell
as the console user server: it grabs the keyboards and watches the shell's
process, ungrabbing when it exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := parseOrigin(origin)
			if err != nil {
				return err
			}

			client, err := sendClient()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Connect(o); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "sent connect (%s, pid %d)\n", o, os.Getpid())
			return nil
		},
	}

	cmd.Flags().StringVar(&origin, "origin", "console", "client origin: console or dispatcher")
	return cmd
}

func sendPrefsCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "prefs <on|off>",
		Short:     "Set the keyboard fn-state preference",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}

			client, err := sendClient()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.SystemPreferencesUpdated(grabber.Preferences{KeyboardFnState: on}); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "sent preferences (keyboard_fn_state=%v)\n", on)
			return nil
		},
	}
}

func sendLedCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "led <on|off>",
		Short:     "Set the caps lock LED",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			state := grabber.LedStateOff
			if on {
				state = grabber.LedStateOn
			}

			client, err := sendClient()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.SetCapsLockLedState(state); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "sent caps lock led %s\n", args[0])
			return nil
		},
	}
}

func sendAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <simple|fn|standalone> <from> <to>",
		Short: "Add a single remapping rule",
		Long: `Add one rule to a grabber table.

Keys are named ("caps_lock", "escape", "f1") or given as raw evdev codes.
Rules sent this way last until the next clear or agent resync.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseKey(args[1])
			if err != nil {
				return err
			}
			to, err := parseKey(args[2])
			if err != nil {
				return err
			}

			client, err := sendClient()
			if err != nil {
				return err
			}
			defer client.Close()

			switch args[0] {
			case "simple":
				err = client.AddSimpleModification(from, to)
			case "fn":
				err = client.AddFnFunctionKey(from, to)
			case "standalone":
				err = client.AddStandaloneModifier(from, to)
			default:
				return fmt.Errorf("unknown table %q: use simple, fn, or standalone", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "sent add %s %s -> %s\n", args[0], keyLabel(from), keyLabel(to))
			return nil
		},
	}
}

func sendClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "clear [simple|fn|standalone|all]",
		Short:     "Clear rule tables",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"simple", "fn", "standalone", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			table := "all"
			if len(args) > 0 {
				table = args[0]
			}

			client, err := sendClient()
			if err != nil {
				return err
			}
			defer client.Close()

			clears := map[string][]func() error{
				"simple":     {client.ClearSimpleModifications},
				"fn":         {client.ClearFnFunctionKeys},
				"standalone": {client.ClearStandaloneModifiers},
				"all": {
					client.ClearSimpleModifications,
					client.ClearFnFunctionKeys,
					client.ClearStandaloneModifiers,
				},
			}
			fns, ok := clears[table]
			if !ok {
				return fmt.Errorf("unknown table %q: use simple, fn, standalone, or all", table)
			}
			for _, clear := range fns {
				if err := clear(); err != nil {
					return err
				}
			}

			fmt.Fprintf(os.Stderr, "sent clear %s\n", table)
			return nil
		},
	}
}

func parseOrigin(s string) (grabber.Origin, error) {
	switch s {
	case "console", "console_user_server":
		return grabber.OriginConsoleUserServer, nil
	case "dispatcher", "event_dispatcher":
		return grabber.OriginEventDispatcher, nil
	}
	return 0, fmt.Errorf("unknown origin %q: use console or dispatcher", s)
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

// parseKey resolves a key argument: a name from the key table, or a raw
// evdev code.
func parseKey(s string) (keycode.Code, error) {
	if c, ok := keycode.Lookup(s); ok {
		return c, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown key %q", s)
	}
	c := keycode.Code(n)
	if !keycode.Valid(c) {
		return 0, fmt.Errorf("key code %d out of range", n)
	}
	return c, nil
}

// keyLabel prints a code by name when the table knows it.
func keyLabel(c keycode.Code) string {
	if n := keycode.Name(c); n != "" {
		return n
	}
	return strconv.Itoa(int(c))
}

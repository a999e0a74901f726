package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/kclejeune/kestrel/internal/config"
	"github.com/kclejeune/kestrel/internal/profile"
	"github.com/kclejeune/kestrel/internal/session"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"dr"},
		Short:   "Diagnose common issues",
		GroupID: "debug",
		Long: `Run a series of checks to diagnose common issues:

  - Settings file validity
  - Console user resolution
  - Profiles document and key name resolution
  - Socket presence, type, and ownership
  - /dev/input and /dev/uinput access
  - Grabber and agent liveness`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var issues int

			// 1. Settings.
			cfg, err := config.LoadOrDefault(cfgFile)
			if err != nil {
				printCheck(false, "settings: %v", err)
				issues++
				// Cannot continue without settings.
				return printSummary(issues)
			}
			printCheck(true, "settings loaded")

			// 2. Console user.
			var uid int
			if pin := cfg.Grabber.ConsoleUser; pin != nil {
				uid = *pin
				printCheck(true, "console user pinned: uid %d", uid)
			} else if uid, err = session.ConsoleUserID(); err != nil {
				printCheck(false, "console user: %v (set grabber.console_user to pin one)", err)
				issues++
			} else {
				printCheck(true, "console user: uid %d", uid)
			}

			// 3. Profiles.
			doc, err := profile.Load(cfg.Agent.Profiles)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				printCheck(true, "profiles: not present (agent will use the built-in default)")
			case err != nil:
				printCheck(false, "profiles: %v", err)
				issues++
			default:
				printCheck(true, "profiles: %d profile(s), selected %q",
					len(doc.Profiles), doc.Selected().Name)
				for _, p := range doc.Profiles {
					if bad := unresolvedNames(p); len(bad) > 0 {
						printCheck(false, "profile %q: unknown key name(s): %s",
							p.Name, strings.Join(bad, ", "))
						issues++
					}
				}
			}

			// 4. Socket.
			issues += checkSocket(resolveSocket(cfg), uid)

			// 5. Device nodes.
			issues += checkDeviceNodes()

			// 6. Daemon liveness. Not counted as issues — either daemon
			// may be intentionally stopped.
			for _, role := range roleArgs {
				if pid, alive := livePID(role); alive {
					printCheck(true, "%s is running (pid %d)", role, pid)
				} else {
					printCheck(false, "%s is not running", role)
				}
			}

			return printSummary(issues)
		},
	}
}

func checkSocket(path string, uid int) (issues int) {
	info, err := os.Lstat(path)
	if err != nil {
		// Missing socket just means the grabber is down; liveness below
		// covers that.
		printCheck(false, "socket %s: not present", path)
		return 0
	}

	if info.Mode()&os.ModeSocket == 0 {
		printCheck(false, "socket %s: exists but is not a socket", path)
		return 1
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		printCheck(false, "socket %s: mode %04o, want 0600", path, perm)
		issues++
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok && int(st.Uid) != uid {
		printCheck(false, "socket %s: owned by uid %d, want %d", path, st.Uid, uid)
		issues++
	}
	if issues == 0 {
		printCheck(true, "socket %s (mode 0600, owned by uid %d)", path, uid)
	}
	return issues
}

func checkDeviceNodes() (issues int) {
	events, _ := filepath.Glob("/dev/input/event*")
	if len(events) == 0 {
		printCheck(false, "/dev/input: no event devices found")
		issues++
	} else {
		unreadable := 0
		for _, ev := range events {
			if unix.Access(ev, unix.R_OK) != nil {
				unreadable++
			}
		}
		if unreadable > 0 {
			printCheck(false, "/dev/input: %d of %d event device(s) not readable (the grabber needs root or the input group)",
				unreadable, len(events))
			issues++
		} else {
			printCheck(true, "/dev/input: %d event device(s) readable", len(events))
		}
	}

	switch err := unix.Access("/dev/uinput", unix.W_OK); {
	case err == nil:
		printCheck(true, "/dev/uinput writable")
	case errors.Is(err, fs.ErrNotExist):
		printCheck(false, "/dev/uinput: missing (modprobe uinput)")
		issues++
	default:
		printCheck(false, "/dev/uinput: not writable (the grabber needs root)")
		issues++
	}
	return issues
}

func printCheck(ok bool, format string, args ...any) {
	prefix := "ok"
	if !ok {
		prefix = "!!"
	}
	msg := fmt.Sprintf(format, args...)
	// Indent continuation lines.
	msg = strings.ReplaceAll(msg, "\n", "\n      ")
	fmt.Fprintf(os.Stderr, "  [%s] %s\n", prefix, msg)
}

func printSummary(issues int) error {
	fmt.Fprintln(os.Stderr)
	if issues == 0 {
		fmt.Fprintln(os.Stderr, "No issues found.")
		return nil
	}
	return fmt.Errorf("%d issue(s) found", issues)
}

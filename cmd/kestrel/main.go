// Package main is the CLI entry point for kestrel.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/kclejeune/kestrel/internal/config"
)

var (
	cfgFile  string
	sockPath string
	verbose  bool
	quiet    bool
)

// The two daemon roles. Most management commands operate on one of them.
const (
	roleGrabber = "grabber"
	roleAgent   = "agent"
)

var roleArgs = []string{roleGrabber, roleAgent}

func main() {
	root := &cobra.Command{
		Use:   "kestrel",
		Short: "Keyboard remapping via a privileged grab daemon",
		Long: `kestrel grabs physical keyboards, rewrites key events against per-user
profiles, and replays them through a virtual device. The privileged grabber
owns the hardware; the per-user agent pushes remapping rules to it over a
unix datagram socket.`,
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	}

	root.PersistentFlags().
		StringVarP(&cfgFile, "config", "c", "", "settings file (default: /etc/kestrel/config.toml as root, ~/.config/kestrel/config.toml otherwise)")
	root.PersistentFlags().
		StringVarP(&sockPath, "socket", "s", "", "grabber socket path (overrides settings)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational output")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	root.AddGroup(
		&cobra.Group{ID: "daemon", Title: "Daemon:"},
		&cobra.Group{ID: "service", Title: "Service:"},
		&cobra.Group{ID: "debug", Title: "Debug:"},
	)

	root.AddCommand(grabberCmd())
	root.AddCommand(agentCmd())
	root.AddCommand(stopCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(logsCmd())
	root.AddCommand(serviceCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(cfgCmd())
	root.AddCommand(doctorCmd())

	if err := fang.Execute(context.Background(), root); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	setupLoggingWithWriter(os.Stderr)
}

func setupLoggingWithWriter(w io.Writer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else if quiet {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}

// resolveSocket applies the --socket override on top of the settings file.
func resolveSocket(cfg *config.Settings) string {
	if sockPath != "" {
		return config.ExpandPath(sockPath)
	}
	return cfg.Grabber.SocketPath
}

// stateDir returns the kestrel state directory under XDG_STATE_HOME.
func stateDir() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "kestrel")
}

// pidFilePath returns the PID file for a role. The grabber normally runs
// as root and keeps its PID under /run; everything else lives in the
// caller's state directory.
func pidFilePath(role string) string {
	if role == roleGrabber && os.Geteuid() == 0 {
		return "/run/kestrel/grabber.pid"
	}
	return filepath.Join(stateDir(), role+".pid")
}

// readPID reads and parses a role's PID file.
func readPID(role string) (int, error) {
	data, err := os.ReadFile(pidFilePath(role))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing PID: %w", err)
	}
	return pid, nil
}

// acquirePIDLock opens a role's PID file with an exclusive flock. Returns
// the locked file (caller must release via releasePIDLock) or an error if
// another instance holds the lock.
func acquirePIDLock(role string) (*os.File, error) {
	path := pidFilePath(role)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another kestrel %s is running (could not lock %s)", role, path)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func releasePIDLock(f *os.File) {
	path := f.Name()
	f.Close()
	os.Remove(path)
	// Tidy the runtime directory too; Remove fails unless it is empty.
	os.Remove(filepath.Dir(path))
}

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	svc "github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// Service management via kardianos/service. The grabber installs as a
// system service (it needs the device nodes); the agent installs as a
// user service in the console user's session.

func serviceName(role string) string {
	return "kestrel-" + role
}

// svcProgram is a no-op service.Interface. We only use kardianos/service
// for install/uninstall and OS-level start/stop, not for wrapping the run
// loop.
type svcProgram struct{}

func (p *svcProgram) Start(s svc.Service) error { return nil }
func (p *svcProgram) Stop(s svc.Service) error  { return nil }

func newServiceConfig(role, configPath string) *svc.Config {
	args := []string{role}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if sockPath != "" {
		args = append(args, "--socket", sockPath)
	}

	desc := "Privileged keyboard grab daemon"
	if role == roleAgent {
		desc = "Per-user keyboard remapping agent"
	}

	cfg := &svc.Config{
		Name:        serviceName(role),
		DisplayName: serviceName(role),
		Description: desc,
		Arguments:   args,
		Option: svc.KeyValue{
			"KeepAlive":    true,
			"RunAtLoad":    true,
			"LogOutput":    true,
			"LogDirectory": stateDir(),
		},
	}
	if role == roleAgent {
		cfg.Option["UserService"] = true
	}
	return cfg
}

// serviceInstalled checks whether a role's OS service is installed.
// Returns the service handle and true if installed, or nil and false
// otherwise.
func serviceInstalled(role string) (svc.Service, bool) {
	s, err := svc.New(&svcProgram{}, newServiceConfig(role, ""))
	if err != nil {
		return nil, false
	}
	_, err = s.Status()
	if errors.Is(err, svc.ErrNotInstalled) {
		return nil, false
	}
	// Any other error (or nil) means the service definition exists.
	return s, true
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "service",
		Aliases: []string{"svc"},
		Short:   "Manage the kestrel OS services (systemd/launchd)",
		GroupID: "service",
	}

	cmd.AddCommand(serviceInstallCmd())
	cmd.AddCommand(serviceUninstallCmd())
	cmd.AddCommand(serviceShowCmd())
	return cmd
}

func serviceInstallCmd() *cobra.Command {
	var noStart bool
	var force bool

	cmd := &cobra.Command{
		Use:       "install <grabber|agent>",
		Short:     "Install a kestrel daemon as an OS service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: roleArgs,
		Long: `Install the grabber as a system service or the agent as a user
service. Installing the grabber usually requires root.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			role := args[0]

			// Resolve config to an absolute path so the service definition
			// is stable.
			configPath := cfgFile
			if configPath != "" {
				abs, err := filepath.Abs(configPath)
				if err != nil {
					return fmt.Errorf("resolving config path: %w", err)
				}
				configPath = abs
			}

			s, err := svc.New(&svcProgram{}, newServiceConfig(role, configPath))
			if err != nil {
				return fmt.Errorf("creating service: %w", err)
			}

			if _, already := serviceInstalled(role); already {
				if !force {
					fmt.Fprintln(os.Stderr, "service already installed (use --force to reinstall)")
					return nil
				}
				fmt.Fprintln(os.Stderr, "service already installed, reinstalling")
				_ = s.Stop()
				if err := s.Uninstall(); err != nil {
					return fmt.Errorf("uninstalling existing service: %w", err)
				}
			}

			if err := s.Install(); err != nil {
				return fmt.Errorf("installing service: %w", err)
			}
			fmt.Fprintf(os.Stderr, "%s installed\n", serviceName(role))

			if !noStart {
				if err := s.Start(); err != nil {
					return fmt.Errorf("starting service: %w", err)
				}
				fmt.Fprintf(os.Stderr, "%s started\n", serviceName(role))
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "reinstall the service if already installed")
	cmd.Flags().BoolVar(&noStart, "no-start", false, "skip starting the service after installation")
	return cmd
}

func serviceUninstallCmd() *cobra.Command {
	var noStop bool

	cmd := &cobra.Command{
		Use:       "uninstall <grabber|agent>",
		Short:     "Uninstall a kestrel OS service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: roleArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			role := args[0]

			// Make uninstall idempotent: no-op if not installed.
			if _, installed := serviceInstalled(role); !installed {
				fmt.Fprintln(os.Stderr, "service not installed, nothing to do")
				return nil
			}

			s, err := svc.New(&svcProgram{}, newServiceConfig(role, ""))
			if err != nil {
				return fmt.Errorf("creating service: %w", err)
			}

			if !noStop {
				if err := s.Stop(); err != nil {
					fmt.Fprintf(os.Stderr, "failed to stop service before uninstall: %v\n", err)
				} else {
					fmt.Fprintf(os.Stderr, "%s stopped\n", serviceName(role))
				}
			}

			if err := s.Uninstall(); err != nil {
				return fmt.Errorf("uninstalling service: %w", err)
			}

			fmt.Fprintf(os.Stderr, "%s uninstalled\n", serviceName(role))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noStop, "no-stop", false, "skip stopping the service before uninstalling")
	return cmd
}

func serviceShowCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:       "show <grabber|agent>",
		Aliases:   []string{"cat", "print"},
		Short:     "Show the installed service unit (launchctl print / systemctl cat)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: roleArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			role := args[0]
			platform := svc.Platform()

			if !raw {
				switch {
				case strings.HasPrefix(platform, "darwin"):
					return launchctlPrint(role)
				case strings.Contains(platform, "systemd"):
					return systemctlCat(role)
				}
			}

			// --raw or unsupported platform: dump the unit file directly.
			return showRawUnit(role)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the raw unit file instead of formatted output")
	return cmd
}

func launchctlPrint(role string) error {
	var domains []string
	if role == roleAgent {
		uid := os.Getuid()
		domains = []string{
			fmt.Sprintf("gui/%d/%s", uid, serviceName(role)),
			fmt.Sprintf("user/%d/%s", uid, serviceName(role)),
		}
	} else {
		domains = []string{"system/" + serviceName(role)}
	}

	for _, domain := range domains {
		c := exec.Command("launchctl", "print", domain)
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err == nil {
			return nil
		}
	}
	// No namespace worked; fall back to the raw plist.
	return showRawUnit(role)
}

func systemctlCat(role string) error {
	args := []string{"cat", serviceName(role) + ".service"}
	if role == roleAgent {
		args = append([]string{"--user"}, args...)
	}
	c := exec.Command("systemctl", args...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return showRawUnit(role)
	}
	return nil
}

func serviceUnitPath(role string) string {
	platform := svc.Platform()
	switch {
	case strings.HasPrefix(platform, "darwin"):
		if role == roleAgent {
			home, _ := os.UserHomeDir()
			return filepath.Join(home, "Library", "LaunchAgents", serviceName(role)+".plist")
		}
		return filepath.Join("/Library", "LaunchDaemons", serviceName(role)+".plist")
	case strings.Contains(platform, "systemd"):
		if role == roleAgent {
			base := os.Getenv("XDG_CONFIG_HOME")
			if base == "" {
				home, _ := os.UserHomeDir()
				base = filepath.Join(home, ".config")
			}
			return filepath.Join(base, "systemd", "user", serviceName(role)+".service")
		}
		return filepath.Join("/etc", "systemd", "system", serviceName(role)+".service")
	}
	return ""
}

func showRawUnit(role string) error {
	path := serviceUnitPath(role)
	if path == "" {
		return fmt.Errorf("unsupported platform %q", svc.Platform())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("service not installed (no unit file at %s)", path)
		}
		return fmt.Errorf("reading unit file: %w", err)
	}

	fmt.Fprintf(os.Stderr, "# %s\n", path)
	_, err = os.Stdout.Write(data)
	return err
}

func logsCmd() *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:       "logs [grabber|agent]",
		Aliases:   []string{"log"},
		Short:     "Show daemon log output",
		GroupID:   "daemon",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: roleArgs,
		Long: `Show a daemon's log output (default: the grabber's).

With a systemd service installed this reads the journal; otherwise it
reads the log files the service manager keeps in the state directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			role := roleGrabber
			if len(args) > 0 {
				role = args[0]
			}

			if strings.Contains(svc.Platform(), "systemd") {
				if _, installed := serviceInstalled(role); installed {
					return journalTail(role, lines, follow)
				}
			}

			return tailFile(cmd, role, lines, follow)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 0, "show last N lines (0 = entire file)")
	return cmd
}

func journalTail(role string, lines int, follow bool) error {
	args := []string{"--no-pager"}
	if role == roleAgent {
		args = append(args, "--user")
	}
	args = append(args, "-u", serviceName(role))
	if lines > 0 {
		args = append(args, "-n", strconv.Itoa(lines))
	}
	if follow {
		args = append(args, "-f")
	}

	c := exec.Command("journalctl", args...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}

// roleLogCandidates lists where a role's log file may live: the service
// manager's capture file first, then a plain per-role file.
func roleLogCandidates(role string) []string {
	return []string{
		filepath.Join(stateDir(), serviceName(role)+".out.log"),
		filepath.Join(stateDir(), role+".log"),
	}
}

func tailFile(cmd *cobra.Command, role string, lines int, follow bool) error {
	var f *os.File
	var err error
	for _, path := range roleLogCandidates(role) {
		f, err = os.Open(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("no %s log file under %s (with a systemd service, try journalctl -u %s)",
			role, stateDir(), serviceName(role))
	}
	defer f.Close()

	if lines > 0 {
		if err := seekToLastNLines(f, lines); err != nil {
			return err
		}
	}

	if _, err := io.Copy(os.Stdout, f); err != nil {
		return fmt.Errorf("reading log file: %w", err)
	}

	if !follow {
		return nil
	}

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-time.After(200 * time.Millisecond):
		}

		if _, err := io.Copy(os.Stdout, f); err != nil {
			return fmt.Errorf("reading log file: %w", err)
		}
	}
}

// seekToLastNLines seeks the file to the start of the last n lines.
func seekToLastNLines(f *os.File, n int) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	// Read from the end in chunks to find newline positions.
	const chunkSize = 8192
	found := 0
	offset := size

	for offset > 0 && found <= n {
		readSize := min(int64(chunkSize), offset)
		offset -= readSize

		buf := make([]byte, readSize)
		if _, err := f.ReadAt(buf, offset); err != nil {
			return err
		}

		for i := len(buf) - 1; i >= 0; i-- {
			if buf[i] == '\n' {
				found++
				if found > n {
					// Seek past this newline.
					_, err := f.Seek(offset+int64(i)+1, io.SeekStart)
					return err
				}
			}
		}
	}

	// Fewer than n lines in the file; start from the beginning.
	_, err = f.Seek(0, io.SeekStart)
	return err
}

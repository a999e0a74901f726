package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "status [grabber|agent]",
		Short:     "Show daemon status",
		GroupID:   "daemon",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: roleArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			roles := roleArgs
			if len(args) > 0 {
				roles = args[:1]
			}
			for _, role := range roles {
				reportStatus(role)
			}
			return nil
		},
	}
}

func reportStatus(role string) {
	pid, err := readPID(role)
	if err != nil {
		fmt.Printf("%s is not running\n", role)
		return
	}

	// On Unix, FindProcess always succeeds; signal 0 checks liveness.
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Printf("%s is not running\n", role)
		return
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		fmt.Printf("%s is not running (stale PID file)\n", role)
		return
	}

	fmt.Printf("%s is running (pid %d)\n", role, pid)
}

// livePID returns a role's PID when its PID file names a live process.
func livePID(role string) (int, bool) {
	pid, err := readPID(role)
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "stop [grabber|agent]",
		Short:     "Stop a running daemon",
		GroupID:   "daemon",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: roleArgs,
		Long: `Send SIGTERM to the grabber, the agent, or (with no argument)
whichever of the two is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			roles := roleArgs
			if len(args) > 0 {
				roles = args[:1]
			}

			stopped := 0
			for _, role := range roles {
				pid, err := readPID(role)
				if err != nil {
					if len(args) > 0 {
						return fmt.Errorf("reading %s PID file: %w (is it running?)", role, err)
					}
					continue
				}

				proc, err := os.FindProcess(pid)
				if err != nil {
					return fmt.Errorf("finding process %d: %w", pid, err)
				}
				if err := proc.Signal(syscall.SIGTERM); err != nil {
					return fmt.Errorf("sending SIGTERM to %s (pid %d): %w", role, pid, err)
				}

				fmt.Fprintf(os.Stderr, "sent SIGTERM to kestrel %s (pid %d)\n", role, pid)
				stopped++
			}

			if stopped == 0 {
				return fmt.Errorf("nothing to stop (no PID files found)")
			}
			return nil
		},
	}
}

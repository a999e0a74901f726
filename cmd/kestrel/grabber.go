package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kclejeune/kestrel/internal/config"
	"github.com/kclejeune/kestrel/internal/devices"
	"github.com/kclejeune/kestrel/internal/grabber"
	"github.com/kclejeune/kestrel/internal/remap"
	"github.com/kclejeune/kestrel/internal/session"
)

func grabberCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "grabber",
		Short:   "Run the privileged keyboard grabber",
		GroupID: "daemon",
		Long: `Run the grabber daemon in the foreground.

The grabber binds the command socket, restricts it to the console user,
and waits for a console user server to connect. While one is connected
it holds an exclusive grab on the physical keyboards and replays
remapped events through a virtual device. Needs access to /dev/input
and /dev/uinput, which usually means root.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(cfgFile)
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}

			var uid int
			if pin := cfg.Grabber.ConsoleUser; pin != nil {
				uid = *pin
			} else {
				uid, err = session.ConsoleUserID()
				if err != nil {
					return fmt.Errorf("resolving console user: %w (set grabber.console_user to pin one)", err)
				}
			}

			lock, err := acquirePIDLock(roleGrabber)
			if err != nil {
				return err
			}
			defer releasePIDLock(lock)

			rules := remap.NewRules()
			recv := &grabber.Receiver{
				SocketPath: resolveSocket(cfg),
				ConsoleUID: uid,
				Devices: &devices.Grabber{
					Rules:       rules,
					Include:     cfg.Devices.Include,
					Exclude:     cfg.Devices.Exclude,
					VirtualName: cfg.Grabber.VirtualDeviceName,
				},
				Manipulator:  rules,
				PollInterval: cfg.Grabber.PollInterval.Duration(),
			}

			if err := recv.Listen(); err != nil {
				return fmt.Errorf("binding socket: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				slog.Info("received signal, shutting down", "signal", sig)
				cancel()
			}()

			slog.Info("starting grabber",
				"socket", recv.SocketPath,
				"console_user", uid,
				"poll_interval", recv.PollInterval,
			)

			return recv.Run(ctx)
		},
	}
}

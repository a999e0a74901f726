package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kclejeune/kestrel/internal/agent"
	"github.com/kclejeune/kestrel/internal/config"
	"github.com/kclejeune/kestrel/internal/grabber"
)

func agentCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "agent",
		Short:   "Run the per-user remapping agent",
		GroupID: "daemon",
		Long: `Run the agent daemon in the foreground.

The agent connects to the grabber as the console user server, pushes the
selected profile's rules, and keeps them in sync while the profiles file
changes. SIGHUP forces a full resync, which is also how to recover after
restarting the grabber.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(cfgFile)
			if err != nil {
				return fmt.Errorf("loading settings: %w", err)
			}

			socket := resolveSocket(cfg)
			client, err := grabber.NewClient(socket, os.Getuid())
			if err != nil {
				return fmt.Errorf("connecting to grabber at %s: %w", socket, err)
			}
			defer client.Close()

			lock, err := acquirePIDLock(roleAgent)
			if err != nil {
				return err
			}
			defer releasePIDLock(lock)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				slog.Info("received signal, shutting down", "signal", sig)
				cancel()
			}()

			slog.Info("starting agent",
				"socket", socket,
				"profiles", cfg.Agent.Profiles,
			)

			return (&agent.Agent{
				Sender:   client,
				Profiles: cfg.Agent.Profiles,
			}).Run(ctx)
		},
	}
}

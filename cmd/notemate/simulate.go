package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultSimulationDuration = 30 * time.Second

func newSimulateCommand() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a headless session for a fixed duration and export the activity log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), duration)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", defaultSimulationDuration, "How long the collaborators keep working")
	return cmd
}

func runSimulation(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return errors.New("simulation duration must be positive")
	}
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newApplication(signalCtx, nil)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	runCtx, cancel := context.WithTimeout(signalCtx, duration)
	defer cancel()
	if err := rt.session.Run(runCtx); err != nil {
		return err
	}

	stats := rt.session.Stats()
	path, err := rt.session.ExportToFile("")
	if err != nil {
		return err
	}
	rt.logger.Info("simulation finished",
		zap.String("session_id", stats.SessionID),
		zap.String("duration", stats.Duration),
		zap.Int64("version", stats.Version),
		zap.Int("online_users", stats.OnlineUsers),
		zap.Int64("lost_packets", stats.Network.LostPackets),
		zap.String("export", path),
	)
	return nil
}

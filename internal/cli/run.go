package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/wardsync/internal/replica"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the replica with background sync",
		Long: `Open the replica, start the sync engine, the connectivity monitor and the
configured realtime subscriptions, and run WAL retention on the cleanup
schedule. Status events are printed until interrupted.

Example:
  wardsync run --config ./wardsync.cue
  wardsync run --format json --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplica(rootOpts, cmd)
		},
	}
	return cmd
}

func runReplica(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "event", "cli_signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if s.cfg.Remote.URL == "" {
		slog.Warn("no remote configured, replica is local only", "event", "cli_local_only")
	}
	for _, key := range s.cfg.SubscriptionKeys() {
		if err := s.replica.Subscribe(ctx, key, s.cfg.Subscriptions[key].Query()); err != nil {
			slog.Warn("subscription failed", "event", "cli_subscribe_error", "key", key, "error", err)
		}
	}

	sched, err := newCleanupScheduler(ctx, s.cfg.Cleanup.Schedule, s.replica)
	if err != nil {
		return s.out.Fail(ExitCommandError, "invalid cleanup schedule", err)
	}
	sched.Start()
	defer sched.Stop()

	fmt.Fprintln(s.out.GetErrWriter(), "Replica running. Press Ctrl-C to stop.")

	events := s.replica.Events()
	for {
		select {
		case <-ctx.Done():
			slog.Info("replica stopped gracefully", "event", "cli_stop")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(s.out.Writer, s.out.Format, ev)
		}
	}
}

func printEvent(w io.Writer, format string, ev replica.Event) {
	if format == "json" {
		_ = json.NewEncoder(w).Encode(ev)
		return
	}
	switch ev.Type {
	case replica.EventConnectivity:
		fmt.Fprintf(w, "connectivity: %s\n", ev.State)
	case replica.EventSyncFailed:
		fmt.Fprintf(w, "sync failed: %s %s/%s: %s\n", ev.Sync.EntryID, ev.Sync.Collection, ev.Sync.EntityID, ev.Error)
	case replica.EventListenerError:
		fmt.Fprintf(w, "listener %s: %s\n", ev.Key, ev.Error)
	default:
		fmt.Fprintf(w, "%s\n", ev.Type)
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/remote/httpapi"
)

// ServeRemoteOptions holds flags for the serve-remote command.
type ServeRemoteOptions struct {
	*RootOptions
	Addr  string
	Token string
}

// NewServeRemoteCommand creates the serve-remote command.
func NewServeRemoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeRemoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve-remote",
		Short: "Serve an in-memory remote backend over HTTP",
		Long: `Run an in-memory remote document store speaking the replica's HTTP and
WebSocket protocol. Data is lost on exit. Useful for local development and
for exercising offline behaviour with POST /v1/offline.

Example:
  wardsync serve-remote --addr :8787
  wardsync serve-remote --addr 127.0.0.1:8787 --token secret`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRemote(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8787", "listen address")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token required on /v1 routes")
	return cmd
}

func serveRemote(opts *ServeRemoteOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail(ExitCommandError, "failed to load config", err)
	}
	opts.setupLogging(cmd, cfg.Log)

	var serverOpts []httpapi.ServerOption
	if opts.Token != "" {
		serverOpts = append(serverOpts, httpapi.WithToken(opts.Token))
	}
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           httpapi.NewServer(remote.NewMemoryBackend(), serverOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		slog.Info("remote listening", "event", "serve_start", "addr", opts.Addr)
		errc <- srv.ListenAndServe()
	}()
	fmt.Fprintf(out.GetErrWriter(), "Remote listening on %s. Press Ctrl-C to stop.\n", opts.Addr)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return out.Fail(ExitCommandError, "server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown incomplete", "event", "serve_shutdown_error", "error", err)
	}
	slog.Info("remote stopped", "event", "serve_stop")
	return nil
}

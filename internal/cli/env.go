package cli

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/wardsync/internal/config"
	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/remote/httpapi"
	"github.com/roach88/wardsync/internal/replica"
	"github.com/roach88/wardsync/internal/schedule"
)

// loadConfig reads --config, or ./wardsync.cue when it exists, or the
// defaults.
func (o *RootOptions) loadConfig() (config.Config, error) {
	path := o.Config
	if path == "" {
		if _, err := os.Stat(config.DefaultFile); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
		path = config.DefaultFile
	}
	return config.Load(path)
}

// setupLogging installs the slog handler described by cfg on stderr.
// --verbose forces debug.
func (o *RootOptions) setupLogging(cmd *cobra.Command, cfg config.LogConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if o.Verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), handlerOpts)
	} else {
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// newAdapter builds the remote client, or nil when no url is configured.
func newAdapter(cfg config.RemoteConfig) (remote.Adapter, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts := []httpapi.ClientOption{
		httpapi.WithHTTPClient(&http.Client{Timeout: cfg.Timeout.Value()}),
		httpapi.WithReconnectBackoff(schedule.Backoff{
			Base:   cfg.ReconnectBase.Value(),
			Max:    cfg.ReconnectMax.Value(),
			Jitter: 0.2,
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, httpapi.WithBearerToken(cfg.Token))
	}
	c, err := httpapi.NewClient(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// session is a configured, open replica for one command.
type session struct {
	cfg     config.Config
	replica *replica.Replica
	out     *OutputFormatter
}

// openSession loads config, sets up logging and opens the replica. With
// manual set the replica does not sync in the background.
func (o *RootOptions) openSession(cmd *cobra.Command, manual bool) (*session, error) {
	out := o.formatter(cmd)
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, out.Fail(ExitCommandError, "failed to load config", err)
	}
	o.setupLogging(cmd, cfg.Log)

	adapter, err := newAdapter(cfg.Remote)
	if err != nil {
		return nil, out.Fail(ExitCommandError, "invalid remote", err)
	}

	rc := cfg.Replica()
	rc.Manual = manual
	r, err := replica.Open(commandContext(cmd), rc, adapter)
	if err != nil {
		return nil, out.Fail(ExitCommandError, "failed to open replica", err)
	}
	return &session{cfg: cfg, replica: r, out: out}, nil
}

func (s *session) close() {
	if err := s.replica.Close(); err != nil {
		slog.Error("error closing replica", "event", "cli_close_error", "error", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

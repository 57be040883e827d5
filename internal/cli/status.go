package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/wal"
)

type statusResult struct {
	Path         string               `json:"path"`
	Remote       string               `json:"remote,omitempty"`
	Connectivity ir.ConnectivityState `json:"connectivity"`
	ProbeError   string               `json:"probe_error,omitempty"`
	WAL          wal.Stats            `json:"wal"`
}

func (r statusResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "store:        %s\n", r.Path)
	if r.Remote == "" {
		fmt.Fprintln(w, "remote:       (none)")
	} else {
		fmt.Fprintf(w, "remote:       %s (%s)\n", r.Remote, r.Connectivity)
	}
	if r.ProbeError != "" {
		fmt.Fprintf(w, "probe error:  %s\n", r.ProbeError)
	}
	fmt.Fprintf(w, "pending:      %d\n", r.WAL.Pending)
	fmt.Fprintf(w, "syncing:      %d\n", r.WAL.Syncing)
	fmt.Fprintf(w, "failed:       %d (retryable) %d (terminal)\n", r.WAL.Failed, r.WAL.Terminal)
	fmt.Fprintf(w, "synced:       %d\n", r.WAL.Synced)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show WAL counts and remote reachability",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()
			ctx := commandContext(cmd)

			res := statusResult{Path: s.cfg.Store.Path, Remote: s.cfg.Remote.URL}
			if s.cfg.Remote.URL != "" {
				if err := s.replica.Probe(ctx); err != nil {
					res.ProbeError = err.Error()
				}
			}
			res.Connectivity = s.replica.Connectivity()

			res.WAL, err = s.replica.Stats(ctx)
			if err != nil {
				return s.out.Fail(ExitCommandError, "failed to read wal", err)
			}
			return s.out.Success(res)
		},
	}
	return cmd
}

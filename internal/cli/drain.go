package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/wardsync/internal/engine"
)

type drainResult struct {
	engine.DrainResult
	Remaining int `json:"remaining"`
}

func (r drainResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "synced %d, retried %d, failed %d, waiting %d, remaining %d\n",
		r.Synced, r.Retried, r.Failed, r.Waiting, r.Remaining)
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Deliver pending mutations once",
		Long: `Run one sync cycle against the configured remote, regardless of the
connectivity state, and report the outcome.

Exit codes:
  0 - cycle ran and no mutation failed terminally
  1 - one or more mutations failed terminally
  2 - command error (no remote, bad config)`,
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

			res, err := s.replica.Drain(ctx)
			if err != nil {
				return s.out.Fail(ExitCommandError, "drain failed", err)
			}
			stats, err := s.replica.Stats(ctx)
			if err != nil {
				return s.out.Fail(ExitCommandError, "failed to read wal", err)
			}
			if err := s.out.Success(drainResult{DrainResult: res, Remaining: stats.Unsynced()}); err != nil {
				return err
			}
			if res.Failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d mutation(s) failed", res.Failed))
			}
			return nil
		},
	}
	return cmd
}

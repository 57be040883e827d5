package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ResyncOptions holds flags for the resync command.
type ResyncOptions struct {
	*RootOptions
	All bool
}

type resyncResult struct {
	Requeued int `json:"requeued"`
}

func (r resyncResult) String() string {
	return fmt.Sprintf("requeued %d mutation(s)", r.Requeued)
}

// NewResyncCommand creates the resync command.
func NewResyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resync [entry-id...]",
		Short: "Return failed mutations to the outbox",
		Long: `Give failed mutations, including terminal failures, a fresh retry budget.
They are delivered by the next drain.

Example:
  wardsync resync 0190a6c2-5b1e-7c41-9d0f-3f1b2c4d5e6f
  wardsync resync --all`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.All == (len(args) > 0) {
				return NewExitError(ExitCommandError, "give entry ids or --all")
			}
			s, err := opts.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()
			ctx := commandContext(cmd)

			var res resyncResult
			if opts.All {
				res.Requeued, err = s.replica.ResyncAll(ctx)
				if err != nil {
					return s.out.Fail(ExitFailure, "resync failed", err)
				}
				return s.out.Success(res)
			}
			for _, id := range args {
				if err := s.replica.Resync(ctx, id); err != nil {
					return s.out.Fail(ExitFailure, "resync "+id+" failed", err)
				}
				res.Requeued++
			}
			return s.out.Success(res)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "resync every failed mutation")
	return cmd
}

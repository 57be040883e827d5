package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/wardsync/internal/wal"
)

type cleanupResult struct {
	wal.CleanupResult
}

func (r cleanupResult) String() string {
	return fmt.Sprintf("cleared %d synced entries, trimmed %d over the size limit", r.Cleared, r.Enforced)
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "cleanup",
		Short:         "Apply WAL retention now",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.replica.Cleanup(commandContext(cmd))
			if err != nil {
				return s.out.Fail(ExitFailure, "cleanup failed", err)
			}
			return s.out.Success(cleanupResult{res})
		},
	}
}

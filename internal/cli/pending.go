package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/wardsync/internal/ir"
)

type entryList []ir.MutationEntry

func (l entryList) RenderText(w io.Writer) {
	if len(l) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}
	for _, e := range l {
		line := fmt.Sprintf("%s  %-6s %s/%s  %s", e.ID, e.Operation, e.Collection, e.EntityID, e.Status)
		if e.Terminal {
			line += " (terminal)"
		}
		if e.RetryCount > 0 {
			line += fmt.Sprintf(" retries=%d", e.RetryCount)
		}
		if e.LastError != "" {
			line += "  " + e.LastError
		}
		fmt.Fprintln(w, line)
	}
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return newListCommand(rootOpts, "pending", "List the outbox in delivery order",
		func(ctx context.Context, s *session) ([]ir.MutationEntry, error) {
			return s.replica.Pending(ctx)
		})
}

// NewFailedCommand creates the failed command.
func NewFailedCommand(rootOpts *RootOptions) *cobra.Command {
	return newListCommand(rootOpts, "failed", "List failed mutations",
		func(ctx context.Context, s *session) ([]ir.MutationEntry, error) {
			return s.replica.Failed(ctx)
		})
}

func newListCommand(rootOpts *RootOptions, use, short string, list func(context.Context, *session) ([]ir.MutationEntry, error)) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()

			entries, err := list(commandContext(cmd), s)
			if err != nil {
				return s.out.Fail(ExitCommandError, "failed to read wal", err)
			}
			return s.out.Success(entryList(entries))
		},
	}
}

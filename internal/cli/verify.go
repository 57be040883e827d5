package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/replica"
)

type replayResult struct {
	replica.ReplayReport
}

func (r replayResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "replayed %d entries over %d entities\n", r.Entries, r.Entities)
	if r.OK() {
		fmt.Fprintln(w, "OK: store matches the log")
		return
	}
	fmt.Fprintf(w, "MISMATCH: %d entities differ\n", len(r.Mismatches))
	for _, m := range r.Mismatches {
		fmt.Fprintf(w, "  %s/%s\n", m.Collection, m.EntityID)
		fmt.Fprintf(w, "    local:    %s\n", canonicalOrEmpty(m.Local))
		fmt.Fprintf(w, "    replayed: %s\n", canonicalOrEmpty(m.Replayed))
	}
}

func canonicalOrEmpty(d ir.Document) string {
	if d == nil {
		return "(absent)"
	}
	data, err := ir.MarshalCanonical(d)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(d))
	}
	return string(data)
}

// NewVerifyReplayCommand creates the verify-replay command.
func NewVerifyReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-replay",
		Short: "Check the store against a replay of the WAL",
		Long: `Re-apply every retained WAL entry, in order, to an empty in-memory remote
and compare each touched entity with the local store.

Exit codes:
  0 - every touched entity matches
  1 - one or more entities differ
  2 - command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()

			report, err := s.replica.VerifyReplay(commandContext(cmd))
			if err != nil {
				return s.out.Fail(ExitCommandError, "replay failed", err)
			}
			if !report.OK() {
				if s.out.Format == "json" {
					_ = s.out.Error(ErrCodeMismatch, "replay mismatch", report)
				} else {
					replayResult{report}.RenderText(s.out.Writer)
				}
				return NewExitError(ExitFailure, fmt.Sprintf("%d entities differ", len(report.Mismatches)))
			}
			return s.out.Success(replayResult{report})
		},
	}
}

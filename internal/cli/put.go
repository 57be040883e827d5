package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/store"
)

type docResult struct {
	Collection string      `json:"collection"`
	Doc        ir.Document `json:"doc"`
}

func (r docResult) RenderText(w io.Writer) {
	data, err := ir.MarshalCanonical(r.Doc)
	if err != nil {
		fmt.Fprintf(w, "%s/%s\n", r.Collection, r.Doc.ID())
		return
	}
	fmt.Fprintf(w, "%s %s\n", r.Collection, data)
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <collection> <json>",
		Short: "Create or update an entity",
		Long: `Write an entity to the local replica and queue it for sync. A document
whose id names a live entity is merged into it; any other document creates
a new entity, with a generated id when none is given.

Example:
  wardsync put patients '{"id":"p1","name":"Ada","unitId":"icu"}'
  wardsync put patients '{"id":"p1","bed":"3A"}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]
			doc, err := ir.DecodeDocument([]byte(args[1]))
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid document", err)
			}

			s, err := rootOpts.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()
			ctx := commandContext(cmd)

			update := false
			if id := doc.ID(); id != "" {
				current, err := s.replica.Get(ctx, collection, id)
				switch {
				case err == nil:
					update = !current.IsDeleted()
				case !store.IsNotFound(err):
					return s.out.Fail(ExitFailure, "read failed", err)
				}
			}

			var stored ir.Document
			if update {
				stored, err = s.replica.Update(ctx, collection, doc.ID(), doc)
			} else {
				stored, err = s.replica.Create(ctx, collection, doc)
			}
			if err != nil {
				return s.out.Fail(ExitFailure, "write failed", err)
			}
			return s.out.Success(docResult{Collection: collection, Doc: stored})
		},
	}
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <collection> <id>",
		Short:         "Move an entity to the trash",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.replica.Delete(commandContext(cmd), args[0], args[1]); err != nil {
				return s.out.Fail(ExitFailure, "delete failed", err)
			}
			return s.out.Success(fmt.Sprintf("deleted %s/%s", args[0], args[1]))
		},
	}
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "restore <collection> <id>",
		Short:         "Take an entity out of the trash",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()

			doc, err := s.replica.Restore(commandContext(cmd), args[0], args[1])
			if err != nil {
				return s.out.Fail(ExitFailure, "restore failed", err)
			}
			return s.out.Success(docResult{Collection: args[0], Doc: doc})
		},
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/scorekeeper/internal/client/audit"
	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/models"
)

func newConflictsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List conflicts waiting for manual resolution",
		Args:  cobra.NoArgs,
		RunE: app.runE(func(ctx context.Context, _ []string) error {
			cases, err := app.store.ListConflicts(ctx)
			if err != nil {
				return err
			}
			if len(cases) == 0 {
				app.io.Println("No open conflicts")
				return nil
			}
			for i, cc := range cases {
				if i > 0 {
					app.io.Println()
				}
				app.io.Printf("%s", audit.ExplainConflict(cc))
			}
			return nil
		}),
	}
}

func newResolveCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <conflict-id> <keep_local|keep_remote|accept_merge>",
		Short: "Resolve a conflict manually",
		Long: `Apply a manual decision to an open conflict. The decision is written to
the resolution log and the resulting record is queued for the next sync.`,
		Args: cobra.ExactArgs(2),
		RunE: app.runE(func(ctx context.Context, args []string) error {
			return app.runResolve(ctx, args[0], models.Choice(args[1]))
		}),
	}
}

func (a *App) runResolve(ctx context.Context, conflictID string, choice models.Choice) error {
	if _, ok := choice.Strategy(); !ok {
		return fmt.Errorf("unknown choice %q: use keep_local, keep_remote or accept_merge", choice)
	}

	engine, err := a.syncEngine()
	if err != nil {
		return err
	}

	rec, err := engine.ResolveManually(ctx, conflictID, choice)
	if errors.Is(err, storage.ErrConflictNotFound) {
		return fmt.Errorf("conflict %s not found", conflictID)
	}
	if err != nil {
		return err
	}

	a.io.Printf("✓ %s resolved with %s\n", rec.ID, choice)
	a.io.Printf("Fields: %s\n", audit.FormatFields(rec.Fields))
	a.io.Println("The record will be sent on the next sync")
	return nil
}

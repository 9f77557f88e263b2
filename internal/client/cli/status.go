package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/iudanet/scorekeeper/internal/client/auth"
	"github.com/iudanet/scorekeeper/internal/models"
)

func newStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show device and local sync state",
		Args:  cobra.NoArgs,
		RunE: app.runE(func(ctx context.Context, _ []string) error {
			return app.runStatus(ctx)
		}),
	}
}

func (a *App) runStatus(ctx context.Context) error {
	identity, err := a.auth.Identity(ctx)
	switch {
	case errors.Is(err, auth.ErrNotEnrolled):
		a.io.Printf("Device:    %s (not enrolled)\n", a.deviceID)
	case err != nil:
		return err
	default:
		a.io.Printf("Device:    %s (%s, %s)\n", identity.DeviceID, identity.Name, identity.Role)
		a.io.Printf("Server:    %s\n", identity.ServerURL)
	}

	records, err := a.store.ListRecords(ctx)
	if err != nil {
		return err
	}
	pending, err := a.store.PendingCount(ctx)
	if err != nil {
		return err
	}
	conflicts, err := a.store.ListConflicts(ctx)
	if err != nil {
		return err
	}
	cursor, err := a.store.GetCursor(ctx)
	if err != nil {
		return err
	}

	a.io.Printf("Records:   %d\n", len(records))
	a.io.Printf("Pending:   %d\n", pending)
	a.io.Printf("Conflicts: %d\n", len(conflicts))
	a.io.Printf("Cursor:    %d\n", cursor)
	return nil
}

func newSyncCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle: push, pull and resolve",
		Args:  cobra.NoArgs,
		RunE: app.runE(func(ctx context.Context, _ []string) error {
			return app.runSync(ctx)
		}),
	}
}

func (a *App) runSync(ctx context.Context) error {
	if _, err := a.connect(ctx); err != nil {
		return err
	}
	engine, err := a.syncEngine()
	if err != nil {
		return err
	}

	var opened []*models.ConflictCase
	unsubscribe := engine.OnConflict(func(cc *models.ConflictCase) {
		opened = append(opened, cc)
	})
	defer unsubscribe()

	if err := engine.SyncOnce(ctx); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	st := engine.Status()
	a.io.Printf("Sync %s: %d pending, %d errors\n", st.Status, st.PendingCount, st.ErrorCount)
	if st.Message != "" {
		a.io.Printf("  %s\n", st.Message)
	}
	for _, cc := range opened {
		a.io.Printf("! conflict %s on %s (%s)\n", cc.ID, cc.RecordID, cc.Reason)
	}
	if len(opened) > 0 {
		a.io.Println("Run 'scorekeeper conflicts' to review")
	}
	return nil
}

func newRunCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep syncing in the background until interrupted",
		Long: `Start the connectivity monitor and the sync engine, and optionally
subscribe to the server change feed (--feed or SCOREKEEPER_FEED=true).
Status changes and new conflicts are printed as they happen.

While run is active it holds the lock on the local database, so other
scorekeeper commands using the same --db wait for about a second and then
fail. Stop run before recording scores from another terminal.`,
		Args: cobra.NoArgs,
		RunE: app.runE(func(ctx context.Context, _ []string) error {
			return app.runLoop(ctx)
		}),
	}
}

func (a *App) runLoop(ctx context.Context) error {
	if _, err := a.connect(ctx); err != nil {
		return err
	}
	engine, err := a.syncEngine()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Подписчики вызываются из горутин движка, печать только из текущей
	lines := make(chan string, 64)
	emit := func(format string, args ...any) {
		select {
		case lines <- fmt.Sprintf(format, args...):
		default:
		}
	}
	defer engine.OnSyncStatusChange(func(ev models.SyncStatusEvent) {
		emit("[%s] pending=%d errors=%d %s", ev.Status, ev.PendingCount, ev.ErrorCount, ev.Message)
	})()
	defer engine.OnConflict(func(cc *models.ConflictCase) {
		emit("! conflict %s on %s (%s)", cc.ID, cc.RecordID, cc.Reason)
	})()

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		runErrs []error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				a.logger.Error("Background task stopped", "task", name, "error", err)
				errMu.Lock()
				runErrs = append(runErrs, fmt.Errorf("%s: %w", name, err))
				errMu.Unlock()
				cancel()
			}
		}()
	}

	start("connectivity", a.monitor.Run)
	start("sync", engine.Run)
	if a.cfg.Feed {
		start("feed", func(ctx context.Context) error { return engine.RunFeed(ctx, a.client) })
	}

	a.io.Println("Syncing, press Ctrl+C to stop")
loop:
	for {
		select {
		case line := <-lines:
			a.io.Println(line)
		case <-ctx.Done():
			break loop
		}
	}

	wg.Wait()
	a.io.Println("Stopped")
	return errors.Join(runErrs...)
}

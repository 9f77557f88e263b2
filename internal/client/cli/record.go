package cli

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/scorekeeper/internal/client/audit"
	"github.com/iudanet/scorekeeper/internal/client/storage"
	"github.com/iudanet/scorekeeper/internal/models"
)

func newRecordCommand(app *App) *cobra.Command {
	var entityType string

	cmd := &cobra.Command{
		Use:   "record <record-id> <field=value>...",
		Short: "Record field values locally",
		Long: `Write field values of a record to the local database.
The change is queued and sent on the next sync.

Values are parsed as JSON scalars: numbers, true/false and quoted strings.
Any other value is stored as a string. An empty value deletes the field.

Examples:
  scorekeeper record r1-h7-p42 strokes=4 putts=2
  scorekeeper record r1-h7-p42 note="lost ball" penalties=`,
		Args: cobra.MinimumNArgs(2),
		RunE: app.runE(func(ctx context.Context, args []string) error {
			fields, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			return app.runRecord(ctx, args[0], entityType, fields)
		}),
	}

	cmd.Flags().StringVar(&entityType, "type", models.EntityTypeHoleScore, "entity type of a new record")
	return cmd
}

func (a *App) runRecord(ctx context.Context, recordID, entityType string, fields map[string]any) error {
	t, err := a.tracker(ctx)
	if err != nil {
		return err
	}

	rec, err := t.Update(ctx, recordID, entityType, fields)
	if err != nil {
		return err
	}

	a.io.Printf("✓ %s: %s\n", rec.ID, audit.FormatFields(rec.Fields))
	a.io.Printf("Version: %s (%s)\n", rec.VersionVector.String(), rec.SyncStatus)
	return nil
}

// parseAssignments разбирает аргументы вида field=value
func parseAssignments(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q: expected field=value", arg)
		}
		if _, dup := fields[name]; dup {
			return nil, fmt.Errorf("field %s is assigned twice", name)
		}
		fields[name] = parseValue(raw)
	}
	return fields, nil
}

// parseValue пустое значение означает удаление поля
func parseValue(raw string) any {
	switch raw {
	case "":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
		return n
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		return unquoted
	}
	return raw
}

func newShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show [record-id]",
		Short: "Show local records",
		Args:  cobra.MaximumNArgs(1),
		RunE: app.runE(func(ctx context.Context, args []string) error {
			if len(args) == 1 {
				return app.showRecord(ctx, args[0])
			}
			return app.listRecords(ctx)
		}),
	}
}

func (a *App) showRecord(ctx context.Context, recordID string) error {
	rec, err := a.store.GetRecord(ctx, recordID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return fmt.Errorf("record %s not found", recordID)
	}
	if err != nil {
		return err
	}

	a.io.Printf("Record:  %s (%s)\n", rec.ID, rec.Type)
	a.io.Printf("Status:  %s\n", rec.SyncStatus)
	a.io.Printf("Writer:  %s [%s]\n", rec.WriterDeviceID, rec.WriterRole)
	a.io.Printf("Updated: %s\n", rec.UpdatedAt.Format(time.RFC3339))
	a.io.Printf("Version: %s\n", rec.VersionVector.String())
	if rec.LastError != "" {
		a.io.Printf("Error:   %s\n", rec.LastError)
	}

	a.io.Println("Fields:")
	names := make([]string, 0, len(rec.Fields))
	for name := range rec.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a.io.Printf("  %-12s %s\n", name, audit.FormatValue(rec.Fields[name]))
	}
	return nil
}

func (a *App) listRecords(ctx context.Context) error {
	records, err := a.store.ListRecords(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.io.Println("No records")
		return nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	for _, rec := range records {
		a.io.Printf("%-24s %-9s %s\n", rec.ID, rec.SyncStatus, audit.FormatFields(rec.Fields))
	}
	return nil
}

package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/scorekeeper/internal/client/audit"
	"github.com/iudanet/scorekeeper/internal/models"
)

func newLogCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "log [record-id]",
		Short: "Explain how conflicts were resolved",
		Args:  cobra.MaximumNArgs(1),
		RunE: app.runE(func(ctx context.Context, args []string) error {
			var (
				entries []*models.ResolutionLogEntry
				err     error
			)
			if len(args) == 1 {
				entries, err = app.store.QueryResolutions(ctx, args[0])
			} else {
				entries, err = app.store.ListResolutions(ctx)
			}
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				app.io.Println("No resolutions recorded")
				return nil
			}
			for i, entry := range entries {
				if i > 0 {
					app.io.Println()
				}
				app.io.Printf("%s", audit.Explain(entry))
			}
			return nil
		}),
	}
}

type exportOptions struct {
	dir  string
	toS3 bool
}

func newExportLogCommand(app *App) *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export-log",
		Short: "Export the resolution log as JSON lines",
		Long: `Export the whole resolution log to a directory or an S3 bucket.

S3 settings come from SCOREKEEPER_S3_BUCKET, SCOREKEEPER_S3_PREFIX,
SCOREKEEPER_S3_REGION and SCOREKEEPER_S3_ENDPOINT; credentials from the
standard AWS environment.

Examples:
  scorekeeper export-log --dir ./exports
  scorekeeper export-log --s3`,
		Args: cobra.NoArgs,
		RunE: app.runE(func(ctx context.Context, _ []string) error {
			return app.runExport(ctx, opts)
		}),
	}

	cmd.Flags().StringVar(&opts.dir, "dir", "", "directory to write the export to")
	cmd.Flags().BoolVar(&opts.toS3, "s3", false, "upload the export to S3")
	cmd.MarkFlagsMutuallyExclusive("dir", "s3")
	cmd.MarkFlagsOneRequired("dir", "s3")

	return cmd
}

func (a *App) runExport(ctx context.Context, opts *exportOptions) error {
	var (
		sink audit.Sink
		dest string
	)

	switch {
	case opts.toS3:
		if a.cfg.S3Bucket == "" {
			return errors.New("SCOREKEEPER_S3_BUCKET is not set")
		}
		s3Sink, err := audit.NewS3Sink(ctx, audit.S3Config{
			Bucket:       a.cfg.S3Bucket,
			Prefix:       a.cfg.S3Prefix,
			Region:       a.cfg.S3Region,
			Endpoint:     a.cfg.S3Endpoint,
			UsePathStyle: a.cfg.S3Endpoint != "",
		})
		if err != nil {
			return err
		}
		sink, dest = s3Sink, "s3://"+a.cfg.S3Bucket+"/"+a.cfg.S3Prefix
	default:
		fileSink, err := audit.NewFileSink(opts.dir)
		if err != nil {
			return err
		}
		sink, dest = fileSink, opts.dir
	}

	name := audit.ExportName(a.deviceID, time.Now())
	n, err := audit.Export(ctx, a.store, sink, name)
	if err != nil {
		return err
	}

	a.io.Printf("✓ Exported %d entries to %s (%s)\n", n, dest, name)
	return nil
}

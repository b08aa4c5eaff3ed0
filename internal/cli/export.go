package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-vault/internal/app"
	"github.com/rovshanmuradov/solana-vault/internal/export"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		fileFormat string
		outputDir  string
		kind       string
		actor      string
		since      string
		until      string
		daily      string
	)

	cmd := &cobra.Command{
		Use:   "export <asset-mint>",
		Short: "Write the stored event history of a vault to a file",
		Long: `Read the events of one vault from the configured store (postgres_url or
sqlite_path) and write them as CSV or JSON. With --daily the command writes a
JSON report for that UTC day with an hourly breakdown instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := export.Options{
				Format:      export.Format(fileFormat),
				KindFilter:  vault.EventKind(kind),
				ActorFilter: actor,
				OutputDir:   outputDir,
			}
			var err error
			if opts.StartTime, err = parseTime("since", since); err != nil {
				return err
			}
			if opts.EndTime, err = parseTime("until", until); err != nil {
				return err
			}
			var date time.Time
			if daily != "" {
				if date, err = time.Parse(time.DateOnly, daily); err != nil {
					return fmt.Errorf("invalid --daily date: %w", err)
				}
			}

			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.PostgresURL == "" && cfg.SQLitePath == "" {
				return errors.New("event store required: set postgres_url or sqlite_path")
			}
			log := newLogger(cmd, cfg)
			defer log.Close()

			store, err := app.OpenStore(cfg, log.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ex := export.NewExporter(store, log.Logger)
			mint := vault.Address(args[0])
			var path string
			if daily != "" {
				path, err = ex.ExportDailyReport(cmd.Context(), mint, date, outputDir)
			} else {
				path, err = ex.Export(cmd.Context(), mint, opts)
			}
			if err != nil {
				return err
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(map[string]string{"file": path}, nil, func(w io.Writer) {
				if path == "" {
					line(w, "no events on %s", daily)
					return
				}
				line(w, "wrote %s", path)
			})
		},
	}
	cmd.Flags().StringVar(&fileFormat, "as", string(export.FormatCSV), "file format (csv|json)")
	cmd.Flags().StringVarP(&outputDir, "out", "o", "exports", "output directory")
	cmd.Flags().StringVar(&kind, "kind", "", "only events of this kind (deposit, withdraw, pause_changed, admin_changed)")
	cmd.Flags().StringVar(&actor, "actor", "", "only events by this actor")
	cmd.Flags().StringVar(&since, "since", "", "earliest event time (RFC 3339)")
	cmd.Flags().StringVar(&until, "until", "", "exclusive upper bound on event time (RFC 3339)")
	cmd.Flags().StringVar(&daily, "daily", "", "write the daily report for this date (YYYY-MM-DD)")
	return cmd
}

func parseTime(flag, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return t, nil
}

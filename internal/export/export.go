// Package export writes stored vault event history to CSV and JSON files.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-vault/internal/events"
	"github.com/rovshanmuradov/solana-vault/internal/storage"
	"github.com/rovshanmuradov/solana-vault/internal/storage/models"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

// Format is the export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrNoEvents is returned when nothing matches the export filters.
var ErrNoEvents = errors.New("no events match the export criteria")

// Options configures an export.
type Options struct {
	Format      Format
	StartTime   time.Time
	EndTime     time.Time
	KindFilter  vault.EventKind
	ActorFilter string
	OutputDir   string
}

// Record is one exported event row.
type Record struct {
	OccurredAt  time.Time       `json:"occurred_at"`
	Vault       string          `json:"vault"`
	Sequence    decimal.Decimal `json:"sequence"`
	Kind        string          `json:"kind"`
	Actor       string          `json:"actor"`
	AssetAmount decimal.Decimal `json:"asset_amount"`
	Shares      decimal.Decimal `json:"shares"`
	Detail      string          `json:"detail,omitempty"`
}

func newRecord(e models.VaultEvent) Record {
	return Record{
		OccurredAt:  e.OccurredAt.UTC(),
		Vault:       e.AssetMint,
		Sequence:    e.Sequence,
		Kind:        e.Kind,
		Actor:       e.Actor,
		AssetAmount: e.AssetAmount,
		Shares:      e.Shares,
		Detail:      e.Detail,
	}
}

// csvRow follows the journal column layout. Admin events leave the amount
// columns empty.
func (r Record) csvRow() []string {
	row := []string{
		r.OccurredAt.Format(time.RFC3339Nano),
		r.Vault,
		r.Sequence.String(),
		r.Kind,
		r.Actor,
		"", "",
		r.Detail,
	}
	if isFlow(r.Kind) {
		row[5] = r.AssetAmount.String()
		row[6] = r.Shares.String()
	}
	return row
}

func isFlow(kind string) bool {
	return kind == string(vault.KindDeposit) || kind == string(vault.KindWithdraw)
}

// Exporter reads vault history from a store and writes it to files.
type Exporter struct {
	store  storage.Storage
	logger *zap.Logger
	now    func() time.Time
}

// NewExporter creates an exporter over store.
func NewExporter(store storage.Storage, logger *zap.Logger) *Exporter {
	return &Exporter{
		store:  store,
		logger: logger.Named("export"),
		now:    time.Now,
	}
}

// Export writes the matching events of assetMint and returns the file path.
func (ex *Exporter) Export(ctx context.Context, assetMint vault.Address, opts Options) (string, error) {
	if opts.Format != FormatCSV && opts.Format != FormatJSON {
		return "", fmt.Errorf("unsupported format: %s", opts.Format)
	}
	records, err := ex.load(ctx, assetMint, opts)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", ErrNoEvents
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(opts.OutputDir, ex.filename(assetMint, opts))

	switch opts.Format {
	case FormatCSV:
		err = writeCSV(records, outputPath)
	default:
		err = writeJSON(outputPath, struct {
			ExportTime time.Time `json:"export_time"`
			Vault      string    `json:"vault"`
			EventCount int       `json:"event_count"`
			Summary    Summary   `json:"summary"`
			Events     []Record  `json:"events"`
		}{
			ExportTime: ex.now().UTC(),
			Vault:      assetMint.String(),
			EventCount: len(records),
			Summary:    Summarize(records),
			Events:     records,
		})
	}
	if err != nil {
		return "", err
	}

	ex.logger.Info("Events exported",
		zap.String("file", outputPath),
		zap.String("vault", assetMint.String()),
		zap.Int("count", len(records)),
		zap.String("format", string(opts.Format)))
	return outputPath, nil
}

func (ex *Exporter) load(ctx context.Context, assetMint vault.Address, opts Options) ([]Record, error) {
	rows, err := ex.store.ListEvents(ctx, assetMint, 0)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	records := filter(rows, opts)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Sequence.LessThan(records[j].Sequence)
	})
	return records, nil
}

// filter keeps the events inside [StartTime, EndTime) that match the kind
// and actor filters.
func filter(rows []models.VaultEvent, opts Options) []Record {
	var out []Record
	for _, e := range rows {
		if !opts.StartTime.IsZero() && e.OccurredAt.Before(opts.StartTime) {
			continue
		}
		if !opts.EndTime.IsZero() && !e.OccurredAt.Before(opts.EndTime) {
			continue
		}
		if opts.KindFilter != "" && e.Kind != string(opts.KindFilter) {
			continue
		}
		if opts.ActorFilter != "" && e.Actor != opts.ActorFilter {
			continue
		}
		out = append(out, newRecord(e))
	}
	return out
}

func (ex *Exporter) filename(assetMint vault.Address, opts Options) string {
	prefix := "events_all"
	if opts.KindFilter != "" {
		prefix = "events_" + string(opts.KindFilter)
	}
	mint := assetMint.String()
	if len(mint) > 8 {
		mint = mint[:8]
	}
	return fmt.Sprintf("%s_%s_%s.%s", prefix, mint, ex.now().UTC().Format("20060102_150405"), opts.Format)
}

func writeCSV(records []Record, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(events.JournalHeader); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, r := range records {
		if err := w.Write(r.csvRow()); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(outputPath string, v any) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Summary aggregates the flows of an event list. Amounts are raw base units.
type Summary struct {
	TotalEvents   int             `json:"total_events"`
	DepositCount  int             `json:"deposit_count"`
	WithdrawCount int             `json:"withdraw_count"`
	AdminEvents   int             `json:"admin_events"`
	UniqueActors  int             `json:"unique_actors"`
	AssetIn       decimal.Decimal `json:"asset_in"`
	AssetOut      decimal.Decimal `json:"asset_out"`
	NetAsset      decimal.Decimal `json:"net_asset"`
	SharesMinted  decimal.Decimal `json:"shares_minted"`
	SharesBurned  decimal.Decimal `json:"shares_burned"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
}

// Summarize computes a Summary over records.
func Summarize(records []Record) Summary {
	s := Summary{TotalEvents: len(records)}
	if len(records) == 0 {
		return s
	}

	actors := make(map[string]struct{})
	s.StartDate = records[0].OccurredAt
	s.EndDate = records[0].OccurredAt
	for _, r := range records {
		if r.OccurredAt.Before(s.StartDate) {
			s.StartDate = r.OccurredAt
		}
		if r.OccurredAt.After(s.EndDate) {
			s.EndDate = r.OccurredAt
		}
		actors[r.Actor] = struct{}{}

		switch vault.EventKind(r.Kind) {
		case vault.KindDeposit:
			s.DepositCount++
			s.AssetIn = s.AssetIn.Add(r.AssetAmount)
			s.SharesMinted = s.SharesMinted.Add(r.Shares)
		case vault.KindWithdraw:
			s.WithdrawCount++
			s.AssetOut = s.AssetOut.Add(r.AssetAmount)
			s.SharesBurned = s.SharesBurned.Add(r.Shares)
		default:
			s.AdminEvents++
		}
	}
	s.UniqueActors = len(actors)
	s.NetAsset = s.AssetIn.Sub(s.AssetOut)
	return s
}

// DailyReport is the activity of one vault over one UTC day.
type DailyReport struct {
	Date            time.Time     `json:"date"`
	Vault           string        `json:"vault"`
	EventCount      int           `json:"event_count"`
	Summary         Summary       `json:"summary"`
	HourlyBreakdown []HourlyStats `json:"hourly_breakdown"`
	Events          []Record      `json:"events"`
}

// HourlyStats is the activity within one hour of a day.
type HourlyStats struct {
	Hour          int             `json:"hour"`
	EventCount    int             `json:"event_count"`
	DepositCount  int             `json:"deposit_count"`
	WithdrawCount int             `json:"withdraw_count"`
	NetAsset      decimal.Decimal `json:"net_asset"`
}

// ExportDailyReport writes the report for the UTC day containing date. It
// returns an empty path when the vault had no activity that day.
func (ex *Exporter) ExportDailyReport(ctx context.Context, assetMint vault.Address, date time.Time, outputDir string) (string, error) {
	date = date.UTC()
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	records, err := ex.load(ctx, assetMint, Options{StartTime: start, EndTime: start.Add(24 * time.Hour)})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		ex.logger.Info("No events for daily report",
			zap.String("vault", assetMint.String()),
			zap.Time("date", start))
		return "", nil
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", start.Format("20060102")))
	report := DailyReport{
		Date:            start,
		Vault:           assetMint.String(),
		EventCount:      len(records),
		Summary:         Summarize(records),
		HourlyBreakdown: hourlyBreakdown(records),
		Events:          records,
	}
	if err := writeJSON(outputPath, report); err != nil {
		return "", err
	}

	ex.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", start),
		zap.Int("events", len(records)))
	return outputPath, nil
}

// hourlyBreakdown returns one entry per hour with activity, in hour order.
func hourlyBreakdown(records []Record) []HourlyStats {
	hours := make(map[int]*HourlyStats)
	for _, r := range records {
		h := r.OccurredAt.UTC().Hour()
		st, ok := hours[h]
		if !ok {
			st = &HourlyStats{Hour: h}
			hours[h] = st
		}
		st.EventCount++
		switch vault.EventKind(r.Kind) {
		case vault.KindDeposit:
			st.DepositCount++
			st.NetAsset = st.NetAsset.Add(r.AssetAmount)
		case vault.KindWithdraw:
			st.WithdrawCount++
			st.NetAsset = st.NetAsset.Sub(r.AssetAmount)
		}
	}

	var out []HourlyStats
	for h := 0; h < 24; h++ {
		if st, ok := hours[h]; ok {
			out = append(out, *st)
		}
	}
	return out
}

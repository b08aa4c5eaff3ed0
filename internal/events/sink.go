// internal/events/sink.go
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-vault/internal/logger"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

// BusSink publishes vault events on a Bus synchronously, so subscribers see
// them in operation order.
type BusSink struct {
	bus *Bus
}

// NewBusSink returns a sink backed by bus.
func NewBusSink(bus *Bus) *BusSink {
	return &BusSink{bus: bus}
}

// Emit implements vault.EventSink.
func (s *BusSink) Emit(ctx context.Context, e vault.Event) error {
	return s.bus.PublishSync(ctx, NewVaultEvent(e))
}

// MultiSink fans an event out to every sink, in order. A failing sink does not
// stop delivery to the rest.
type MultiSink []vault.EventSink

// Emit implements vault.EventSink.
func (m MultiSink) Emit(ctx context.Context, e vault.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JournalHeader is the column layout of the CSV journal.
var JournalHeader = []string{
	"timestamp", "vault", "sequence", "kind", "actor", "asset_amount", "shares", "detail",
}

// JournalRecord flattens a vault event into a JournalHeader row.
func JournalRecord(e vault.Event) []string {
	m := e.Meta()
	row := []string{
		m.Timestamp.UTC().Format(time.RFC3339Nano),
		m.Vault.String(),
		strconv.FormatUint(m.Sequence, 10),
		string(e.Kind()),
		"", "", "", "",
	}
	switch ev := e.(type) {
	case vault.DepositEvent:
		row[4] = ev.Depositor.String()
		row[5] = strconv.FormatUint(ev.AssetAmount, 10)
		row[6] = strconv.FormatUint(ev.SharesMinted, 10)
	case vault.WithdrawEvent:
		row[4] = ev.Withdrawer.String()
		row[5] = strconv.FormatUint(ev.AssetAmount, 10)
		row[6] = strconv.FormatUint(ev.SharesBurned, 10)
	case vault.PauseChangedEvent:
		row[4] = ev.Admin.String()
		row[7] = "paused=" + strconv.FormatBool(ev.Paused)
	case vault.AdminChangedEvent:
		row[4] = ev.Previous.String()
		row[7] = "admin=" + ev.Current.String()
	}
	return row
}

// Journal is an append-only file of vault events.
type Journal interface {
	vault.EventSink
	Close() error
}

// OpenJournal opens a journal at path. A .csv extension selects the CSV layout,
// anything else writes one JSON object per line.
func OpenJournal(path string, log *zap.Logger) (Journal, error) {
	log = log.Named("journal")
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		w, err := logger.NewSafeCSVWriter(path, JournalHeader, time.Second, log)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		return &csvJournal{w: w}, nil
	}
	w, err := logger.NewSafeFileWriter(path, time.Second, log)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &jsonJournal{w: w}, nil
}

type csvJournal struct {
	w *logger.SafeCSVWriter
}

func (j *csvJournal) Emit(_ context.Context, e vault.Event) error {
	return j.w.WriteRecord(JournalRecord(e))
}

func (j *csvJournal) Close() error { return j.w.Close() }

type jsonJournal struct {
	w *logger.SafeFileWriter
}

type journalLine struct {
	Kind  vault.EventKind `json:"kind"`
	Event vault.Event     `json:"event"`
}

func (j *jsonJournal) Emit(_ context.Context, e vault.Event) error {
	b, err := json.Marshal(journalLine{Kind: e.Kind(), Event: e})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Kind(), err)
	}
	return j.w.WriteLine(string(b))
}

func (j *jsonJournal) Close() error { return j.w.Close() }

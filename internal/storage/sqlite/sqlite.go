// Package sqlite is a file-backed Storage for single-host runs.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/rovshanmuradov/solana-vault/internal/storage"
	"github.com/rovshanmuradov/solana-vault/internal/storage/models"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

//go:embed schema.sql
var schemaSQL string

type Storage struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the database at path and applies the schema.
func Open(path string, logger *zap.Logger) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &Storage{db: db, logger: logger.Named("sqlite")}
	if err := s.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// RunMigrations applies the embedded schema. It is idempotent.
func (s *Storage) RunMigrations() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Debug("Schema applied")
	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveVault(ctx context.Context, st vault.State) error {
	row := models.SnapshotFromState(st)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_snapshots
			(asset_mint, share_mint, custody_account, admin, total_asset, total_shares, paused, sequence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_mint) DO UPDATE SET
			admin = excluded.admin,
			total_asset = excluded.total_asset,
			total_shares = excluded.total_shares,
			paused = excluded.paused,
			sequence = excluded.sequence,
			updated_at = excluded.updated_at`,
		row.AssetMint, row.ShareMint, row.CustodyAccount, row.Admin,
		row.TotalAsset.String(), row.TotalShares.String(), row.Paused, row.Sequence.String(),
		now, now)
	if err != nil {
		return fmt.Errorf("save vault %s: %w", st.AssetMint, err)
	}
	return nil
}

func (s *Storage) LoadVaults(ctx context.Context) ([]vault.State, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, asset_mint, share_mint, custody_account, admin, total_asset, total_shares, paused, sequence
		FROM vault_snapshots ORDER BY asset_mint`)
	if err != nil {
		return nil, fmt.Errorf("load vaults: %w", err)
	}
	defer rows.Close()

	var out []vault.State
	for rows.Next() {
		var (
			row                   models.VaultSnapshot
			asset, shares, seqTxt string
		)
		if err := rows.Scan(&row.ID, &row.AssetMint, &row.ShareMint, &row.CustodyAccount, &row.Admin,
			&asset, &shares, &row.Paused, &seqTxt); err != nil {
			return nil, fmt.Errorf("scan vault: %w", err)
		}
		if row.TotalAsset, err = decimal.NewFromString(asset); err != nil {
			return nil, fmt.Errorf("vault %s total_asset: %w", row.AssetMint, err)
		}
		if row.TotalShares, err = decimal.NewFromString(shares); err != nil {
			return nil, fmt.Errorf("vault %s total_shares: %w", row.AssetMint, err)
		}
		if row.Sequence, err = decimal.NewFromString(seqTxt); err != nil {
			return nil, fmt.Errorf("vault %s sequence: %w", row.AssetMint, err)
		}
		st, err := row.State()
		if err != nil {
			return nil, fmt.Errorf("vault %s: %w", row.AssetMint, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Storage) AppendEvent(ctx context.Context, e vault.Event) error {
	m := e.Meta()
	if m.Sequence > math.MaxInt64 {
		return fmt.Errorf("event %s #%d: sequence out of range", m.Vault, m.Sequence)
	}
	row := models.EventFromVault(e)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_events
			(asset_mint, sequence, kind, actor, asset_amount, shares, detail, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.AssetMint, int64(m.Sequence), row.Kind, row.Actor,
		row.AssetAmount.String(), row.Shares.String(), row.Detail,
		row.OccurredAt.Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s #%d", storage.ErrDuplicateEvent, m.Vault, m.Sequence)
		}
		return fmt.Errorf("append event %s #%d: %w", m.Vault, m.Sequence, err)
	}
	return nil
}

func (s *Storage) ListEvents(ctx context.Context, assetMint vault.Address, after uint64) ([]models.VaultEvent, error) {
	if after > math.MaxInt64 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, asset_mint, sequence, kind, actor, asset_amount, shares, detail, occurred_at
		FROM vault_events WHERE asset_mint = ? AND sequence > ? ORDER BY sequence`,
		assetMint.String(), int64(after))
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", assetMint, err)
	}
	defer rows.Close()

	var out []models.VaultEvent
	for rows.Next() {
		var (
			row                      models.VaultEvent
			seq                      int64
			amount, shares, occurred string
		)
		if err := rows.Scan(&row.ID, &row.AssetMint, &seq, &row.Kind, &row.Actor,
			&amount, &shares, &row.Detail, &occurred); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		row.Sequence = decimal.NewFromInt(seq)
		if row.AssetAmount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("event %s #%d asset_amount: %w", assetMint, seq, err)
		}
		if row.Shares, err = decimal.NewFromString(shares); err != nil {
			return nil, fmt.Errorf("event %s #%d shares: %w", assetMint, seq, err)
		}
		if row.OccurredAt, err = time.Parse(time.RFC3339Nano, occurred); err != nil {
			return nil, fmt.Errorf("event %s #%d occurred_at: %w", assetMint, seq, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var _ storage.Storage = (*Storage)(nil)

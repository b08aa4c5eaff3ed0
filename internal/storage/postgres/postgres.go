// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/rovshanmuradov/solana-vault/internal/storage"
	"github.com/rovshanmuradov/solana-vault/internal/storage/models"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

// migrationLock is the advisory lock key held while migrating.
const migrationLock = 7201

// zapGorm forwards GORM's logs to zap. Queries slower than slow are warned
// about; record-not-found is not an error here.
type zapGorm struct {
	log   *zap.Logger
	level logger.LogLevel
	slow  time.Duration
}

func newGormLogger(log *zap.Logger) logger.Interface {
	return &zapGorm{log: log, level: logger.Warn, slow: 200 * time.Millisecond}
}

func (g *zapGorm) LogMode(level logger.LogLevel) logger.Interface {
	c := *g
	c.level = level
	return &c
}

func (g *zapGorm) printf(at logger.LogLevel, lvl zapcore.Level, msg string, data []interface{}) {
	if g.level >= at {
		g.log.Log(lvl, fmt.Sprintf(msg, data...))
	}
}

func (g *zapGorm) Info(_ context.Context, msg string, data ...interface{}) {
	g.printf(logger.Info, zapcore.InfoLevel, msg, data)
}

func (g *zapGorm) Warn(_ context.Context, msg string, data ...interface{}) {
	g.printf(logger.Warn, zapcore.WarnLevel, msg, data)
}

func (g *zapGorm) Error(_ context.Context, msg string, data ...interface{}) {
	g.printf(logger.Error, zapcore.ErrorLevel, msg, data)
}

func (g *zapGorm) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}
	took := time.Since(begin)
	query, rows := fc()
	fields := []zap.Field{zap.Duration("took", took), zap.String("query", query), zap.Int64("rows", rows)}
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		g.log.Error("Query failed", append(fields, zap.Error(err))...)
	case took > g.slow && g.level >= logger.Warn:
		g.log.Warn("Slow query", fields...)
	case g.level >= logger.Info:
		g.log.Debug("Query", fields...)
	}
}

type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStorage connects to dsn. Call RunMigrations before first use.
func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{db: db, logger: zapLogger.Named("postgres")}, nil
}

// RunMigrations migrates the schema under an advisory lock.
func (p *postgresStorage) RunMigrations() error {
	var lockObtained bool
	if err := p.db.Raw("SELECT pg_try_advisory_lock(?)", migrationLock).Scan(&lockObtained).Error; err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return errors.New("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(?)", migrationLock)

	if err := p.db.AutoMigrate(&models.VaultSnapshot{}, &models.VaultEvent{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	p.logger.Info("Migrations applied")
	return nil
}

func (p *postgresStorage) SaveVault(ctx context.Context, st vault.State) error {
	row := models.SnapshotFromState(st)
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset_mint"}},
		DoUpdates: clause.AssignmentColumns([]string{"admin", "total_asset", "total_shares", "paused", "sequence", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save vault %s: %w", st.AssetMint, err)
	}
	return nil
}

func (p *postgresStorage) LoadVaults(ctx context.Context) ([]vault.State, error) {
	var rows []models.VaultSnapshot
	if err := p.db.WithContext(ctx).Order("asset_mint").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load vaults: %w", err)
	}
	out := make([]vault.State, 0, len(rows))
	for _, row := range rows {
		st, err := row.State()
		if err != nil {
			return nil, fmt.Errorf("vault %s: %w", row.AssetMint, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func (p *postgresStorage) AppendEvent(ctx context.Context, e vault.Event) error {
	row := models.EventFromVault(e)
	err := p.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		m := e.Meta()
		return fmt.Errorf("%w: %s #%d", storage.ErrDuplicateEvent, m.Vault, m.Sequence)
	}
	return err
}

func (p *postgresStorage) ListEvents(ctx context.Context, assetMint vault.Address, after uint64) ([]models.VaultEvent, error) {
	var rows []models.VaultEvent
	err := p.db.WithContext(ctx).
		Where("asset_mint = ? AND sequence > ?", assetMint.String(), models.Numeric(after)).
		Order("sequence").
		Find(&rows).Error
	return rows, err
}

func (p *postgresStorage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ storage.Storage = (*postgresStorage)(nil)

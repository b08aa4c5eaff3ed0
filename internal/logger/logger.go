// internal/logger/logger.go
package logger

import (
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls console and rotated file output.
type Config struct {
	LogFile     string // empty disables the file core
	MaxSize     int    // megabytes
	MaxAge      int    // days
	MaxBackups  int
	Compress    bool
	Development bool

	// Console defaults to stdout.
	Console zapcore.WriteSyncer
	// Pretty switches the console to PrettyEncoder; Color adds ANSI levels.
	Pretty bool
	Color  bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LogFile:    "vault.log",
		MaxSize:    100,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
	}
}

// Logger wraps zap.Logger with vault-specific helpers.
type Logger struct {
	*zap.Logger
	rotator *lumberjack.Logger
}

// New builds a logger that tees a console encoder and, when cfg.LogFile is
// set, a JSON encoder rotated by lumberjack.
func New(cfg Config) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	level := zapcore.InfoLevel
	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		level = zapcore.DebugLevel
	}
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	console := cfg.Console
	if console == nil {
		console = zapcore.Lock(os.Stdout)
	}
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	if cfg.Pretty {
		consoleEncoder = PrettyEncoder(cfg.Color)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, console, level),
	}

	var rotator *lumberjack.Logger
	if cfg.LogFile != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level))
	}

	return &Logger{
		Logger: zap.New(zapcore.NewTee(cores...),
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		),
		rotator: rotator,
	}
}

// WithVault scopes the logger to one vault.
func (l *Logger) WithVault(assetMint string) *zap.Logger {
	return l.With(zap.String("asset_mint", assetMint))
}

// WithOperation creates a logger for one operation with a fresh correlation id.
func (l *Logger) WithOperation(operation string) *zap.Logger {
	return l.With(
		zap.String("operation", operation),
		zap.String("correlation_id", uuid.New().String()),
	)
}

// TrackPerformance logs the duration of operation when the returned func is called.
func (l *Logger) TrackPerformance(operation string) (end func()) {
	start := time.Now()
	opLogger := l.WithOperation(operation)
	opLogger.Debug("Starting operation")

	return func() {
		d := time.Since(start)
		opLogger.Debug("Operation completed",
			zap.Duration("duration", d),
			zap.Float64("duration_ms", float64(d.Microseconds())/1000))
	}
}

// Sync flushes buffered entries, ignoring the errors terminals return for fsync.
func (l *Logger) Sync() error {
	err := l.Logger.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}

// Close syncs and closes the rotated file, if any.
func (l *Logger) Close() error {
	syncErr := l.Sync()
	if l.rotator == nil {
		return syncErr
	}
	return errors.Join(syncErr, l.rotator.Close())
}

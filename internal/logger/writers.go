// internal/logger/writers.go
package logger

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// appendFile is an append-only file flushed on a timer. Embedders hold mu while
// touching their buffered writer.
type appendFile struct {
	mu       sync.Mutex
	file     *os.File
	ticker   *time.Ticker
	done     chan struct{}
	once     sync.Once
	logger   *zap.Logger
	filePath string

	written uint64
	flushes uint64
}

func openAppend(filePath string, flushInterval time.Duration, logger *zap.Logger) (*appendFile, int64, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, 0, fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat file: %w", err)
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &appendFile{
		file:     file,
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		logger:   logger,
		filePath: filePath,
	}, stat.Size(), nil
}

func (a *appendFile) run(flush func() error) {
	for {
		select {
		case <-a.ticker.C:
			if err := flush(); err != nil {
				a.logger.Error("Periodic flush failed",
					zap.String("file", a.filePath),
					zap.Error(err))
			}
		case <-a.done:
			return
		}
	}
}

func (a *appendFile) stop() {
	a.once.Do(func() {
		close(a.done)
		a.ticker.Stop()
	})
}

// SafeFileWriter is a buffered line writer safe for concurrent use.
type SafeFileWriter struct {
	*appendFile
	writer *bufio.Writer
}

// NewSafeFileWriter opens filePath for appending and flushes it every flushInterval.
func NewSafeFileWriter(filePath string, flushInterval time.Duration, logger *zap.Logger) (*SafeFileWriter, error) {
	af, _, err := openAppend(filePath, flushInterval, logger)
	if err != nil {
		return nil, err
	}
	w := &SafeFileWriter{appendFile: af, writer: bufio.NewWriter(af.file)}
	go af.run(w.Flush)
	return w, nil
}

// Write implements io.Writer. Each call counts as one line.
func (w *SafeFileWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.writer.Write(data)
	if err != nil {
		return n, fmt.Errorf("failed to write data: %w", err)
	}
	w.written++
	return n, nil
}

// WriteLine writes line followed by a newline.
func (w *SafeFileWriter) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.writer.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	w.written++
	return nil
}

// Flush writes buffered data and syncs the file.
func (w *SafeFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	w.flushes++
	return nil
}

// Close flushes and closes the file.
func (w *SafeFileWriter) Close() error {
	w.stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	w.logger.Debug("Safe file writer closed",
		zap.String("file", w.filePath),
		zap.Uint64("written_lines", w.written),
		zap.Uint64("flush_count", w.flushes))
	return nil
}

// GetStats returns the number of lines written and flushes performed.
func (w *SafeFileWriter) GetStats() (lines, flushes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, w.flushes
}

// SafeCSVWriter is a buffered CSV writer safe for concurrent use. The header
// is written once, when the file is empty.
type SafeCSVWriter struct {
	*appendFile
	writer *csv.Writer
}

// NewSafeCSVWriter opens filePath for appending CSV records.
func NewSafeCSVWriter(filePath string, header []string, flushInterval time.Duration, logger *zap.Logger) (*SafeCSVWriter, error) {
	af, size, err := openAppend(filePath, flushInterval, logger)
	if err != nil {
		return nil, err
	}
	w := &SafeCSVWriter{appendFile: af, writer: csv.NewWriter(af.file)}

	if size == 0 && len(header) > 0 {
		w.writer.Write(header)
		w.writer.Flush()
		if err := w.writer.Error(); err != nil {
			af.stop()
			af.file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	go af.run(w.Flush)
	return w, nil
}

// WriteRecord buffers one CSV record.
func (w *SafeCSVWriter) WriteRecord(record []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	w.written++
	return nil
}

// Flush writes buffered records and syncs the file.
func (w *SafeCSVWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	w.flushes++
	return nil
}

// Close flushes and closes the file.
func (w *SafeCSVWriter) Close() error {
	w.stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error on close: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	w.logger.Debug("Safe CSV writer closed",
		zap.String("file", w.filePath),
		zap.Uint64("written_records", w.written),
		zap.Uint64("flush_count", w.flushes))
	return nil
}

// GetStats returns the number of records written, header excluded, and flushes performed.
func (w *SafeCSVWriter) GetStats() (records, flushes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, w.flushes
}

// Package store persists per-symbol candle series as an interchangeable
// file pair: CSV (primary) and Parquet (secondary). Reads prefer CSV and
// fall back to Parquet on any structural failure; writes always produce
// both encodings as independent best-effort outputs, never a transaction.
//
// The store is stateless and reentrant; it holds no state between calls.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/niftysync/niftysync/internal/clean"
	"github.com/niftysync/niftysync/internal/models"
)

const (
	csvExtension     = ".csv"
	parquetExtension = ".parquet"
)

// Store reads and writes one symbol's series under a fixed data directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates a Store rooted at dir. The directory is created lazily on
// the first write.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the data directory the store writes into.
func (s *Store) Dir() string { return s.dir }

func (s *Store) csvPath(symbol string) string {
	return filepath.Join(s.dir, symbol+csvExtension)
}

func (s *Store) parquetPath(symbol string) string {
	return filepath.Join(s.dir, symbol+parquetExtension)
}

// Read loads the persisted series for symbol, trying CSV first and falling
// back to Parquet when the CSV is missing or structurally unusable (no
// timestamp column, nothing parseable, missing OHLCV fields). Timestamps
// are normalized to the naive IST convention regardless of how they were
// stored, and a minimal clean pass (forward-fill, drop incomplete rows,
// force volume non-negative) is applied. An empty result is not an error:
// it signals start of history.
func (s *Store) Read(symbol string) models.Series {
	log := s.logger.With("symbol", symbol)

	if recs, ok := s.readCSV(symbol, log); ok {
		series := clean.Normalize(recs, log)
		log.Info("loaded existing data from CSV", "rows", series.Len())
		return series
	}
	if recs, ok := s.readParquet(symbol, log); ok {
		series := clean.Normalize(recs, log)
		log.Info("loaded existing data from Parquet", "rows", series.Len())
		return series
	}

	log.Info("no usable existing data file found")
	return nil
}

// Write cleans, sorts, and deduplicates the series (keeping the last
// occurrence per timestamp) and writes it to both encodings, replacing the
// prior file contents entirely. A failure writing one encoding is logged
// but does not block the other. An empty input or a series that cleans
// down to nothing is skipped with a notice. A failure to create the data
// directory is returned as a fatal error for this symbol.
func (s *Store) Write(symbol string, series models.Series) error {
	log := s.logger.With("symbol", symbol)

	if series.Empty() {
		log.Warn("no data to save, skipping write")
		return nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		log.Error("could not create data directory", "dir", s.dir, "error", err)
		return fmt.Errorf("create data directory %s: %w", s.dir, err)
	}

	cleaned := clean.Clean(clean.FromSeries(series), log)
	if cleaned.Empty() {
		log.Warn("series is empty after cleaning, skipping write")
		return nil
	}

	log.Info("saving series", "rows", cleaned.Len())

	if err := s.writeCSV(symbol, cleaned); err != nil {
		log.Error("failed to write CSV", "path", s.csvPath(symbol), "error", err)
	} else {
		log.Info("saved CSV", "path", s.csvPath(symbol))
	}

	if err := s.writeParquet(symbol, cleaned); err != nil {
		log.Error("failed to write Parquet", "path", s.parquetPath(symbol), "error", err)
	} else {
		log.Info("saved Parquet", "path", s.parquetPath(symbol))
	}

	return nil
}

// usable reports whether a decoded record set has at least one parseable
// timestamp. A file whose timestamp column is entirely unparseable is
// treated as structurally broken so the caller can fall back.
func usable(recs []clean.Record) bool {
	for _, r := range recs {
		if !r.Timestamp.IsZero() {
			return true
		}
	}
	return false
}

// Package clean canonicalizes raw OHLCV records into a validated Series.
//
// The pipeline is a fixed sequence of pure stages: timestamp normalization,
// sort plus duplicate removal (keep last), forward-fill of missing fields,
// OHLC invariant filtering, and volume sign repair. Every stage is
// deterministic and the composition is idempotent, so cleaning an already
// clean series is a no-op. Rows violating invariants are dropped and
// counted, never repaired (except for negative volume, which is treated as
// a sign error rather than bad data).
package clean

import (
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/niftysync/niftysync/internal/models"
)

// Record is one raw OHLCV row before validation. A zero Timestamp marks an
// unparseable or missing datetime; an invalid NullDecimal marks a missing
// field. Both file decoding and API decoding produce Records so the same
// cleaning stages apply to either source.
type Record struct {
	Timestamp time.Time
	Open      decimal.NullDecimal
	High      decimal.NullDecimal
	Low       decimal.NullDecimal
	Close     decimal.NullDecimal
	Volume    decimal.NullDecimal
}

// FromSeries converts an already materialized series back into records so
// the full pipeline can be re-applied before persistence.
func FromSeries(s models.Series) []Record {
	recs := make([]Record, len(s))
	for i, c := range s {
		recs[i] = Record{
			Timestamp: c.Timestamp,
			Open:      decimal.NullDecimal{Decimal: c.Open, Valid: true},
			High:      decimal.NullDecimal{Decimal: c.High, Valid: true},
			Low:       decimal.NullDecimal{Decimal: c.Low, Valid: true},
			Close:     decimal.NullDecimal{Decimal: c.Close, Valid: true},
			Volume:    decimal.NullDecimal{Decimal: c.Volume, Valid: true},
		}
	}
	return recs
}

// Clean runs the full canonicalization pipeline and returns the surviving
// candles sorted ascending by timestamp, unique per timestamp.
func Clean(recs []Record, logger *slog.Logger) models.Series {
	if logger == nil {
		logger = slog.Default()
	}

	recs = dropBadTimestamps(recs, logger)
	if len(recs) == 0 {
		return nil
	}
	recs = sortAndDedup(recs, logger)
	recs = forwardFill(recs, logger)
	series := materialize(recs)
	series = dropInvalidOHLC(series, logger)
	absVolume(series)
	return series
}

// Normalize applies only the minimal read-time pass: drop rows with
// unparseable timestamps, forward-fill missing fields, drop rows that are
// still incomplete, and force volume non-negative. Full validation is
// deferred to Clean, which the store runs again before writing.
func Normalize(recs []Record, logger *slog.Logger) models.Series {
	if logger == nil {
		logger = slog.Default()
	}

	recs = dropBadTimestamps(recs, logger)
	recs = forwardFill(recs, logger)
	series := materialize(recs)
	absVolume(series)
	return series
}

// dropBadTimestamps removes records whose timestamp never parsed.
func dropBadTimestamps(recs []Record, logger *slog.Logger) []Record {
	out := recs[:0]
	dropped := 0
	for _, r := range recs {
		if r.Timestamp.IsZero() {
			dropped++
			continue
		}
		out = append(out, r)
	}
	if dropped > 0 {
		logger.Warn("dropped rows with invalid timestamps", "count", dropped)
	}
	return out
}

// sortAndDedup orders records ascending by timestamp and removes duplicate
// timestamps keeping the last occurrence, so freshly fetched rows supersede
// stale existing ones when ranges overlap.
func sortAndDedup(recs []Record, logger *slog.Logger) []Record {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})

	out := recs[:0]
	for i := 0; i < len(recs); i++ {
		if i+1 < len(recs) && recs[i+1].Timestamp.Equal(recs[i].Timestamp) {
			continue
		}
		out = append(out, recs[i])
	}
	if dropped := len(recs) - len(out); dropped > 0 {
		logger.Info("dropped duplicate timestamps", "count", dropped)
	}
	return out
}

// forwardFill fills missing price/volume fields from the previous row,
// per column, then drops rows that still have gaps (leading nulls).
func forwardFill(recs []Record, logger *slog.Logger) []Record {
	var prev Record
	havePrev := false
	for i := range recs {
		if havePrev {
			fillField(&recs[i].Open, prev.Open)
			fillField(&recs[i].High, prev.High)
			fillField(&recs[i].Low, prev.Low)
			fillField(&recs[i].Close, prev.Close)
			fillField(&recs[i].Volume, prev.Volume)
		}
		prev = recs[i]
		havePrev = true
	}

	out := recs[:0]
	dropped := 0
	for _, r := range recs {
		if !r.Open.Valid || !r.High.Valid || !r.Low.Valid || !r.Close.Valid || !r.Volume.Valid {
			dropped++
			continue
		}
		out = append(out, r)
	}
	if dropped > 0 {
		logger.Warn("dropped rows with missing OHLCV fields after forward-fill", "count", dropped)
	}
	return out
}

func fillField(dst *decimal.NullDecimal, prev decimal.NullDecimal) {
	if !dst.Valid && prev.Valid {
		*dst = prev
	}
}

// materialize converts fully populated records into candles.
func materialize(recs []Record) models.Series {
	series := make(models.Series, 0, len(recs))
	for _, r := range recs {
		series = append(series, models.Candle{
			Timestamp: r.Timestamp,
			Open:      r.Open.Decimal,
			High:      r.High.Decimal,
			Low:       r.Low.Decimal,
			Close:     r.Close.Decimal,
			Volume:    r.Volume.Decimal,
		})
	}
	return series
}

// dropInvalidOHLC removes candles violating the OHLC relationship
// invariants. Each violation class is counted and logged separately;
// rows are removed, not repaired.
func dropInvalidOHLC(series models.Series, logger *slog.Logger) models.Series {
	var highBelowLow, highBelowBody, lowAboveBody int

	out := series[:0]
	for _, c := range series {
		switch {
		case c.High.LessThan(c.Low):
			highBelowLow++
		case c.High.LessThan(c.Open) || c.High.LessThan(c.Close):
			highBelowBody++
		case c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close):
			lowAboveBody++
		default:
			out = append(out, c)
		}
	}

	if highBelowLow > 0 {
		logger.Warn("dropped rows where high < low", "count", highBelowLow)
	}
	if highBelowBody > 0 {
		logger.Warn("dropped rows where high < open or close", "count", highBelowBody)
	}
	if lowAboveBody > 0 {
		logger.Warn("dropped rows where low > open or close", "count", lowAboveBody)
	}
	return out
}

// absVolume forces volume to its absolute value in place. Negative volume
// is treated as a sign error upstream, not as an invalid row.
func absVolume(series models.Series) {
	for i := range series {
		if series[i].Volume.IsNegative() {
			series[i].Volume = series[i].Volume.Abs()
		}
	}
}

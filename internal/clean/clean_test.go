package clean

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niftysync/niftysync/internal/models"
)

var base = time.Date(2024, 1, 2, 9, 15, 0, 0, models.IST)

func num(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func null() decimal.NullDecimal { return decimal.NullDecimal{} }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(ts time.Time, o, h, l, c, v decimal.NullDecimal) Record {
	return Record{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func fullRecord(ts time.Time, o, h, l, c, v string) Record {
	return record(ts, num(o), num(h), num(l), num(c), num(v))
}

// capture is a slog handler that records every emitted message and its
// count attribute, so tests can assert on aggregated warnings.
type capture struct {
	records []capturedRecord
}

type capturedRecord struct {
	level   slog.Level
	message string
	count   int64
}

func (c *capture) Enabled(context.Context, slog.Level) bool { return true }
func (c *capture) WithAttrs([]slog.Attr) slog.Handler       { return c }
func (c *capture) WithGroup(string) slog.Handler            { return c }

func (c *capture) Handle(_ context.Context, r slog.Record) error {
	rec := capturedRecord{level: r.Level, message: r.Message}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "count" {
			rec.count = a.Value.Int64()
		}
		return true
	})
	c.records = append(c.records, rec)
	return nil
}

func (c *capture) find(message string) (capturedRecord, bool) {
	for _, r := range c.records {
		if r.message == message {
			return r, true
		}
	}
	return capturedRecord{}, false
}

func TestCleanSortsAndDeduplicatesKeepLast(t *testing.T) {
	recs := []Record{
		fullRecord(base.Add(time.Hour), "10", "11", "9", "10", "100"),
		fullRecord(base, "1", "2", "1", "2", "10"),
		// Duplicate of base: the later occurrence must win.
		fullRecord(base, "5", "6", "5", "6", "50"),
	}

	got := Clean(recs, discardLogger())
	require.Equal(t, 2, got.Len())
	assert.True(t, got[0].Timestamp.Equal(base))
	assert.True(t, got[0].Open.Equal(decimal.NewFromInt(5)))
	assert.True(t, got[1].Timestamp.Equal(base.Add(time.Hour)))
}

func TestCleanForwardFill(t *testing.T) {
	recs := []Record{
		fullRecord(base, "10", "12", "9", "11", "100"),
		// Missing high and volume: filled from the previous row.
		record(base.Add(time.Hour), num("11"), null(), num("10"), num("12"), null()),
	}

	got := Clean(recs, discardLogger())
	require.Equal(t, 2, got.Len())
	assert.True(t, got[1].High.Equal(decimal.NewFromInt(12)))
	assert.True(t, got[1].Volume.Equal(decimal.NewFromInt(100)))
}

func TestCleanDropsLeadingIncompleteRows(t *testing.T) {
	recs := []Record{
		// First row has no previous row to fill from.
		record(base, null(), num("12"), num("9"), num("11"), num("100")),
		fullRecord(base.Add(time.Hour), "11", "13", "10", "12", "200"),
	}

	got := Clean(recs, discardLogger())
	require.Equal(t, 1, got.Len())
	assert.True(t, got[0].Timestamp.Equal(base.Add(time.Hour)))
}

func TestCleanDropsBadTimestamps(t *testing.T) {
	recs := []Record{
		fullRecord(time.Time{}, "1", "2", "1", "2", "10"),
		fullRecord(base, "1", "2", "1", "2", "10"),
	}

	h := &capture{}
	got := Clean(recs, slog.New(h))
	require.Equal(t, 1, got.Len())

	rec, ok := h.find("dropped rows with invalid timestamps")
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.count)
}

func TestCleanCountsEachViolationClassSeparately(t *testing.T) {
	recs := []Record{
		fullRecord(base, "10", "12", "9", "11", "100"),
		// high < low
		fullRecord(base.Add(1*time.Hour), "10", "8", "9", "10", "100"),
		// high < close, twice
		fullRecord(base.Add(2*time.Hour), "10", "11", "9", "12", "100"),
		fullRecord(base.Add(3*time.Hour), "10", "11", "9", "13", "100"),
		// low > open
		fullRecord(base.Add(4*time.Hour), "8", "12", "9", "11", "100"),
	}

	h := &capture{}
	got := Clean(recs, slog.New(h))
	require.Equal(t, 1, got.Len())

	rec, ok := h.find("dropped rows where high < low")
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.count)

	rec, ok = h.find("dropped rows where high < open or close")
	require.True(t, ok)
	assert.Equal(t, int64(2), rec.count)

	rec, ok = h.find("dropped rows where low > open or close")
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.count)
}

func TestCleanRepairsNegativeVolume(t *testing.T) {
	recs := []Record{
		fullRecord(base, "10", "12", "9", "11", "-100"),
	}

	got := Clean(recs, discardLogger())
	require.Equal(t, 1, got.Len())
	assert.True(t, got[0].Volume.Equal(decimal.NewFromInt(100)))
}

func TestCleanIdempotent(t *testing.T) {
	recs := []Record{
		fullRecord(base.Add(time.Hour), "10", "11", "9", "10", "100"),
		fullRecord(base, "1", "2", "1", "2", "10"),
		fullRecord(base, "5", "6", "5", "6", "50"),
		record(base.Add(2*time.Hour), num("10"), null(), num("9"), num("10"), num("100")),
	}

	once := Clean(recs, discardLogger())
	twice := Clean(FromSeries(once), discardLogger())

	require.Equal(t, once.Len(), twice.Len())
	for i := range once {
		assert.True(t, once[i].Timestamp.Equal(twice[i].Timestamp))
		assert.True(t, once[i].Open.Equal(twice[i].Open))
		assert.True(t, once[i].High.Equal(twice[i].High))
		assert.True(t, once[i].Low.Equal(twice[i].Low))
		assert.True(t, once[i].Close.Equal(twice[i].Close))
		assert.True(t, once[i].Volume.Equal(twice[i].Volume))
	}
}

func TestNormalizeSkipsOHLCValidation(t *testing.T) {
	recs := []Record{
		// Invalid OHLC relationship survives the read-time pass; full
		// validation happens again before writing.
		fullRecord(base, "10", "8", "9", "10", "100"),
	}

	got := Normalize(recs, discardLogger())
	assert.Equal(t, 1, got.Len())
}

package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 1, 2, 9, 15, 0, 0, IST)

func candleAt(ts time.Time, o, h, l, c, v string) Candle {
	return Candle{
		Timestamp: ts,
		Open:      decimal.RequireFromString(o),
		High:      decimal.RequireFromString(h),
		Low:       decimal.RequireFromString(l),
		Close:     decimal.RequireFromString(c),
		Volume:    decimal.RequireFromString(v),
	}
}

func TestCandleValidate(t *testing.T) {
	tests := []struct {
		name      string
		candle    Candle
		wantField string
	}{
		{
			name:   "valid_bullish_candle",
			candle: candleAt(testTime, "100.00", "105.50", "99.25", "104.00", "1500"),
		},
		{
			name:   "valid_doji_candle",
			candle: candleAt(testTime, "100.00", "101.00", "99.00", "100.00", "0"),
		},
		{
			name:      "zero_timestamp",
			candle:    candleAt(time.Time{}, "100", "105", "99", "104", "10"),
			wantField: "timestamp",
		},
		{
			name:      "negative_open",
			candle:    candleAt(testTime, "-1", "105", "99", "104", "10"),
			wantField: "open",
		},
		{
			name:      "high_below_low",
			candle:    candleAt(testTime, "100", "98", "99", "100", "10"),
			wantField: "high",
		},
		{
			name:      "high_below_close",
			candle:    candleAt(testTime, "100", "103", "99", "104", "10"),
			wantField: "high",
		},
		{
			name:      "low_above_open",
			candle:    candleAt(testTime, "98", "105", "99", "104", "10"),
			wantField: "low",
		},
		{
			name:      "negative_volume",
			candle:    candleAt(testTime, "100", "105", "99", "104", "-10"),
			wantField: "volume",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.candle.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestSeriesLastTimestamp(t *testing.T) {
	assert.True(t, Series{}.LastTimestamp().IsZero())

	// Works on unsorted input.
	s := Series{
		candleAt(testTime.Add(2*time.Hour), "1", "1", "1", "1", "1"),
		candleAt(testTime, "1", "1", "1", "1", "1"),
		candleAt(testTime.Add(time.Hour), "1", "1", "1", "1", "1"),
	}
	assert.True(t, s.LastTimestamp().Equal(testTime.Add(2*time.Hour)))
}

func TestSeriesClip(t *testing.T) {
	s := Series{
		candleAt(testTime.Add(-time.Minute), "1", "1", "1", "1", "1"),
		candleAt(testTime, "1", "1", "1", "1", "1"),
		candleAt(testTime.Add(time.Hour), "1", "1", "1", "1", "1"),
		candleAt(testTime.Add(time.Hour+time.Minute), "1", "1", "1", "1", "1"),
	}

	// Bounds are inclusive on both ends.
	got := s.Clip(testTime, testTime.Add(time.Hour))
	require.Equal(t, 2, got.Len())
	assert.True(t, got[0].Timestamp.Equal(testTime))
	assert.True(t, got[1].Timestamp.Equal(testTime.Add(time.Hour)))
}

func TestSeriesSortStable(t *testing.T) {
	a := candleAt(testTime, "1", "2", "1", "2", "10")
	b := candleAt(testTime, "3", "4", "3", "4", "20")
	s := Series{a, b}
	s.Sort()
	// Stable: the later-appended duplicate stays last.
	assert.True(t, s[1].Open.Equal(b.Open))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
		ok    bool
	}{
		{
			name:  "wall_clock",
			input: "2024-01-02 09:15:00",
			want:  time.Date(2024, 1, 2, 9, 15, 0, 0, IST),
			ok:    true,
		},
		{
			name:  "iso_t_separator",
			input: "2024-01-02T09:15:00",
			want:  time.Date(2024, 1, 2, 9, 15, 0, 0, IST),
			ok:    true,
		},
		{
			name:  "date_only",
			input: "2016-10-01",
			want:  time.Date(2016, 10, 1, 0, 0, 0, 0, IST),
			ok:    true,
		},
		{
			name: "offset_carrying_converted_to_ist",
			// +05:30 offset: wall clock is kept as-is.
			input: "2024-01-02T09:15:00+05:30",
			want:  time.Date(2024, 1, 2, 9, 15, 0, 0, IST),
			ok:    true,
		},
		{
			name: "utc_converted_to_ist",
			// 03:45 UTC is 09:15 IST.
			input: "2024-01-02T03:45:00Z",
			want:  time.Date(2024, 1, 2, 9, 15, 0, 0, IST),
			ok:    true,
		},
		{
			name:  "garbage",
			input: "not a time",
		},
		{
			name:  "empty",
			input: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.input)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
			}
		})
	}
}

func TestFormatTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 2, 9, 15, 0, 0, IST)
	formatted := FormatTimestamp(ts)
	assert.Equal(t, "2024-01-02 09:15:00", formatted)

	parsed, ok := ParseTimestamp(formatted)
	require.True(t, ok)
	assert.True(t, parsed.Equal(ts))
}

package models

import (
	"sort"
	"time"
)

// Series is an ordered sequence of candles for one symbol, unique by
// timestamp and sorted ascending once finalized. A nil or empty Series
// signals "start of history", not an error.
type Series []Candle

// Len reports the number of candles in the series.
func (s Series) Len() int { return len(s) }

// Empty reports whether the series holds no candles.
func (s Series) Empty() bool { return len(s) == 0 }

// LastTimestamp returns the maximum timestamp present in the series.
// The series does not need to be sorted. Returns the zero time when empty.
func (s Series) LastTimestamp() time.Time {
	var last time.Time
	for i := range s {
		if s[i].Timestamp.After(last) {
			last = s[i].Timestamp
		}
	}
	return last
}

// Sort orders the series ascending by timestamp in place. The sort is
// stable so that, among candles sharing a timestamp, the later-appended
// one stays last (last-write-wins on dedup).
func (s Series) Sort() {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Timestamp.Before(s[j].Timestamp)
	})
}

// Clip returns the candles whose timestamps fall inside [from, to]
// inclusive, preserving order. Used to discard out-of-range rows an
// upstream response may carry.
func (s Series) Clip(from, to time.Time) Series {
	out := make(Series, 0, len(s))
	for i := range s {
		ts := s[i].Timestamp
		if ts.Before(from) || ts.After(to) {
			continue
		}
		out = append(out, s[i])
	}
	return out
}

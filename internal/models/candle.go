// Package models provides the core data structures for NIFTY 50 candle data.
// It defines the Candle and Series types shared by the store, cleaner, API
// client, and sync engine, along with the fixed-zone timestamp convention
// used throughout the application.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// IST is the single timezone every timestamp in the system is interpreted in.
// The upstream API and the on-disk files both carry naive wall-clock times;
// they are pinned to this zone at the boundary and never converted again.
var IST = time.FixedZone("IST", 5*3600+30*60)

// TimestampLayout is the wall-clock serialization format used for the
// DateTime column in both file encodings. No offset or zone suffix.
const TimestampLayout = "2006-01-02 15:04:05"

// Candle represents one OHLCV bar at a specific timestamp.
type Candle struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// ValidationError reports which field of a candle failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks the OHLC relationship invariants on the candle:
// all prices non-negative, low <= min(open, close), max(open, close) <= high,
// and volume >= 0. Returns a ValidationError describing the first violation.
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be zero"}
	}

	zero := decimal.Zero
	if c.Open.LessThan(zero) {
		return &ValidationError{Field: "open", Message: "open price must be non-negative"}
	}
	if c.High.LessThan(zero) {
		return &ValidationError{Field: "high", Message: "high price must be non-negative"}
	}
	if c.Low.LessThan(zero) {
		return &ValidationError{Field: "low", Message: "low price must be non-negative"}
	}
	if c.Close.LessThan(zero) {
		return &ValidationError{Field: "close", Message: "close price must be non-negative"}
	}

	if c.High.LessThan(c.Low) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high (%s) must be greater than or equal to low (%s)", c.High, c.Low),
		}
	}
	if maxOpenClose := decimal.Max(c.Open, c.Close); c.High.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high (%s) must be greater than or equal to max(open, close) (%s)", c.High, maxOpenClose),
		}
	}
	if minOpenClose := decimal.Min(c.Open, c.Close); c.Low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low (%s) must be less than or equal to min(open, close) (%s)", c.Low, minOpenClose),
		}
	}

	if c.Volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	return nil
}

// String implements fmt.Stringer for log output.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{Timestamp: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		c.Timestamp.Format(TimestampLayout), c.Open, c.High, c.Low, c.Close, c.Volume)
}

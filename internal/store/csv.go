package store

import (
	"encoding/csv"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"

	"github.com/niftysync/niftysync/internal/clean"
	"github.com/niftysync/niftysync/internal/models"
)

// csvHeader is the canonical column order for the primary encoding.
var csvHeader = []string{"DateTime", "Open", "High", "Low", "Close", "Volume"}

// readCSV decodes the CSV file for symbol into raw records. It accepts the
// canonical single DateTime column as well as the legacy two-column
// Date+Time layout, which is merged into DateTime and discarded. Returns
// false when the file is missing or structurally unusable so the caller
// falls back to Parquet.
func (s *Store) readCSV(symbol string, log *slog.Logger) ([]clean.Record, bool) {
	path := s.csvPath(symbol)
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("error opening CSV file", "path", path, "error", err)
		}
		return nil, false
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		log.Error("error reading CSV file, falling back to Parquet", "path", path, "error", err)
		return nil, false
	}
	if len(rows) < 2 {
		log.Warn("CSV file has no data rows", "path", path)
		return nil, false
	}

	cols := indexColumns(rows[0])
	dtCol, dateCol, timeCol := cols["DateTime"], cols["Date"], cols["Time"]
	if dtCol < 0 && (dateCol < 0 || timeCol < 0) {
		log.Warn("CSV file has no DateTime or Date/Time columns, cannot use it", "path", path)
		return nil, false
	}
	for _, name := range []string{"Open", "High", "Low", "Close", "Volume"} {
		if cols[name] < 0 {
			log.Warn("CSV file is missing an essential OHLCV column", "path", path, "column", name)
			return nil, false
		}
	}

	recs := make([]clean.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		var raw string
		if dtCol >= 0 && dtCol < len(row) {
			raw = row[dtCol]
		} else if dateCol >= 0 && timeCol >= 0 && dateCol < len(row) && timeCol < len(row) {
			raw = row[dateCol] + " " + row[timeCol]
		}

		ts, _ := models.ParseTimestamp(raw)
		recs = append(recs, clean.Record{
			Timestamp: ts,
			Open:      cell(row, cols["Open"]),
			High:      cell(row, cols["High"]),
			Low:       cell(row, cols["Low"]),
			Close:     cell(row, cols["Close"]),
			Volume:    cell(row, cols["Volume"]),
		})
	}

	if !usable(recs) {
		log.Warn("CSV file has an unusable DateTime column, falling back to Parquet", "path", path)
		return nil, false
	}
	return recs, true
}

// writeCSV replaces the CSV file for symbol with the given series.
func (s *Store) writeCSV(symbol string, series models.Series) error {
	f, err := os.Create(s.csvPath(symbol))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for i := range series {
		c := &series[i]
		row := []string{
			models.FormatTimestamp(c.Timestamp),
			c.Open.String(),
			c.High.String(),
			c.Low.String(),
			c.Close.String(),
			c.Volume.String(),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// indexColumns maps known header names to their positions, -1 when absent.
func indexColumns(header []string) map[string]int {
	cols := map[string]int{
		"DateTime": -1, "Date": -1, "Time": -1,
		"Open": -1, "High": -1, "Low": -1, "Close": -1, "Volume": -1,
	}
	for i, name := range header {
		if _, known := cols[name]; known {
			cols[name] = i
		}
	}
	return cols
}

// cell parses one CSV field into a nullable decimal. Empty or malformed
// values come back invalid and are handled by the cleaner.
func cell(row []string, col int) decimal.NullDecimal {
	if col < 0 || col >= len(row) {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(row[col])
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

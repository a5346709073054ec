package store

import (
	"log/slog"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"github.com/niftysync/niftysync/internal/clean"
	"github.com/niftysync/niftysync/internal/models"
)

// parquetRow mirrors the CSV layout: the DateTime column keeps the same
// naive string encoding, and prices stay decimal strings, so the two file
// encodings round-trip identically.
type parquetRow struct {
	DateTime string `parquet:"DateTime"`
	Open     string `parquet:"Open"`
	High     string `parquet:"High"`
	Low      string `parquet:"Low"`
	Close    string `parquet:"Close"`
	Volume   string `parquet:"Volume"`
}

// parquetLegacyRow is the old two-column layout accepted on read only.
type parquetLegacyRow struct {
	Date   string `parquet:"Date"`
	Time   string `parquet:"Time"`
	Open   string `parquet:"Open"`
	High   string `parquet:"High"`
	Low    string `parquet:"Low"`
	Close  string `parquet:"Close"`
	Volume string `parquet:"Volume"`
}

// readParquet decodes the Parquet file for symbol, trying the canonical
// schema first and the legacy Date+Time schema second. Returns false when
// the file is missing or neither schema yields a usable timestamp column.
func (s *Store) readParquet(symbol string, log *slog.Logger) ([]clean.Record, bool) {
	path := s.parquetPath(symbol)
	if _, err := os.Stat(path); err != nil {
		return nil, false
	}

	rows, err := parquet.ReadFile[parquetRow](path)
	if err == nil {
		recs := make([]clean.Record, 0, len(rows))
		for _, row := range rows {
			recs = append(recs, parquetRecord(row.DateTime, row.Open, row.High, row.Low, row.Close, row.Volume))
		}
		if usable(recs) {
			return recs, true
		}
		log.Warn("Parquet file has an unusable DateTime column", "path", path)
	} else {
		log.Warn("could not read Parquet with canonical schema, trying legacy layout", "path", path, "error", err)
	}

	legacy, err := parquet.ReadFile[parquetLegacyRow](path)
	if err != nil {
		log.Error("error reading Parquet file, treating as no existing data", "path", path, "error", err)
		return nil, false
	}
	recs := make([]clean.Record, 0, len(legacy))
	for _, row := range legacy {
		recs = append(recs, parquetRecord(row.Date+" "+row.Time, row.Open, row.High, row.Low, row.Close, row.Volume))
	}
	if !usable(recs) {
		log.Warn("legacy Parquet layout has an unusable Date/Time column", "path", path)
		return nil, false
	}
	return recs, true
}

// writeParquet replaces the Parquet file for symbol with the given series.
func (s *Store) writeParquet(symbol string, series models.Series) error {
	rows := make([]parquetRow, 0, len(series))
	for i := range series {
		c := &series[i]
		rows = append(rows, parquetRow{
			DateTime: models.FormatTimestamp(c.Timestamp),
			Open:     c.Open.String(),
			High:     c.High.String(),
			Low:      c.Low.String(),
			Close:    c.Close.String(),
			Volume:   c.Volume.String(),
		})
	}
	return parquet.WriteFile(s.parquetPath(symbol), rows)
}

func parquetRecord(ts, open, high, low, close, volume string) clean.Record {
	parsed, _ := models.ParseTimestamp(ts)
	return clean.Record{
		Timestamp: parsed,
		Open:      parseDecimal(open),
		High:      parseDecimal(high),
		Low:       parseDecimal(low),
		Close:     parseDecimal(close),
		Volume:    parseDecimal(volume),
	}
}

func parseDecimal(v string) decimal.NullDecimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

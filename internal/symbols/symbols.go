// Package symbols discovers the NIFTY 50 constituent list and resolves
// each symbol to its Angel One instrument token.
package symbols

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// constituentsURL is the NSE-published index constituent list.
	constituentsURL = "https://archives.nseindia.com/content/indices/ind_nifty50list.csv"

	// instrumentMasterURL is Angel One's full scrip master, refreshed daily.
	instrumentMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

	fetchTimeout = 60 * time.Second
)

// Instrument pairs an equity symbol with the token the candle API keys on.
type Instrument struct {
	Name  string
	Token string
}

// Fetcher downloads and joins the two public listings. The zero value is
// not usable; construct with NewFetcher.
type Fetcher struct {
	httpClient      *http.Client
	constituentsURL string
	instrumentsURL  string
	logger          *slog.Logger
}

// NewFetcher builds a Fetcher against the public NSE and Angel One URLs.
func NewFetcher(logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		httpClient:      &http.Client{Timeout: fetchTimeout},
		constituentsURL: constituentsURL,
		instrumentsURL:  instrumentMasterURL,
		logger:          logger,
	}
}

// Instruments returns the NIFTY 50 constituents that could be resolved to
// an NSE equity token, in the constituent list's order. Symbols missing
// from the instrument master are logged and skipped. Any failure to reach
// or parse either source yields an empty slice; an empty result means the
// batch has nothing to do and the caller treats it as fatal.
func (f *Fetcher) Instruments(ctx context.Context) []Instrument {
	names := f.constituents(ctx)
	if len(names) == 0 {
		return nil
	}
	tokens := f.tokensByName(ctx)
	if len(tokens) == 0 {
		return nil
	}

	instruments := make([]Instrument, 0, len(names))
	for _, name := range names {
		token, ok := tokens[name]
		if !ok {
			f.logger.Warn("symbol missing from instrument master", "symbol", name)
			continue
		}
		instruments = append(instruments, Instrument{Name: name, Token: token})
	}
	f.logger.Info("resolved index constituents", "count", len(instruments))
	return instruments
}

// constituents downloads and parses the index constituent CSV, returning
// the values of its Symbol column.
func (f *Fetcher) constituents(ctx context.Context) []string {
	body, err := f.get(ctx, f.constituentsURL)
	if err != nil {
		f.logger.Error("failed to fetch index constituents", "error", err)
		return nil
	}
	defer body.Close()

	// The NSE archive serves latin-1; the Symbol column is plain ASCII,
	// so stray high bytes elsewhere in a row are tolerated, not decoded.
	r := csv.NewReader(body)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		f.logger.Error("failed to read constituent CSV header", "error", err)
		return nil
	}
	symbolCol := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), "Symbol") {
			symbolCol = i
		}
	}
	if symbolCol < 0 {
		f.logger.Error("constituent CSV has no Symbol column", "header", header)
		return nil
	}

	var names []string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			f.logger.Error("failed to read constituent CSV row", "error", err)
			return nil
		}
		if symbolCol >= len(row) {
			continue
		}
		if name := strings.TrimSpace(row[symbolCol]); name != "" {
			names = append(names, name)
		}
	}
	return names
}

type scripEntry struct {
	Token   string `json:"token"`
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
	ExchSeg string `json:"exch_seg"`
}

// tokensByName downloads the instrument master and indexes NSE-segment
// entries by instrument name. Later duplicates win, matching the master's
// own ordering quirks.
func (f *Fetcher) tokensByName(ctx context.Context) map[string]string {
	body, err := f.get(ctx, f.instrumentsURL)
	if err != nil {
		f.logger.Error("failed to fetch instrument master", "error", err)
		return nil
	}
	defer body.Close()

	var entries []scripEntry
	if err := json.NewDecoder(body).Decode(&entries); err != nil {
		f.logger.Error("failed to parse instrument master", "error", err)
		return nil
	}

	tokens := make(map[string]string)
	for _, e := range entries {
		if e.ExchSeg != "NSE" || e.Name == "" || e.Token == "" {
			continue
		}
		tokens[e.Name] = e.Token
	}
	return tokens
}

func (f *Fetcher) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	// The NSE archive rejects requests without a browser user agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

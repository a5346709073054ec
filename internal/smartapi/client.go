// Package smartapi is the Angel One SmartAPI client used to fetch
// historical candle data.
//
// The candle endpoint is rate limited and intermittently unreliable, so
// CandleData retries each request up to a fixed bound with a constant
// delay, doubling the delay when the failure is a rate-limit signal
// (including the malformed non-JSON variant the API emits under load).
// Exhausting the retries degrades to an empty series rather than an
// error: callers cannot tell "retries exhausted" from "market closed"
// and must treat both as "no data for this range".
package smartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/niftysync/niftysync/internal/clean"
	"github.com/niftysync/niftysync/internal/models"
)

const (
	defaultBaseURL = "https://apiconnect.angelbroking.com"

	loginEndpoint  = "/rest/auth/angelbroking/user/v1/loginByPassword"
	logoutEndpoint = "/rest/secure/angelbroking/user/v1/logout"
	candleEndpoint = "/rest/secure/angelbroking/historical/v1/getCandleData"

	// requestTimeFormat is what the candle endpoint expects for the
	// fromdate/todate parameters (naive IST, minute precision).
	requestTimeFormat = "2006-01-02 15:04"

	requestTimeout = 30 * time.Second

	// rateLimitErrorCode is the explicit rate-limit code in JSON error
	// payloads. Under heavy load the API instead returns a non-JSON body
	// containing rateLimitBodyMarker.
	rateLimitErrorCode  = "AB1004"
	rateLimitBodyMarker = "exceeding access rate"
)

// errRateLimited classifies failures that should back off for double the
// standard retry delay.
var errRateLimited = errors.New("rate limited")

// Config carries the client settings read from process configuration.
type Config struct {
	BaseURL      string
	APIKey       string
	ClientID     string
	Password     string
	TOTPSecret   string
	Interval     string
	MaxRetries   int
	RetryDelay   time.Duration
	RequestDelay time.Duration
}

// Client talks to the SmartAPI REST endpoints. It is not safe for
// concurrent use; the sync batch is strictly serial by design.
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	cfg         Config
	logger      *slog.Logger

	jwtToken string
}

// NewClient creates an unauthenticated client. Call Authenticate before
// fetching candles.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		cfg:         cfg,
		logger:      logger,
	}
}

type sessionResponse struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
	Data      struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	} `json:"data"`
}

// Authenticate generates a TOTP code and opens a session. Failure here is
// fatal for the whole batch; the caller is expected to exit.
func (c *Client) Authenticate(ctx context.Context) error {
	c.logger.Info("attempting SmartAPI authentication", "client_id", c.cfg.ClientID)

	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("generate TOTP code: %w", err)
	}

	body, err := c.post(ctx, loginEndpoint, map[string]string{
		"clientcode": c.cfg.ClientID,
		"password":   c.cfg.Password,
		"totp":       code,
	})
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}

	var session sessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	if !session.Status || session.Data.JWTToken == "" {
		return fmt.Errorf("authentication rejected: %s (code %s)", session.Message, session.ErrorCode)
	}

	c.jwtToken = session.Data.JWTToken
	c.logger.Info("SmartAPI authentication successful")
	return nil
}

// Logout terminates the session. Errors are logged by the caller but are
// not fatal; the process is exiting anyway.
func (c *Client) Logout(ctx context.Context) error {
	c.logger.Info("attempting SmartAPI logout", "client_id", c.cfg.ClientID)

	body, err := c.post(ctx, logoutEndpoint, map[string]string{
		"clientcode": c.cfg.ClientID,
	})
	if err != nil {
		return fmt.Errorf("logout request: %w", err)
	}

	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse logout response: %w", err)
	}
	if !resp.Status {
		return fmt.Errorf("logout rejected: %s (code %s)", resp.Message, resp.ErrorCode)
	}

	c.logger.Info("SmartAPI logout successful")
	return nil
}

type candleResponse struct {
	Status    bool                `json:"status"`
	Message   string              `json:"message"`
	ErrorCode string              `json:"errorcode"`
	Data      [][]json.RawMessage `json:"data"`
}

// CandleData fetches candles for one bounded, inclusive time range. The
// range is expected to span at most roughly one month; chunking is the
// caller's responsibility. It retries up to the configured bound on empty
// responses, rate-limit signals, and transient API or network failures,
// and returns an empty series once retries are exhausted. A successful
// call with zero rows also returns an empty series; only the log level
// differs.
func (c *Client) CandleData(ctx context.Context, token string, from, to time.Time) (models.Series, error) {
	log := c.logger.With("token", token,
		"from", from.In(models.IST).Format(requestTimeFormat),
		"to", to.In(models.IST).Format(requestTimeFormat))

	var result models.Series
	attempt := 0

	delays := &classifiedDelays{standard: c.cfg.RetryDelay}
	policy := backoff.WithContext(backoff.WithMaxRetries(delays, uint64(c.cfg.MaxRetries-1)), ctx)

	operation := func() error {
		attempt++
		series, err := c.fetchOnce(ctx, log, token, from, to)
		if err != nil {
			delays.last = err
			return err
		}
		result = series
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Warn("candle request failed, retrying",
			"attempt", attempt, "max_retries", c.cfg.MaxRetries,
			"retry_in", next, "error", err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error("candle request failed permanently, treating range as empty",
			"attempts", attempt, "error", err)
		return nil, nil
	}
	return result, nil
}

// classifiedDelays is the retry policy: a constant standard delay, doubled
// when the last failure was a rate-limit signal.
type classifiedDelays struct {
	standard time.Duration
	last     error
}

func (d *classifiedDelays) NextBackOff() time.Duration {
	if errors.Is(d.last, errRateLimited) {
		return 2 * d.standard
	}
	return d.standard
}

func (d *classifiedDelays) Reset() { d.last = nil }

// fetchOnce performs a single candle request and classifies any failure.
func (c *Client) fetchOnce(ctx context.Context, log *slog.Logger, token string, from, to time.Time) (models.Series, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.post(ctx, candleEndpoint, map[string]string{
		"exchange":    "NSE",
		"symboltoken": token,
		"interval":    c.cfg.Interval,
		"fromdate":    from.In(models.IST).Format(requestTimeFormat),
		"todate":      to.In(models.IST).Format(requestTimeFormat),
	})
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty API response")
	}

	var resp candleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Under heavy load the API answers the rate limit with a bare
		// non-JSON message instead of an error payload.
		if strings.Contains(string(body), rateLimitBodyMarker) {
			return nil, fmt.Errorf("non-JSON rate-limit response: %w", errRateLimited)
		}
		return nil, fmt.Errorf("unparseable API response: %w", err)
	}

	if resp.ErrorCode == rateLimitErrorCode {
		return nil, fmt.Errorf("%s: %s: %w", resp.ErrorCode, resp.Message, errRateLimited)
	}
	if resp.ErrorCode != "" && !resp.Status {
		return nil, fmt.Errorf("API error %s: %s", resp.ErrorCode, resp.Message)
	}

	if len(resp.Data) == 0 {
		// Valid call, zero rows: market holiday or no trades in range.
		log.Info("no data returned by API for period")
		return nil, nil
	}

	recs := make([]clean.Record, 0, len(resp.Data))
	for _, row := range resp.Data {
		rec, ok := decodeRow(row)
		if !ok {
			continue
		}
		recs = append(recs, rec)
	}
	series := clean.Normalize(recs, log)
	if skipped := len(resp.Data) - series.Len(); skipped > 0 {
		log.Warn("dropped malformed rows from API response", "count", skipped)
	}

	log.Debug("fetched candle rows", "count", series.Len())
	return series, nil
}

// decodeRow converts one [timestamp, open, high, low, close, volume]
// response row into a raw record. Unparseable fields are left null for the
// cleaner to handle; a row that is not a six-element array is skipped.
func decodeRow(row []json.RawMessage) (clean.Record, bool) {
	if len(row) < 6 {
		return clean.Record{}, false
	}

	var ts string
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return clean.Record{}, false
	}
	parsed, _ := models.ParseTimestamp(ts)

	return clean.Record{
		Timestamp: parsed,
		Open:      decodeDecimal(row[1]),
		High:      decodeDecimal(row[2]),
		Low:       decodeDecimal(row[3]),
		Close:     decodeDecimal(row[4]),
		Volume:    decodeDecimal(row[5]),
	}, true
}

func decodeDecimal(raw json.RawMessage) decimal.NullDecimal {
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// post sends a JSON request with the standard SmartAPI headers and returns
// the raw response body. Non-2xx statuses are classified here: 429 and 403
// are rate-limit signals, everything else is a generic transient failure.
func (c *Client) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	if c.jwtToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.jwtToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, errRateLimited)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

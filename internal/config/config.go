// Package config loads and validates the process configuration from
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/niftysync/niftysync/internal/models"
)

// Candle interval enums accepted by the SmartAPI candle endpoint.
var validIntervals = map[string]bool{
	"ONE_MINUTE":     true,
	"THREE_MINUTE":   true,
	"FIVE_MINUTE":    true,
	"TEN_MINUTE":     true,
	"FIFTEEN_MINUTE": true,
	"THIRTY_MINUTE":  true,
	"ONE_HOUR":       true,
	"ONE_DAY":        true,
}

// placeholders are the unfilled template values shipped in the example
// environment file. Treat them the same as unset.
var placeholders = map[string]bool{
	"":                 true,
	"YOUR_API_KEY":     true,
	"YOUR_CLIENT_ID":   true,
	"YOUR_PASSWORD":    true,
	"YOUR_TOTP_SECRET": true,
	"YOUR_LOGIN_TOKEN": true,
}

// Config is the complete runtime configuration.
type Config struct {
	APIKey     string
	ClientID   string
	Password   string
	TOTPSecret string

	Interval     string
	MaxRetries   int
	RetryDelay   time.Duration
	RequestDelay time.Duration
	HistoryStart time.Time

	LogLevel string
	LogFile  string
}

// Load reads configuration from the environment, applying defaults for
// everything except credentials. It does not validate; call Validate.
func Load() (*Config, error) {
	cfg := &Config{
		APIKey:     os.Getenv("APIKEY"),
		ClientID:   os.Getenv("CLIENTID"),
		Password:   os.Getenv("PASSWORD"),
		TOTPSecret: os.Getenv("LOGINTOKEN"),

		Interval:     envOr("TIME_INTERVAL", "ONE_HOUR"),
		MaxRetries:   5,
		RetryDelay:   time.Second,
		RequestDelay: 250 * time.Millisecond,

		LogLevel: envOr("LOG_LEVEL", "INFO"),
		LogFile:  envOr("LOG_FILE", "sync.log"),
	}

	var err error
	if cfg.MaxRetries, err = envInt("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = envSeconds("RETRY_DELAY", cfg.RetryDelay); err != nil {
		return nil, err
	}
	if cfg.RequestDelay, err = envSeconds("REQUEST_DELAY", cfg.RequestDelay); err != nil {
		return nil, err
	}

	startDate := envOr("START_DATE", "2016-10-01")
	start, ok := models.ParseTimestamp(startDate)
	if !ok {
		return nil, fmt.Errorf("invalid START_DATE %q", startDate)
	}
	cfg.HistoryStart = start

	return cfg, nil
}

// Validate checks the loaded configuration and aggregates every problem
// into one error so the operator sees the full list at once.
func (c *Config) Validate() error {
	var errs []error

	if placeholders[c.APIKey] {
		errs = append(errs, errors.New("APIKEY is unset or still a placeholder"))
	}
	if placeholders[c.ClientID] {
		errs = append(errs, errors.New("CLIENTID is unset or still a placeholder"))
	}
	if placeholders[c.Password] {
		errs = append(errs, errors.New("PASSWORD is unset or still a placeholder"))
	}
	if placeholders[c.TOTPSecret] {
		errs = append(errs, errors.New("LOGINTOKEN is unset or still a placeholder"))
	}
	if !validIntervals[c.Interval] {
		errs = append(errs, fmt.Errorf("TIME_INTERVAL %q is not a supported interval", c.Interval))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries))
	}
	if c.RetryDelay <= 0 {
		errs = append(errs, errors.New("RETRY_DELAY must be positive"))
	}
	if c.RequestDelay <= 0 {
		errs = append(errs, errors.New("REQUEST_DELAY must be positive"))
	}
	if c.HistoryStart.IsZero() {
		errs = append(errs, errors.New("START_DATE is unset"))
	}

	return errors.Join(errs...)
}

// DataDir is the per-interval output directory, created next to the
// binary's working directory.
func (c *Config) DataDir() string {
	return "NIFTY_50_DATA_" + strings.ToUpper(c.Interval)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

// envSeconds parses a duration given as a number of seconds, fractional
// values allowed.
func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niftysync/niftysync/internal/models"
)

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("APIKEY", "real-key")
	t.Setenv("CLIENTID", "C123456")
	t.Setenv("PASSWORD", "1234")
	t.Setenv("LOGINTOKEN", "JBSWY3DPEHPK3PXP")
}

func TestLoadDefaults(t *testing.T) {
	setCredentials(t)
	for _, key := range []string{"TIME_INTERVAL", "MAX_RETRIES", "RETRY_DELAY", "REQUEST_DELAY", "START_DATE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ONE_HOUR", cfg.Interval)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.RequestDelay)
	assert.True(t, cfg.HistoryStart.Equal(time.Date(2016, 10, 1, 0, 0, 0, 0, models.IST)))
	assert.Equal(t, "NIFTY_50_DATA_ONE_HOUR", cfg.DataDir())
}

func TestLoadOverrides(t *testing.T) {
	setCredentials(t)
	t.Setenv("TIME_INTERVAL", "ONE_DAY")
	t.Setenv("MAX_RETRIES", "3")
	t.Setenv("RETRY_DELAY", "0.5")
	t.Setenv("REQUEST_DELAY", "1")
	t.Setenv("START_DATE", "2020-01-01")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ONE_DAY", cfg.Interval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, time.Second, cfg.RequestDelay)
	assert.True(t, cfg.HistoryStart.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, models.IST)))
	assert.Equal(t, "NIFTY_50_DATA_ONE_DAY", cfg.DataDir())
}

func TestLoadRejectsBadValues(t *testing.T) {
	setCredentials(t)

	t.Run("bad_max_retries", func(t *testing.T) {
		t.Setenv("MAX_RETRIES", "five")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("bad_retry_delay", func(t *testing.T) {
		t.Setenv("RETRY_DELAY", "fast")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("bad_start_date", func(t *testing.T) {
		t.Setenv("START_DATE", "October 2016")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidateAggregatesAllProblems(t *testing.T) {
	t.Setenv("APIKEY", "YOUR_API_KEY")
	t.Setenv("CLIENTID", "")
	t.Setenv("PASSWORD", "1234")
	t.Setenv("LOGINTOKEN", "YOUR_TOTP_SECRET")
	t.Setenv("TIME_INTERVAL", "TWO_HOUR")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	// One combined error naming every problem at once.
	assert.Contains(t, err.Error(), "APIKEY")
	assert.Contains(t, err.Error(), "CLIENTID")
	assert.Contains(t, err.Error(), "LOGINTOKEN")
	assert.Contains(t, err.Error(), "TIME_INTERVAL")
	assert.NotContains(t, err.Error(), "PASSWORD")
}

func TestValidatePlaceholderCredentials(t *testing.T) {
	setCredentials(t)
	t.Setenv("PASSWORD", "YOUR_PASSWORD")

	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "PASSWORD")
}

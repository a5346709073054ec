// Package syncer drives the incremental per-symbol sync: decide the
// missing range from what is already on disk, fetch it in bounded chunks,
// merge, and persist.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/niftysync/niftysync/internal/models"
)

const (
	// chunkSpan bounds a single candle request. The API caps the range it
	// will answer at roughly one month.
	chunkSpan = 30 * 24 * time.Hour

	// step is the candle grain used for range arithmetic: the next chunk
	// starts one step after the previous chunk's end, and an up-to-date
	// file is one whose last candle is within a step of now.
	step = time.Minute
)

// Fetcher supplies candles for one bounded time range. An empty series
// with a nil error means "no data for this range" and is not an error.
type Fetcher interface {
	CandleData(ctx context.Context, token string, from, to time.Time) (models.Series, error)
}

// Store is the on-disk history for one symbol.
type Store interface {
	Read(symbol string) models.Series
	Write(symbol string, series models.Series) error
}

// Engine syncs one symbol at a time. Symbols are processed serially by the
// caller; the engine holds no per-symbol state.
type Engine struct {
	store        Store
	fetcher      Fetcher
	historyStart time.Time
	requestDelay time.Duration
	logger       *slog.Logger

	// now and sleep are injectable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates an Engine. historyStart is the beginning of history used
// when a symbol has no usable data on disk.
func New(store Store, fetcher Fetcher, historyStart time.Time, requestDelay time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:        store,
		fetcher:      fetcher,
		historyStart: historyStart,
		requestDelay: requestDelay,
		logger:       logger,
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// Sync brings one symbol's on-disk history up to date. It reads the
// existing file, fetches everything from one step after the last stored
// candle (or from the start of history on a fresh symbol) up to one step
// before now, and writes the merged result. Nothing is written when no
// new candles were fetched, so an idle run leaves the file untouched.
//
// The returned error covers persistence failures and context
// cancellation. Fetch failures never surface here: the fetcher degrades
// them to empty chunks, and the merged write keeps whatever did arrive.
func (e *Engine) Sync(ctx context.Context, symbol, token string) error {
	jobID := uuid.New().String()
	log := e.logger.With("job_id", jobID, "symbol", symbol)

	existing := e.store.Read(symbol)

	start := e.historyStart
	freshStart := true
	if last := existing.LastTimestamp(); !last.IsZero() {
		start = last.Add(step)
		freshStart = false
	}
	end := e.now().In(models.IST).Add(-step)

	if !start.Before(end) {
		log.Info("already up to date", "last", models.FormatTimestamp(start.Add(-step)))
		return nil
	}

	log.Info("syncing range",
		"from", models.FormatTimestamp(start),
		"to", models.FormatTimestamp(end),
		"fresh_start", freshStart)

	merged := existing
	fetched := 0

	for chunkStart := start; !chunkStart.After(end); {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunkEnd := chunkStart.Add(chunkSpan)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		series, err := e.fetcher.CandleData(ctx, token, chunkStart, chunkEnd)
		if err != nil {
			return err
		}
		// Clamp to the requested window: the API occasionally pads its
		// response with rows just outside the asked-for range.
		series = series.Clip(chunkStart, chunkEnd)
		if n := series.Len(); n > 0 {
			merged = append(merged, series...)
			fetched += n
		}

		chunkStart = chunkEnd.Add(step)
		if !chunkStart.After(end) {
			e.sleep(e.requestDelay)
		}
	}

	if fetched == 0 {
		log.Info("no new candles fetched, leaving file untouched")
		return nil
	}

	log.Info("fetched new candles", "count", fetched)
	if err := e.store.Write(symbol, merged); err != nil {
		return err
	}

	// Extra settle time after a symbol that actually hit the API.
	e.sleep(2 * e.requestDelay)
	return nil
}

// WithClock overrides the engine's time source and sleeper. Tests use it;
// production code never calls it.
func (e *Engine) WithClock(now func() time.Time, sleep func(time.Duration)) *Engine {
	e.now = now
	e.sleep = sleep
	return e
}

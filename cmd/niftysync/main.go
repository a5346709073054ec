// Command niftysync runs one incremental sync of NIFTY 50 historical
// candle data from the Angel One SmartAPI into per-symbol CSV and Parquet
// files. It is designed to be run on a schedule; each run picks up where
// the on-disk files left off.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/niftysync/niftysync/internal/config"
	"github.com/niftysync/niftysync/internal/logging"
	"github.com/niftysync/niftysync/internal/smartapi"
	"github.com/niftysync/niftysync/internal/store"
	"github.com/niftysync/niftysync/internal/symbols"
	"github.com/niftysync/niftysync/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "niftysync:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, closer, err := logging.Setup(cfg.DataDir(), cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting sync batch",
		"interval", cfg.Interval,
		"data_dir", cfg.DataDir(),
		"history_start", cfg.HistoryStart.Format("2006-01-02"))

	client := smartapi.NewClient(smartapi.Config{
		APIKey:       cfg.APIKey,
		ClientID:     cfg.ClientID,
		Password:     cfg.Password,
		TOTPSecret:   cfg.TOTPSecret,
		Interval:     cfg.Interval,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		RequestDelay: cfg.RequestDelay,
	}, logger)

	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	defer func() {
		// Best-effort logout with a fresh deadline: the run context may
		// already be cancelled when we get here.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.Logout(ctx); err != nil {
			logger.Warn("logout failed", "error", err)
		}
	}()

	instruments := symbols.NewFetcher(logger).Instruments(ctx)
	if len(instruments) == 0 {
		return fmt.Errorf("no instruments resolved, nothing to sync")
	}

	engine := syncer.New(store.New(cfg.DataDir(), logger), client, cfg.HistoryStart, cfg.RequestDelay, logger)

	var synced, failed int
	for i, inst := range instruments {
		if ctx.Err() != nil {
			logger.Warn("sync batch interrupted", "remaining", len(instruments)-i)
			break
		}
		if err := syncOne(ctx, engine, inst, logger); err != nil {
			failed++
		} else {
			synced++
		}
		time.Sleep(cfg.RequestDelay)
	}

	logger.Info("sync batch finished", "synced", synced, "failed", failed, "total", len(instruments))
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// syncOne runs one symbol and contains its failure: an error or panic in
// one symbol's sync must never abort the rest of the batch.
func syncOne(ctx context.Context, engine *syncer.Engine, inst symbols.Instrument, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Error("sync panicked", "symbol", inst.Name, "panic", r)
		}
	}()

	if err := engine.Sync(ctx, inst.Name, inst.Token); err != nil {
		logger.Error("sync failed", "symbol", inst.Name, "error", err)
		return err
	}
	return nil
}

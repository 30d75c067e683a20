package main

import (
	"context"
	"log/slog"
	"time"

	"mediadrop/internal/auth"
	"mediadrop/internal/quota"
)

type maintenanceTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) maintenanceTicker

func newTimeTicker(d time.Duration) maintenanceTicker {
	return timeTicker{ticker: time.NewTicker(d)}
}

// runSessionPurger deletes expired session records on a fixed interval until
// ctx is cancelled. Returns nil on cancellation so it composes with errgroup.
func runSessionPurger(ctx context.Context, logger *slog.Logger, sessions *auth.Manager, interval time.Duration) error {
	return runSessionPurgerWithTicker(ctx, logger, sessions, interval, newTimeTicker)
}

func runSessionPurgerWithTicker(ctx context.Context, logger *slog.Logger, sessions *auth.Manager, interval time.Duration, newTicker tickerFactory) error {
	if sessions == nil || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := newTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := sessions.PurgeExpired(ctx); err != nil && logger != nil {
				logger.Error("failed to purge expired sessions", "error", err)
			}
		}
	}
}

// runLedgerEvictor drops finished usage days that have aged out of the
// ledger's retention window.
func runLedgerEvictor(ctx context.Context, logger *slog.Logger, ledger *quota.Ledger, interval time.Duration) error {
	return runLedgerEvictorWithTicker(ctx, logger, ledger, interval, newTimeTicker)
}

func runLedgerEvictorWithTicker(ctx context.Context, logger *slog.Logger, ledger *quota.Ledger, interval time.Duration, newTicker tickerFactory) error {
	if ledger == nil || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := newTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if evicted := ledger.Evict(); evicted > 0 && logger != nil {
				logger.Debug("evicted stale usage records", "count", evicted)
			}
		}
	}
}

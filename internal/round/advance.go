package round

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/predictarena/predictarena/internal/config"
	"github.com/predictarena/predictarena/internal/db"
	"github.com/predictarena/predictarena/internal/reason"
)

// SweepRunner resolves pending reason judgments whose horizon has passed.
type SweepRunner interface {
	Run(ctx context.Context, now time.Time) (reason.SweepReport, error)
}

// Advancer is the single entry point that reconciles price, round state and
// pending evaluations. One tick at a time; concurrent callers serialize.
type Advancer struct {
	svc     *Service
	store   Store
	feed    PriceSource
	sweeper SweepRunner
	cfg     config.RoundConfig
	logger  zerolog.Logger

	mu sync.Mutex
}

// NewAdvancer creates the state advancer.
func NewAdvancer(svc *Service, store Store, feed PriceSource, sweeper SweepRunner, cfg config.RoundConfig) *Advancer {
	return &Advancer{
		svc:     svc,
		store:   store,
		feed:    feed,
		sweeper: sweeper,
		cfg:     cfg,
		logger:  config.NewLogger("advancer"),
	}
}

// Tick runs one reconciliation pass. Individual step failures are logged and
// do not abort the remaining steps, so a flaky price feed cannot wedge the
// round lifecycle.
func (a *Advancer) Tick(ctx context.Context, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	meta, err := a.store.GetMeta(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("Tick: failed to read meta")
		return
	}

	a.refreshPrice(meta, now)

	if err := a.advanceRound(ctx, meta, now); err != nil {
		a.logger.Error().Err(err).Msg("Tick: round transition failed")
	}

	if err := a.store.UpsertMeta(ctx, meta); err != nil {
		a.logger.Error().Err(err).Msg("Tick: failed to persist meta")
	}

	if a.sweeper != nil {
		if report, err := a.sweeper.Run(ctx, now); err != nil {
			a.logger.Error().Err(err).Msg("Tick: reason sweep failed")
		} else if report.Scanned > 0 {
			a.logger.Debug().
				Int("scanned", report.Scanned).
				Int("updated", report.Updated).
				Int("skipped", report.Skipped).
				Int("errored", report.Errored).
				Msg("Reason sweep completed")
		}
	}
}

// refreshPrice pulls a fresh sample into meta when the stored one is due for
// refresh. Stale upstream samples are refused; the old meta price stands.
func (a *Advancer) refreshPrice(meta *db.MetaState, now time.Time) {
	if meta.LastPriceAt != nil && now.Sub(*meta.LastPriceAt) < a.cfg.PriceRefresh() {
		return
	}

	sample, err := a.feed.Price()
	if err != nil {
		a.logger.Warn().Err(err).Msg("Tick: price unavailable")
		return
	}
	if now.Sub(sample.UpdatedAt) >= a.cfg.PriceStale() {
		a.logger.Warn().
			Time("sample_at", sample.UpdatedAt).
			Msg("Tick: refusing stale price sample")
		return
	}

	if meta.CurrentPrice != nil {
		prev := *meta.CurrentPrice
		meta.LastPrice = &prev
		if prev != 0 {
			delta := (sample.Price - prev) / prev * 100
			meta.LastDeltaPct = &delta
		}
	}
	price := sample.Price
	at := now.UTC()
	meta.CurrentPrice = &price
	meta.LastPriceAt = &at
}

// advanceRound runs the lifecycle transitions due at now, then seeds the next
// round if none is live.
func (a *Advancer) advanceRound(ctx context.Context, meta *db.MetaState, now time.Time) error {
	live, err := a.store.GetLiveRound(ctx)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}

	if live != nil {
		if live.Status == db.RoundStatusBetting && !now.Before(a.svc.LockTime(live)) {
			count, err := a.store.CountJudgmentsByRound(ctx, live.RoundID)
			if err != nil {
				return err
			}
			if count == 0 {
				if err := a.svc.CancelRound(ctx, live); err != nil {
					return err
				}
				live = nil
			} else {
				if err := a.svc.LockRound(ctx, live); err != nil {
					return err
				}
			}
		}

		if live != nil && live.Status == db.RoundStatusLocked && !now.Before(live.EndTime) {
			if err := a.svc.SettleRound(ctx, live, meta); err != nil {
				return err
			}
		}
	}

	live, err = a.store.GetLiveRound(ctx)
	if errors.Is(err, db.ErrNotFound) {
		_, err = a.svc.StartRound(ctx, meta, now)
		return err
	}
	return err
}

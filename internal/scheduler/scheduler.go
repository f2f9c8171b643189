// Package scheduler drives the periodic sync pipeline: advance the
// indexer, refresh volatile market metadata, roll up unique-trader
// counts, and run the whale tail detector — once per tick, never
// overlapping with itself.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"polylens/internal/store"
	"polylens/pkg/types"
)

// TradeSyncer advances the chain indexer from its last checkpoint.
type TradeSyncer interface {
	// SyncIncremental returns the number of trades it inserted.
	SyncIncremental(ctx context.Context) (int, error)
}

// PriceRefresher fetches fresh price/status data for one market from the
// metadata collaborator and writes it back to the store.
type PriceRefresher interface {
	RefreshMarketPrice(ctx context.Context, conditionID string) error
}

// WhaleTailDetector runs an incremental whale detection pass.
type WhaleTailDetector interface {
	DetectNew(thresholdUSD float64, batchSize int) (int, error)
}

// Config controls the scheduler's tick behavior.
type Config struct {
	Interval            time.Duration
	PriceRefreshLimit   int
	PriceRefreshWorkers int
	TraderStatsLimit    int
	WhaleThresholdUSD   float64
}

// Result is a snapshot of the outcome of one tick, retained for the
// stats/status endpoint.
type Result struct {
	SyncCount      int64
	TradesSynced   int
	PricesRefreshed int
	WhalesDetected int
	Err            error
	RanAt          time.Time
}

// Scheduler runs the pipeline on a fixed interval, skipping a tick
// entirely if the previous one hasn't finished.
type Scheduler struct {
	cfg     Config
	store   *store.Store
	indexer TradeSyncer
	prices  PriceRefresher
	whales  WhaleTailDetector
	logger  *slog.Logger

	isSyncing  atomic.Bool
	syncCount  atomic.Int64
	lastResult atomic.Pointer[Result]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler. Any collaborator may be nil to disable the
// step it drives (useful in tests that only want to exercise a subset
// of the pipeline).
func New(cfg Config, st *store.Store, indexer TradeSyncer, prices PriceRefresher, whales WhaleTailDetector, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.PriceRefreshLimit <= 0 {
		cfg.PriceRefreshLimit = 50
	}
	if cfg.PriceRefreshWorkers <= 0 {
		cfg.PriceRefreshWorkers = 10
	}
	if cfg.TraderStatsLimit <= 0 {
		cfg.TraderStatsLimit = 50
	}
	return &Scheduler{
		cfg:     cfg,
		store:   st,
		indexer: indexer,
		prices:  prices,
		whales:  whales,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start launches the ticker-driven goroutine. It returns immediately;
// call Stop to shut it down.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the ticker and waits for an in-flight tick to finish
// best-effort; it is not forcibly interrupted.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(context.WithoutCancel(ctx))
		}
	}
}

// tick runs one pass of the pipeline unless one is already running.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.isSyncing.CompareAndSwap(false, true) {
		s.logger.Debug("tick skipped, sync already in progress")
		return
	}
	defer s.isSyncing.Store(false)

	s.syncCount.Add(1)
	result := Result{SyncCount: s.syncCount.Load(), RanAt: time.Now()}

	tradesSynced, err := s.syncTrades(ctx)
	result.TradesSynced = tradesSynced
	if err != nil {
		result.Err = err
		s.logger.Error("trade sync failed", "error", err)
	}

	refreshed, err := s.refreshMarketMetadata(ctx)
	result.PricesRefreshed = refreshed
	if err != nil {
		s.logger.Warn("market metadata refresh failed", "error", err)
	}

	if err := s.refreshUniqueTraders(); err != nil {
		s.logger.Warn("unique traders refresh failed", "error", err)
	}

	if tradesSynced > 0 && s.whales != nil {
		detected, err := s.whales.DetectNew(s.cfg.WhaleThresholdUSD, 1000)
		result.WhalesDetected = detected
		if err != nil {
			s.logger.Warn("whale tail detection failed", "error", err)
		}
	}

	s.lastResult.Store(&result)
}

func (s *Scheduler) syncTrades(ctx context.Context) (int, error) {
	if s.indexer == nil {
		return 0, nil
	}
	return s.indexer.SyncIncremental(ctx)
}

// refreshMarketMetadata refreshes prices for the top PriceRefreshLimit
// markets by volume, at most PriceRefreshWorkers requests in flight.
func (s *Scheduler) refreshMarketMetadata(ctx context.Context) (int, error) {
	if s.prices == nil {
		return 0, nil
	}
	markets, err := s.store.ListMarkets(store.ListMarketsFilter{
		Status:            types.StatusActive,
		Limit:             s.cfg.PriceRefreshLimit,
		OrderByVolumeDesc: true,
	})
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.PriceRefreshWorkers)
	var refreshed atomic.Int64
	for _, m := range markets {
		m := m
		g.Go(func() error {
			if err := s.prices.RefreshMarketPrice(gctx, m.ConditionID); err != nil {
				s.logger.Warn("refresh market price failed", "condition_id", m.ConditionID, "error", err)
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(refreshed.Load()), nil
}

func (s *Scheduler) refreshUniqueTraders() error {
	markets, err := s.store.ListMarkets(store.ListMarketsFilter{
		Limit:                s.cfg.TraderStatsLimit,
		OrderByVolume24hDesc: true,
	})
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339Nano)
	for _, m := range markets {
		if err := s.store.RefreshUniqueTraders24h(m.ID, cutoff); err != nil {
			return err
		}
	}
	return nil
}

// Tick runs one pipeline pass immediately, outside the regular ticker
// cadence. It obeys the same non-overlap rule as a scheduled tick — a
// manual trigger while a sync is already running is a no-op.
func (s *Scheduler) Tick(ctx context.Context) { s.tick(ctx) }

// LastResult returns the outcome of the most recently completed tick,
// or nil if none has run yet.
func (s *Scheduler) LastResult() *Result { return s.lastResult.Load() }

// SyncCount returns the number of ticks that have begun running.
func (s *Scheduler) SyncCount() int64 { return s.syncCount.Load() }

// IsSyncing reports whether a tick is currently in progress.
func (s *Scheduler) IsSyncing() bool { return s.isSyncing.Load() }

// Package whale flags large trades. It runs in two modes: a one-shot
// backfill over everything already in the trades table, and an
// incremental tail scan driven by the scheduler that only looks at
// trades inserted since the last detection pass.
package whale

import (
	"log/slog"

	"polylens/pkg/types"

	"polylens/internal/store"
)

// Notifier receives newly detected whale trades for fan-out. The push
// fabric implements this; nil is accepted for callers (tests, one-shot
// backfills) that don't need live notification.
type Notifier interface {
	Notify(trade types.WhaleTrade)
}

// Detector wraps the store's whale-trade persistence with the
// backfill/tail detection policy.
type Detector struct {
	store    *store.Store
	notifier Notifier
	logger   *slog.Logger
}

// New builds a Detector. notifier may be nil.
func New(st *store.Store, notifier Notifier, logger *slog.Logger) *Detector {
	return &Detector{store: st, notifier: notifier, logger: logger.With("component", "whale")}
}

// Backfill sweeps every existing trade at or above thresholdUSD into
// whale_trades. Idempotent: safe to call repeatedly, e.g. after the
// operator lowers the threshold and wants history reclassified.
func (d *Detector) Backfill(thresholdUSD float64) (int64, error) {
	n, err := d.store.BackfillWhaleTrades(thresholdUSD)
	if err != nil {
		return 0, err
	}
	d.logger.Info("whale backfill complete", "threshold_usd", thresholdUSD, "inserted", n)
	return n, nil
}

// DetectNew scans trades inserted since the whale_sync cursor, flags
// any crossing thresholdUSD, and advances the cursor to the last trade
// examined — not the last trade flagged, so a quiet run still moves the
// cursor forward and a later backfill is never required to catch up.
func (d *Detector) DetectNew(thresholdUSD float64, batchSize int) (int, error) {
	cursor, err := d.store.Cursor(store.CursorWhaleSync)
	if err != nil {
		return 0, err
	}

	trades, err := d.store.TradesSince(cursor, batchSize)
	if err != nil {
		return 0, err
	}
	if len(trades) == 0 {
		return 0, nil
	}

	detected := 0
	for _, t := range trades {
		if t.USDValue() >= thresholdUSD {
			w := types.WhaleTrade{
				TxHash:      t.TxHash,
				LogIndex:    t.LogIndex,
				MarketID:    t.MarketID,
				Trader:      t.Taker,
				Side:        t.Side,
				Outcome:     t.Outcome,
				Price:       t.Price,
				Size:        t.Size,
				USDValue:    t.USDValue(),
				BlockNumber: t.BlockNumber,
				Timestamp:   t.Timestamp,
			}
			inserted, err := d.store.InsertWhaleTrade(w)
			if err != nil {
				return detected, err
			}
			if inserted {
				detected++
				if d.notifier != nil {
					d.notifier.Notify(w)
				}
			}
		}
	}

	last := trades[len(trades)-1]
	if err := d.store.SetCursorNoTx(store.CursorWhaleSync, last.ID); err != nil {
		return detected, err
	}
	return detected, nil
}

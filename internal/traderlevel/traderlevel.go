// Package traderlevel classifies an address into a fish/dolphin/shark/whale
// tier from its trading history, caching each verdict for a short TTL so a
// burst of read-API requests for the same trader doesn't refetch its whole
// trade history on every call.
package traderlevel

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"polylens/internal/dataapi"
	"polylens/pkg/types"
)

// Classify derives a WhaleLevel from the largest single trade and the
// largest single market's cumulative volume an address has transacted.
func Classify(maxTrade, maxMarket float64) types.WhaleLevel {
	switch {
	case maxTrade >= 10000 && maxMarket >= 50000:
		return types.LevelWhale
	case maxTrade >= 5000 && maxMarket >= 10000:
		return types.LevelShark
	case (maxTrade >= 500 && maxTrade < 5000) || (maxMarket >= 2000 && maxMarket < 10000):
		return types.LevelDolphin
	default:
		return types.LevelFish
	}
}

type cacheEntry struct {
	level     types.WhaleLevel
	expiresAt time.Time
}

// Classifier resolves an address's Level against the Data API, caching
// verdicts for ttl so repeated lookups for the same hot address don't
// refetch its whole trade history.
type Classifier struct {
	data      *dataapi.Client
	ttl       time.Duration
	maxTrades int
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds a Classifier. maxTrades bounds how many of an address's most
// recent trades are fetched to derive its max-trade/max-market figures.
func New(data *dataapi.Client, ttl time.Duration, maxTrades int, logger *slog.Logger) *Classifier {
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	if maxTrades <= 0 {
		maxTrades = 10000
	}
	return &Classifier{
		data:      data,
		ttl:       ttl,
		maxTrades: maxTrades,
		logger:    logger.With("component", "trader_level"),
		cache:     make(map[string]cacheEntry),
	}
}

// Level returns the cached or freshly computed WhaleLevel for address.
func (c *Classifier) Level(address string) (types.WhaleLevel, error) {
	key := strings.ToLower(address)

	c.mu.Lock()
	entry, ok := c.cache[key]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.level, nil
	}

	maxTrade, maxMarket, err := c.fetchMaxes(key)
	if err != nil {
		return "", err
	}
	level := Classify(maxTrade, maxMarket)

	c.mu.Lock()
	c.cache[key] = cacheEntry{level: level, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return level, nil
}

// fetchMaxes pages through an address's trade history, tracking the
// largest single trade notional and the largest cumulative notional within
// any one market.
func (c *Classifier) fetchMaxes(address string) (maxTrade, maxMarket float64, err error) {
	perMarket := make(map[string]float64)
	limit := 500
	fetched := 0
	for offset := 0; fetched < c.maxTrades; offset += limit {
		remaining := c.maxTrades - fetched
		pageLimit := limit
		if remaining < pageLimit {
			pageLimit = remaining
		}
		trades, err := c.data.Trades(dataapi.TradesParams{User: address, Limit: pageLimit, Offset: offset})
		if err != nil {
			return 0, 0, err
		}
		if len(trades) == 0 {
			break
		}
		for _, t := range trades {
			notional := t.Price * t.Size
			if notional > maxTrade {
				maxTrade = notional
			}
			perMarket[t.ConditionID] += notional
			if perMarket[t.ConditionID] > maxMarket {
				maxMarket = perMarket[t.ConditionID]
			}
		}
		fetched += len(trades)
		if len(trades) < pageLimit {
			break
		}
	}
	return maxTrade, maxMarket, nil
}

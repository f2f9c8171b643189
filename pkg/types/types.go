// Package types defines the shared vocabulary for the indexing and
// analytics pipeline: the canonical entities (Event, Market, Trade,
// WhaleTrade, SyncCursor, MarketMetric) and the small enums attached to
// them. Every internal package that crosses a store/discovery/indexer/
// metrics boundary speaks these types rather than ad hoc maps.
package types

import "time"

// Side is which leg of an OrderFilled paid collateral.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Outcome identifies which of a market's two token IDs a trade refers to.
type Outcome string

const (
	OutcomeYes     Outcome = "YES"
	OutcomeNo      Outcome = "NO"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// MarketStatus mirrors the Gamma API's lifecycle states.
type MarketStatus string

const (
	StatusActive   MarketStatus = "active"
	StatusClosed   MarketStatus = "closed"
	StatusArchived MarketStatus = "archived"
)

// WhaleLevel classifies an address by its historical trade sizes.
type WhaleLevel string

const (
	LevelFish    WhaleLevel = "fish"
	LevelDolphin WhaleLevel = "dolphin"
	LevelShark   WhaleLevel = "shark"
	LevelWhale   WhaleLevel = "whale"
)

// Period is a named aggregation window accepted by the metrics engine.
type Period string

const (
	Period1h  Period = "1h"
	Period4h  Period = "4h"
	Period24h Period = "24h"
	Period7d  Period = "7d"
	Period30d Period = "30d"
)

// PeriodSeconds is the fixed mapping of period name to window length.
var PeriodSeconds = map[Period]int64{
	Period1h:  3600,
	Period4h:  14400,
	Period24h: 86400,
	Period7d:  604800,
	Period30d: 2592000,
}

// KlineInterval is a named OHLCV bucket width.
type KlineInterval string

const (
	Interval1m  KlineInterval = "1m"
	Interval5m  KlineInterval = "5m"
	Interval15m KlineInterval = "15m"
	Interval1h  KlineInterval = "1h"
	Interval4h  KlineInterval = "4h"
	Interval1d  KlineInterval = "1d"
)

// IntervalSeconds is the fixed mapping of kline interval to bucket width.
var IntervalSeconds = map[KlineInterval]int64{
	Interval1m:  60,
	Interval5m:  300,
	Interval15m: 900,
	Interval1h:  3600,
	Interval4h:  14400,
	Interval1d:  86400,
}

// Event groups related binary-outcome markets (e.g. "Who will win the
// election?" groups one market per candidate).
type Event struct {
	ID          int64
	Slug        string
	Title       string
	Description string
	Category    string
	StartDate   string
	EndDate     string
	Image       string
	Icon        string
	Status      MarketStatus
	NegRisk     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Market is a single binary-outcome market under an Event.
type Market struct {
	ID               int64
	EventID          *int64
	Slug             string
	ConditionID      string
	QuestionID       string
	Oracle           string
	CollateralToken  string
	YesTokenID       string
	NoTokenID        string
	NegRisk          bool
	Status           MarketStatus
	Question         string
	Description      string
	Outcomes         string // raw JSON array string, e.g. ["Yes","No"]
	OutcomePrices    string // raw JSON array string
	EndDate          string
	Image            string
	Icon             string
	Category         string
	Volume           float64
	Volume24h        float64
	Liquidity        float64
	BestBid          *float64
	BestAsk          *float64
	TradeCount       int64
	UniqueTraders24h int64
	SyncWarning      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Trade is one matched fill decoded from a single OrderFilled log.
type Trade struct {
	ID          int64
	MarketID    *int64
	TxHash      string
	LogIndex    int64
	BlockNumber int64
	Maker       string
	Taker       string
	Side        Side
	Outcome     Outcome
	Price       float64
	Size        float64
	Fee         float64
	TokenID     string
	Timestamp   time.Time
	CreatedAt   time.Time
}

// USDValue is the notional dollar value of the trade.
func (t Trade) USDValue() float64 { return t.Price * t.Size }

// WhaleTrade is a materialized Trade whose USD value crossed the active
// threshold at detection time.
type WhaleTrade struct {
	ID          int64
	TxHash      string
	LogIndex    int64
	MarketID    *int64
	Trader      string
	Side        Side
	Outcome     Outcome
	Price       float64
	Size        float64
	USDValue    float64
	BlockNumber int64
	Timestamp   time.Time
	CreatedAt   time.Time

	// Denormalized join fields, populated by read queries only.
	MarketSlug     string
	MarketQuestion string
}

// SyncCursor is a named checkpoint advanced by the indexer and whale
// detector. Reserved keys: "trade_sync", "whale_sync".
type SyncCursor struct {
	Key       string
	LastBlock int64
	UpdatedAt time.Time
}

// MarketMetric is a snapshot of a market's metrics over one period, as
// computed by metrics.Engine.Snapshot and stored in market_metrics by
// store.UpsertMarketMetric. The scheduler does not write these rows.
// It is a derived rollup: trades remains authoritative.
type MarketMetric struct {
	ID              int64
	MarketID        int64
	TokenID         string
	Timestamp       int64
	Interval        Period
	BuyVolume       float64
	SellVolume      float64
	BuyCount        int64
	SellCount       int64
	VWAP            *float64
	PriceHigh       *float64
	PriceLow        *float64
	PriceOpen       *float64
	PriceClose      *float64
	UniqueTraders   int64
	WhaleBuyVolume  float64
	WhaleSellVolume float64
	WhaleBuyCount   int64
	WhaleSellCount  int64
	BuySellRatio    *float64
	NetFlow         *float64
	CreatedAt       time.Time
}

// Kline is one OHLCV candle computed on demand from trades.
type Kline struct {
	Timestamp  int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	TradeCount int64
}

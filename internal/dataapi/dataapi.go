// Package dataapi proxies the Polymarket Data API: per-address trades,
// positions, leaderboards and holders. The read API forwards requests
// here rather than mirroring this data locally — it changes far more
// often than market metadata and isn't part of this system's own
// write path.
package dataapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"polylens/internal/discovery"
)

// Client wraps a resty client against the Data API's base URL, throttled
// by the same token bucket shape the Gamma client uses.
type Client struct {
	http   *resty.Client
	rl     *discovery.TokenBucket
	logger *slog.Logger
}

// NewClient builds a Data API client against baseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(20 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}),
		rl:     discovery.NewTokenBucket(20, 5),
		logger: logger.With("component", "dataapi_client"),
	}
}

func (c *Client) wait() error {
	return c.rl.Wait(context.Background())
}

// Trade is one fill reported against an address by the Data API.
type Trade struct {
	ProxyWallet string  `json:"proxyWallet"`
	Side        string  `json:"side"`
	Asset       string  `json:"asset"`
	ConditionID string  `json:"conditionId"`
	Size        float64 `json:"size"`
	Price       float64 `json:"price"`
	Timestamp   int64   `json:"timestamp"`
	Title       string  `json:"title"`
	Outcome     string  `json:"outcome"`
}

// Position is one open or closed position held by an address.
type Position struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurPrice     float64 `json:"curPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CashPnl      float64 `json:"cashPnl"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
}

// Holder is one address holding a position in a market, as returned by
// the /holders endpoint.
type Holder struct {
	ProxyWallet string  `json:"proxyWallet"`
	Amount      float64 `json:"amount"`
	OutcomeIdx  int     `json:"outcomeIndex"`
}

// LeaderboardEntry is one row in the PNL or volume leaderboard.
type LeaderboardEntry struct {
	ProxyWallet string  `json:"proxyWallet"`
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Rank        int     `json:"rank"`
}

// TradesParams narrows a Trades call.
type TradesParams struct {
	User      string
	TakerOnly bool
	Limit     int
	Offset    int
}

// Trades fetches the trade history for an address.
func (c *Client) Trades(p TradesParams) ([]Trade, error) {
	if err := c.wait(); err != nil {
		return nil, err
	}
	var out []Trade
	req := c.http.R().SetResult(&out).
		SetQueryParam("user", p.User).
		SetQueryParam("takerOnly", boolStr(p.TakerOnly)).
		SetQueryParam("limit", intStr(p.Limit, 100)).
		SetQueryParam("offset", intStr(p.Offset, 0))
	resp, err := req.Get("/trades")
	if err != nil {
		return nil, fmt.Errorf("fetch trades for %s: %w", p.User, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch trades for %s: status %d", p.User, resp.StatusCode())
	}
	return out, nil
}

// Positions fetches open positions for an address.
func (c *Client) Positions(user string, limit, offset int) ([]Position, error) {
	if err := c.wait(); err != nil {
		return nil, err
	}
	var out []Position
	resp, err := c.http.R().SetResult(&out).
		SetQueryParam("user", user).
		SetQueryParam("limit", intStr(limit, 100)).
		SetQueryParam("offset", intStr(offset, 0)).
		Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("fetch positions for %s: %w", user, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch positions for %s: status %d", user, resp.StatusCode())
	}
	return out, nil
}

// ClosedPositions fetches resolved positions for an address.
func (c *Client) ClosedPositions(user string, limit, offset int) ([]Position, error) {
	if err := c.wait(); err != nil {
		return nil, err
	}
	var out []Position
	resp, err := c.http.R().SetResult(&out).
		SetQueryParam("user", user).
		SetQueryParam("limit", intStr(limit, 100)).
		SetQueryParam("offset", intStr(offset, 0)).
		Get("/closed-positions")
	if err != nil {
		return nil, fmt.Errorf("fetch closed positions for %s: %w", user, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch closed positions for %s: status %d", user, resp.StatusCode())
	}
	return out, nil
}

// PortfolioValue is the total current value of an address's positions.
type PortfolioValue struct {
	Value float64 `json:"value"`
}

// Value fetches an address's current portfolio value.
func (c *Client) Value(user string) (*PortfolioValue, error) {
	if err := c.wait(); err != nil {
		return nil, err
	}
	var out PortfolioValue
	resp, err := c.http.R().SetResult(&out).SetQueryParam("user", user).Get("/value")
	if err != nil {
		return nil, fmt.Errorf("fetch value for %s: %w", user, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch value for %s: status %d", user, resp.StatusCode())
	}
	return &out, nil
}

// VolumeTraded is the lifetime notional volume traded by an address.
type VolumeTraded struct {
	Traded float64 `json:"traded"`
}

// Traded fetches an address's lifetime traded volume.
func (c *Client) Traded(user string) (*VolumeTraded, error) {
	if err := c.wait(); err != nil {
		return nil, err
	}
	var out VolumeTraded
	resp, err := c.http.R().SetResult(&out).SetQueryParam("user", user).Get("/traded")
	if err != nil {
		return nil, fmt.Errorf("fetch traded volume for %s: %w", user, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch traded volume for %s: status %d", user, resp.StatusCode())
	}
	return &out, nil
}

// LeaderboardParams narrows a Leaderboard call.
type LeaderboardParams struct {
	OrderBy    string // PNL or VOL
	Category   string
	TimePeriod string // DAY, WEEK, MONTH, ALL
	Limit      int
	Offset     int
}

// Leaderboard fetches the PNL or volume leaderboard.
func (c *Client) Leaderboard(p LeaderboardParams) ([]LeaderboardEntry, error) {
	if err := c.wait(); err != nil {
		return nil, err
	}
	limit := p.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	var out []LeaderboardEntry
	req := c.http.R().SetResult(&out).
		SetQueryParam("orderBy", p.OrderBy).
		SetQueryParam("timePeriod", p.TimePeriod).
		SetQueryParam("limit", intStr(limit, 50)).
		SetQueryParam("offset", intStr(p.Offset, 0))
	if p.Category != "" {
		req.SetQueryParam("category", p.Category)
	}
	resp, err := req.Get("/v1/leaderboard")
	if err != nil {
		return nil, fmt.Errorf("fetch leaderboard: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch leaderboard: status %d", resp.StatusCode())
	}
	return out, nil
}

// Holders fetches the addresses holding a position in a market, with a
// 10 s timeout of its own.
func (c *Client) Holders(conditionID string, limit int) ([]Holder, error) {
	if err := c.wait(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out []Holder
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).
		SetQueryParam("market", conditionID).
		SetQueryParam("limit", intStr(limit, 100)).
		Get("/holders")
	if err != nil {
		return nil, fmt.Errorf("fetch holders for %s: %w", conditionID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch holders for %s: status %d", conditionID, resp.StatusCode())
	}
	return out, nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func intStr(v, def int) string {
	if v <= 0 {
		v = def
	}
	return fmt.Sprintf("%d", v)
}

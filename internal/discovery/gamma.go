// Package discovery talks to the Polymarket Gamma metadata API and keeps
// the local store's events/markets in sync with it. It is the only
// component that fetches market metadata over HTTP; the indexer calls
// into it on demand when it sees a token ID it doesn't recognize.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const apiMaxLimit = 500

// stringOrArray normalizes Gamma's clobTokenIds field, which arrives as
// either a JSON-encoded string (`"[\"1\",\"2\"]"`) or a native array
// (`["1","2"]") depending on the endpoint.
type stringOrArray []string

func (s *stringOrArray) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*s = arr
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return fmt.Errorf("clobTokenIds: neither array nor string: %w", err)
	}
	if encoded == "" {
		*s = nil
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &arr); err != nil {
		return fmt.Errorf("clobTokenIds: decode inner string: %w", err)
	}
	*s = arr
	return nil
}

// gammaEvent mirrors the fields of a Gamma /events payload this service uses.
type gammaEvent struct {
	ID          json.Number `json:"id"`
	Slug        string      `json:"slug"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	StartDate   string      `json:"startDate"`
	EndDate     string      `json:"endDate"`
	Image       string      `json:"image"`
	Icon        string      `json:"icon"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
	Archived    bool        `json:"archived"`
	NegRisk     bool        `json:"enableNegRisk"`
	Tags        []struct {
		Label string `json:"label"`
	} `json:"tags"`
	Markets []gammaMarket `json:"markets"`
}

// gammaMarket mirrors the fields of a Gamma /markets payload this service uses.
type gammaMarket struct {
	ConditionID     string        `json:"conditionId"`
	QuestionID      string        `json:"questionID"`
	Slug            string        `json:"slug"`
	Question        string        `json:"question"`
	Description     string        `json:"description"`
	ResolvedBy      string        `json:"resolvedBy"`
	CollateralToken string        `json:"collateralToken"`
	ClobTokenIds    stringOrArray `json:"clobTokenIds"`
	Outcomes        string        `json:"outcomes"`
	OutcomePrices   string        `json:"outcomePrices"`
	NegRisk         bool          `json:"negRisk"`
	Active          bool          `json:"active"`
	Closed          bool          `json:"closed"`
	Archived        bool          `json:"archived"`
	EndDate         string        `json:"endDate"`
	Image           string        `json:"image"`
	Icon            string        `json:"icon"`
	Category        string        `json:"category"`
	VolumeNum       float64       `json:"volumeNum"`
	Volume24hr      float64       `json:"volume24hr"`
	LiquidityNum    float64       `json:"liquidityNum"`
	BestBid         *float64      `json:"bestBid"`
	BestAsk         *float64      `json:"bestAsk"`
	Events          []gammaEvent  `json:"events"`
}

func (e gammaEvent) category() string {
	if e.Category != "" && e.Category != "All" {
		return e.Category
	}
	for _, tag := range e.Tags {
		if tag.Label != "" && tag.Label != "All" {
			return tag.Label
		}
	}
	return ""
}

func (e gammaEvent) status() string {
	switch {
	case e.Archived:
		return "archived"
	case e.Closed:
		return "closed"
	case !e.Active:
		return "closed"
	default:
		return "active"
	}
}

func (m gammaMarket) status() string {
	switch {
	case m.Archived:
		return "archived"
	case m.Closed:
		return "closed"
	case !m.Active:
		return "closed"
	default:
		return "active"
	}
}

// Client is the Gamma metadata API client. It wraps a resty client with a
// fixed base URL, timeout, and bounded retry, and throttles requests with
// a token bucket so a large discovery sweep stays under Gamma's rate limit.
type Client struct {
	http   *resty.Client
	rl     *TokenBucket
	logger *slog.Logger
}

// NewClient builds a Gamma API client against baseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		http:   httpClient,
		rl:     NewTokenBucket(20, 5),
		logger: logger.With("component", "gamma_client"),
	}
}

func (c *Client) eventBySlug(slug string) (*gammaEvent, error) {
	if err := c.rl.Wait(context.Background()); err != nil {
		return nil, err
	}
	var events []gammaEvent
	resp, err := c.http.R().SetQueryParam("slug", slug).SetResult(&events).Get("/events")
	if err != nil {
		return nil, fmt.Errorf("fetch event %s: %w", slug, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch event %s: status %d", slug, resp.StatusCode())
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (c *Client) marketsByEventSlug(eventSlug string, limit int) ([]gammaMarket, error) {
	return c.paginateMarkets(map[string]string{"slug": eventSlug}, limit, false)
}

func (c *Client) marketsByClobTokenID(tokenID string) ([]gammaMarket, error) {
	return c.paginateMarkets(map[string]string{"clob_token_ids": tokenID}, apiMaxLimit, false)
}

// marketByConditionID fetches the single market for a condition ID, used
// by the scheduler's periodic price refresh.
func (c *Client) marketByConditionID(conditionID string) (*gammaMarket, error) {
	markets, err := c.paginateMarkets(map[string]string{"condition_ids": conditionID}, 1, false)
	if err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return nil, nil
	}
	return &markets[0], nil
}

// paginateMarkets requests /markets at limit-per-request (capped at
// apiMaxLimit). Without fetchAll it makes a single request and returns at
// most one page; with fetchAll it keeps paging until an empty page.
func (c *Client) paginateMarkets(params map[string]string, limit int, fetchAll bool) ([]gammaMarket, error) {
	if limit <= 0 || limit > apiMaxLimit {
		limit = apiMaxLimit
	}
	offset := 0
	var all []gammaMarket
	for {
		if err := c.rl.Wait(context.Background()); err != nil {
			return nil, err
		}
		var page []gammaMarket
		req := c.http.R().SetResult(&page).SetQueryParam("limit", strconv.Itoa(limit)).SetQueryParam("offset", strconv.Itoa(offset))
		for k, v := range params {
			req.SetQueryParam(k, v)
		}
		resp, err := req.Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		all = append(all, page...)
		if len(page) < limit && !fetchAll {
			break
		}
		if len(page) == 0 {
			break
		}
		offset += limit
		if !fetchAll && len(all) >= limit {
			break
		}
	}
	return all, nil
}

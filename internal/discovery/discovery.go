package discovery

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"polylens/internal/ctf"
	"polylens/internal/store"
	"polylens/pkg/types"
)

// Service discovers market/event metadata from Gamma and upserts it into
// the store, verifying token IDs against the C1 derivation as it goes.
type Service struct {
	gamma             *Client
	store             *store.Store
	usdcE             common.Address
	wrappedCollateral common.Address
	logger            *slog.Logger
}

// NewService builds a discovery service against the given Gamma client and store.
func NewService(gamma *Client, st *store.Store, usdcE, wrappedCollateral common.Address, logger *slog.Logger) *Service {
	return &Service{
		gamma:             gamma,
		store:             st,
		usdcE:             usdcE,
		wrappedCollateral: wrappedCollateral,
		logger:            logger.With("component", "discovery"),
	}
}

// DiscoverByEventSlug pulls the named event and every market under it,
// upserting both. Markets inherit the event's category when they lack
// their own.
func (s *Service) DiscoverByEventSlug(slug string) error {
	event, err := s.gamma.eventBySlug(slug)
	if err != nil {
		s.logger.Warn("discover by event slug: fetch event failed", "slug", slug, "error", err)
		return nil
	}
	if event == nil {
		s.logger.Warn("discover by event slug: no such event", "slug", slug)
		return nil
	}

	eventID, err := s.upsertEvent(*event)
	if err != nil {
		return err
	}

	markets, err := s.gamma.marketsByEventSlug(slug, apiMaxLimit)
	if err != nil {
		s.logger.Warn("discover by event slug: fetch markets failed", "slug", slug, "error", err)
		return nil
	}

	for _, m := range markets {
		if err := s.processMarket(m, &eventID, event.category()); err != nil {
			s.logger.Warn("discover by event slug: process market failed", "condition_id", m.ConditionID, "error", err)
		}
	}
	return nil
}

// DiscoverAll paginates /markets directly, discovering markets that may
// not be linked from an already-known event.
func (s *Service) DiscoverAll(limit int, fetchAll bool) error {
	markets, err := s.gamma.paginateMarkets(nil, limit, fetchAll)
	if err != nil {
		s.logger.Warn("discover all: fetch markets failed", "error", err)
		return nil
	}
	for _, m := range markets {
		if err := s.processMarket(m, nil, ""); err != nil {
			s.logger.Warn("discover all: process market failed", "condition_id", m.ConditionID, "error", err)
		}
	}
	return nil
}

// DiscoverByTokenID is invoked on demand by the indexer when it encounters
// a token ID with no local market. It looks the token up directly, and
// backfills category from the parent event if the market's own payload
// lacks one.
func (s *Service) DiscoverByTokenID(tokenID string) (*types.Market, error) {
	markets, err := s.gamma.marketsByClobTokenID(tokenID)
	if err != nil {
		return nil, fmt.Errorf("discover by token id %s: %w", tokenID, err)
	}
	if len(markets) == 0 {
		return nil, nil
	}

	m := markets[0]
	category := m.Category
	var eventID *int64
	if len(m.Events) > 0 {
		id, err := s.upsertEvent(m.Events[0])
		if err != nil {
			return nil, err
		}
		eventID = &id
		if category == "" {
			category = m.Events[0].category()
		}
	}

	if err := s.processMarket(m, eventID, category); err != nil {
		return nil, err
	}
	return s.store.MarketByConditionID(m.ConditionID)
}

// RefreshMarketPrice re-fetches a single market's volatile fields (price,
// status, bid/ask) from Gamma and writes them back to the store. Run by
// the scheduler once per tick for its top-volume markets; ctx is accepted
// to satisfy the scheduler's PriceRefresher interface but this path has
// no cancellable suboperation of its own.
func (s *Service) RefreshMarketPrice(ctx context.Context, conditionID string) error {
	m, err := s.gamma.marketByConditionID(conditionID)
	if err != nil {
		return fmt.Errorf("refresh market price %s: %w", conditionID, err)
	}
	if m == nil {
		return nil
	}
	return s.store.UpdatePrices(conditionID, m.OutcomePrices, types.MarketStatus(m.status()), m.BestBid, m.BestAsk)
}

func (s *Service) upsertEvent(e gammaEvent) (int64, error) {
	return s.store.UpsertEvent(types.Event{
		Slug:        e.Slug,
		Title:       e.Title,
		Description: e.Description,
		Category:    e.category(),
		StartDate:   e.StartDate,
		EndDate:     e.EndDate,
		Image:       e.Image,
		Icon:        e.Icon,
		Status:      types.MarketStatus(e.status()),
		NegRisk:     e.NegRisk,
	})
}

// processMarket upserts a single Gamma market payload, verifying its
// clobTokenIds against the C1 derivation and attaching a sync_warning on
// mismatch rather than silently trusting either source.
func (s *Service) processMarket(m gammaMarket, eventID *int64, inheritedCategory string) error {
	if m.ConditionID == "" {
		return fmt.Errorf("market %s has no conditionId", m.Slug)
	}

	if eventID == nil && len(m.Events) > 0 {
		id, err := s.upsertEvent(m.Events[0])
		if err != nil {
			return err
		}
		eventID = &id
		if inheritedCategory == "" {
			inheritedCategory = m.Events[0].category()
		}
	}

	category := m.Category
	if category == "" {
		category = inheritedCategory
	}

	yesTokenID, noTokenID, syncWarning := s.verifyTokenIDs(m.ConditionID, m.NegRisk, m.ClobTokenIds)

	_, err := s.store.UpsertMarket(types.Market{
		EventID:         eventID,
		Slug:            m.Slug,
		ConditionID:     m.ConditionID,
		QuestionID:      m.QuestionID,
		CollateralToken: m.CollateralToken,
		YesTokenID:      yesTokenID,
		NoTokenID:       noTokenID,
		NegRisk:         m.NegRisk,
		Status:          types.MarketStatus(m.status()),
		Question:        m.Question,
		Description:     m.Description,
		Outcomes:        m.Outcomes,
		OutcomePrices:   m.OutcomePrices,
		EndDate:         m.EndDate,
		Image:           m.Image,
		Icon:            m.Icon,
		Category:        category,
		Volume:          m.VolumeNum,
		Volume24h:       m.Volume24hr,
		Liquidity:       m.LiquidityNum,
		BestBid:         m.BestBid,
		BestAsk:         m.BestAsk,
		SyncWarning:     syncWarning,
	})
	return err
}

// verifyTokenIDs calls C1 and compares against the API's clobTokenIds. If
// both derived IDs match, it returns the derived pair with no warning;
// otherwise it falls back to the API's values (if present) and attaches a
// warning rather than dropping the market.
func (s *Service) verifyTokenIDs(conditionIDHex string, isNegRisk bool, apiTokenIDs stringOrArray) (yes, no, warning string) {
	conditionID, err := parseConditionID(conditionIDHex)
	if err != nil {
		y, n := fallbackPair(apiTokenIDs)
		return y, n, fmt.Sprintf("could not parse conditionId: %v", err)
	}

	collateral := s.usdcE
	if isNegRisk {
		collateral = s.wrappedCollateral
	}

	derived, err := ctf.Derive(conditionID, collateral)
	if err != nil {
		y, n := fallbackPair(apiTokenIDs)
		return y, n, fmt.Sprintf("derivation failed: %v", err)
	}

	apiYes, apiNo := fallbackPair(apiTokenIDs)
	if apiYes == "" && apiNo == "" {
		return derived.YesTokenID, derived.NoTokenID, ""
	}
	if derived.YesTokenID == apiYes && derived.NoTokenID == apiNo {
		return derived.YesTokenID, derived.NoTokenID, ""
	}
	return apiYes, apiNo, "derived token ids do not match clobTokenIds from Gamma"
}

func fallbackPair(apiTokenIDs stringOrArray) (yes, no string) {
	if len(apiTokenIDs) > 0 {
		yes = apiTokenIDs[0]
	}
	if len(apiTokenIDs) > 1 {
		no = apiTokenIDs[1]
	}
	return yes, no
}

func parseConditionID(hexStr string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(hexStr, "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

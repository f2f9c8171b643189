package api

import (
	"net/http"
	"strconv"

	"polylens/internal/store"
	"polylens/pkg/types"
)

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListMarketsFilter{
		Category:          q.Get("category"),
		Status:            types.MarketStatus(q.Get("status")),
		Limit:             atoiOr(q.Get("limit"), 100),
		Offset:            atoiOr(q.Get("offset"), 0),
		OrderByVolumeDesc: q.Get("sort") == "volume",
	}
	markets, err := s.store.ListMarkets(filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, markets)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.lookupMarket(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil {
		respondError(w, http.StatusNotFound, "market not found")
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleMarketPrice(w http.ResponseWriter, r *http.Request) {
	m, err := s.lookupMarket(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil {
		respondError(w, http.StatusNotFound, "market not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"condition_id":   m.ConditionID,
		"outcome_prices": m.OutcomePrices,
		"best_bid":       m.BestBid,
		"best_ask":       m.BestAsk,
		"status":         m.Status,
	})
}

func (s *Server) handleMarketHolders(w http.ResponseWriter, r *http.Request) {
	if s.data == nil {
		respondError(w, http.StatusServiceUnavailable, "data api not configured")
		return
	}
	m, err := s.lookupMarket(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil {
		respondError(w, http.StatusNotFound, "market not found")
		return
	}
	limit := atoiOr(r.URL.Query().Get("limit"), 100)
	holders, err := s.data.Holders(m.ConditionID, limit)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, holders)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.Categories()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

// lookupMarket resolves a path id as a surrogate id if numeric, otherwise
// as a condition id or slug.
func (s *Server) lookupMarket(id string) (*types.Market, error) {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return s.store.MarketByID(n)
	}
	if m, err := s.store.MarketByConditionID(id); err != nil {
		return nil, err
	} else if m != nil {
		return m, nil
	}
	return s.store.MarketBySlug(id)
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

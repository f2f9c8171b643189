package api

import (
	"net/http"

	"polylens/internal/dataapi"
)

func (s *Server) handleTradersTop(w http.ResponseWriter, r *http.Request) {
	if s.data == nil {
		respondError(w, http.StatusServiceUnavailable, "data api not configured")
		return
	}
	q := r.URL.Query()
	orderBy := q.Get("order_by")
	if orderBy == "" {
		orderBy = "VOL"
	}
	timePeriod := q.Get("time_period")
	if timePeriod == "" {
		timePeriod = "WEEK"
	}
	entries, err := s.data.Leaderboard(dataapi.LeaderboardParams{
		OrderBy:    orderBy,
		Category:   q.Get("category"),
		TimePeriod: timePeriod,
		Limit:      atoiOr(q.Get("limit"), 50),
		Offset:     atoiOr(q.Get("offset"), 0),
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTradersSearch(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("q")
	if prefix == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	addrs, err := s.store.SearchTraderAddresses(prefix, atoiOr(r.URL.Query().Get("limit"), 20))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, addrs)
}

func (s *Server) handleTrader(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	activity, err := s.store.TraderActivityFor(addr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"address":         addr,
		"trade_count":     activity.TradeCount,
		"volume":          activity.Volume,
		"markets_touched": activity.MarketsHit,
	}
	if s.levels != nil {
		level, err := s.levels.Level(addr)
		if err != nil {
			s.logger.Warn("trader level lookup failed", "address", addr, "error", err)
		} else {
			resp["whale_level"] = level
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTraderTrades(w http.ResponseWriter, r *http.Request) {
	if s.data == nil {
		respondError(w, http.StatusServiceUnavailable, "data api not configured")
		return
	}
	q := r.URL.Query()
	trades, err := s.data.Trades(dataapi.TradesParams{
		User:      r.PathValue("addr"),
		TakerOnly: q.Get("taker_only") == "true",
		Limit:     atoiOr(q.Get("limit"), 100),
		Offset:    atoiOr(q.Get("offset"), 0),
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, trades)
}

func (s *Server) handleTraderPositions(w http.ResponseWriter, r *http.Request) {
	if s.data == nil {
		respondError(w, http.StatusServiceUnavailable, "data api not configured")
		return
	}
	q := r.URL.Query()
	positions, err := s.data.Positions(r.PathValue("addr"), atoiOr(q.Get("limit"), 100), atoiOr(q.Get("offset"), 0))
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, positions)
}

func (s *Server) handleTraderStats(w http.ResponseWriter, r *http.Request) {
	activity, err := s.store.TraderActivityFor(r.PathValue("addr"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, activity)
}

func (s *Server) handleTraderValue(w http.ResponseWriter, r *http.Request) {
	if s.data == nil {
		respondError(w, http.StatusServiceUnavailable, "data api not configured")
		return
	}
	value, err := s.data.Value(r.PathValue("addr"))
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, value)
}

// handleTraderPnlHistory reports closed positions ordered as a pnl
// timeline; the Data API exposes no dedicated history endpoint, so
// closed-positions cash_pnl is the closest available series.
func (s *Server) handleTraderPnlHistory(w http.ResponseWriter, r *http.Request) {
	if s.data == nil {
		respondError(w, http.StatusServiceUnavailable, "data api not configured")
		return
	}
	q := r.URL.Query()
	positions, err := s.data.ClosedPositions(r.PathValue("addr"), atoiOr(q.Get("limit"), 100), atoiOr(q.Get("offset"), 0))
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, positions)
}

package api

import (
	"net/http"
	"strconv"
)

func (s *Server) handleWhales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := atoiOr(q.Get("limit"), 50)
	minUSD := float64Or(q.Get("min_usd"), 0)
	var marketID *int64
	if raw := q.Get("market_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid market_id")
			return
		}
		marketID = &n
	}
	trades, err := s.store.WhaleTrades(limit, minUSD, marketID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, trades)
}

func (s *Server) handleWhalesRecent(w http.ResponseWriter, r *http.Request) {
	limit := atoiOr(r.URL.Query().Get("limit"), 20)
	trades, err := s.store.RecentWhaleTrades(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, trades)
}

func (s *Server) handleWhalesStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minUSD := float64Or(q.Get("min_usd"), 0)
	var marketID *int64
	if raw := q.Get("market_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid market_id")
			return
		}
		marketID = &n
	}
	stats, err := s.store.WhaleStatsFor(minUSD, marketID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWhalesDetect(w http.ResponseWriter, r *http.Request) {
	if s.whales == nil {
		respondError(w, http.StatusServiceUnavailable, "whale detector not configured")
		return
	}
	q := r.URL.Query()
	threshold := float64Or(q.Get("threshold"), 10000)
	batch := atoiOr(q.Get("batch_size"), 1000)
	detected, err := s.whales.DetectNew(threshold, batch)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"detected": detected})
}

func float64Or(s string, def float64) float64 {
	if s == "" {
		return def
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return n
}

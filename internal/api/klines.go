package api

import (
	"net/http"
	"strconv"
	"time"

	"polylens/pkg/types"
)

func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusServiceUnavailable, "metrics engine not configured")
		return
	}
	q := r.URL.Query()
	marketID, err := strconv.ParseInt(q.Get("market_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "market_id is required")
		return
	}
	interval := types.KlineInterval(q.Get("interval"))
	if _, ok := types.IntervalSeconds[interval]; !ok {
		respondError(w, http.StatusBadRequest, "unknown interval")
		return
	}
	tokenID := q.Get("token_id")
	if tokenID == "" {
		m, err := s.store.MarketByID(marketID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if m == nil {
			respondError(w, http.StatusNotFound, "market not found")
			return
		}
		tokenID = m.YesTokenID
	}
	from := int64Or(q.Get("from"), time.Now().Add(-24*time.Hour).Unix())
	to := int64Or(q.Get("to"), time.Now().Unix())

	klines, err := s.engine.Klines(marketID, tokenID, interval, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, klines)
}

func (s *Server) handleKlinesPrice(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusServiceUnavailable, "metrics engine not configured")
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
	now := time.Now().Unix()
	klines, err := s.engine.Klines(m.ID, m.YesTokenID, types.Interval1m, now-300, now)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(klines) == 0 {
		respondJSON(w, http.StatusOK, map[string]any{"market_id": m.ID, "price": nil})
		return
	}
	last := klines[len(klines)-1]
	respondJSON(w, http.StatusOK, map[string]any{"market_id": m.ID, "price": last.Close, "timestamp": last.Timestamp})
}

func (s *Server) handleKlinesRange(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusServiceUnavailable, "metrics engine not configured")
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
	q := r.URL.Query()
	interval := types.KlineInterval(q.Get("interval"))
	if interval == "" {
		interval = types.Interval1h
	}
	if _, ok := types.IntervalSeconds[interval]; !ok {
		respondError(w, http.StatusBadRequest, "unknown interval")
		return
	}
	tokenID := q.Get("token_id")
	if tokenID == "" {
		tokenID = m.YesTokenID
	}
	from := int64Or(q.Get("from"), time.Now().Add(-7*24*time.Hour).Unix())
	to := int64Or(q.Get("to"), time.Now().Unix())

	klines, err := s.engine.Klines(m.ID, tokenID, interval, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, klines)
}

func int64Or(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}

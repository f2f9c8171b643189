package api

import (
	"net/http"

	"polylens/pkg/types"
)

func parsePeriod(r *http.Request) types.Period {
	p := types.Period(r.URL.Query().Get("period"))
	if _, ok := types.PeriodSeconds[p]; !ok {
		return types.Period24h
	}
	return p
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
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
	snapshot, err := s.engine.Snapshot(m.ID, m.YesTokenID, parsePeriod(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleMetricsVWAP(w http.ResponseWriter, r *http.Request) {
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
	vwap, err := s.engine.VWAP(m.ID, m.YesTokenID, parsePeriod(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"market_id": m.ID, "vwap": vwap})
}

func (s *Server) handleMetricsPressure(w http.ResponseWriter, r *http.Request) {
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
	period := parsePeriod(r)
	pressure, err := s.engine.BuySellPressure(m.ID, m.YesTokenID, period)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	netFlow, err := s.engine.NetFlow(m.ID, m.YesTokenID, period)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"market_id":         m.ID,
		"buy_sell_pressure": pressure,
		"net_flow":          netFlow,
	})
}

func (s *Server) handleMetricsWhaleSignal(w http.ResponseWriter, r *http.Request) {
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
	signal, err := s.engine.WhaleSignal(m.ID, parsePeriod(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"market_id": m.ID, "signal": signal})
}

package api

import (
	"context"
	"net/http"
)

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		respondError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	resp := map[string]any{
		"sync_count": s.sched.SyncCount(),
		"is_syncing": s.sched.IsSyncing(),
	}
	if last := s.sched.LastResult(); last != nil {
		errStr := ""
		if last.Err != nil {
			errStr = last.Err.Error()
		}
		resp["last_result"] = map[string]any{
			"sync_count":       last.SyncCount,
			"trades_synced":    last.TradesSynced,
			"prices_refreshed": last.PricesRefreshed,
			"whales_detected":  last.WhalesDetected,
			"ran_at":           last.RanAt,
			"error":            errStr,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSchedulerTrigger is a debug/operational escape hatch: most ticks
// happen on the configured interval, but an operator (or a test) can force
// one immediately.
func (s *Server) handleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		respondError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	go s.sched.Tick(context.WithoutCancel(r.Context()))
	respondJSON(w, http.StatusAccepted, map[string]any{"triggered": true})
}

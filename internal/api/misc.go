package api

import (
	"net/http"

	"polylens/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.sched != nil {
		resp["scheduler_syncing"] = s.sched.IsSyncing()
	}
	if s.hub != nil {
		resp["websocket"] = s.hub.Status()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	cursors, err := s.store.AllCursors()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	markets, err := s.store.ListMarkets(store.ListMarketsFilter{Limit: 1})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"cursors":     cursors,
		"has_markets": len(markets) > 0,
	}
	if s.sched != nil {
		resp["sync_count"] = s.sched.SyncCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

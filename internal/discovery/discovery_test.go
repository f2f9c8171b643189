package discovery

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"polylens/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, handler http.HandlerFunc) (*Service, *store.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	client := NewClient(srv.URL, discardLogger())
	usdcE := common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	wrapped := common.HexToAddress("0x9c4e1703476e875070ee25b56a58b008cfb8fa78")
	return NewService(client, st, usdcE, wrapped, discardLogger()), st
}

func TestDiscoverByEventSlugUpsertsEventAndMarkets(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/events"):
			json.NewEncoder(w).Encode([]gammaEvent{{
				Slug: "will-it-rain", Title: "Will it rain?", Category: "Weather", Active: true,
			}})
		case strings.HasPrefix(r.URL.Path, "/markets"):
			if r.URL.Query().Get("offset") != "0" && r.URL.Query().Get("offset") != "" {
				json.NewEncoder(w).Encode([]gammaMarket{})
				return
			}
			json.NewEncoder(w).Encode([]gammaMarket{{
				ConditionID: "0x" + strings.Repeat("0", 64),
				Slug:        "will-it-rain-tomorrow",
				Question:    "Will it rain tomorrow?",
				Active:      true,
				ClobTokenIds: stringOrArray{"123", "456"},
			}})
		default:
			http.NotFound(w, r)
		}
	}

	svc, st := newTestService(t, handler)

	if err := svc.DiscoverByEventSlug("will-it-rain"); err != nil {
		t.Fatalf("DiscoverByEventSlug: %v", err)
	}

	event, err := st.EventBySlug("will-it-rain")
	if err != nil {
		t.Fatalf("EventBySlug: %v", err)
	}
	if event == nil {
		t.Fatal("expected event to be upserted")
	}
	if event.Category != "Weather" {
		t.Errorf("Category = %q, want Weather", event.Category)
	}

	market, err := st.MarketBySlug("will-it-rain-tomorrow")
	if err != nil {
		t.Fatalf("MarketBySlug: %v", err)
	}
	if market == nil {
		t.Fatal("expected market to be upserted")
	}
	if market.Category != "Weather" {
		t.Errorf("market Category = %q, want inherited Weather", market.Category)
	}
	if market.SyncWarning == "" {
		t.Error("expected sync_warning since the fixture's api token ids won't match the C1 derivation")
	}
}

func TestDiscoverByEventSlugMissingEventIsNotFatal(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]gammaEvent{})
	}
	svc, _ := newTestService(t, handler)

	if err := svc.DiscoverByEventSlug("nonexistent"); err != nil {
		t.Fatalf("expected no error for missing event, got %v", err)
	}
}

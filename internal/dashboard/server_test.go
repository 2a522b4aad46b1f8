package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"orderflow/config"
	"orderflow/internal/store"
	"orderflow/logger"
	"orderflow/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	snapshots := store.NewSnapshotStore(16)
	watchlist := store.NewWatchlistStore(filepath.Join(t.TempDir(), "watchlist.json"))

	cfg := config.DashboardConfig{
		Enabled:         true,
		RefreshInterval: time.Second,
		LogBuffer:       10,
		MetricBuffer:    10,
	}

	srv, err := NewServer(cfg, snapshots, watchlist, nil, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected dashboard server, got nil")
	}
	t.Cleanup(srv.cleanup)
	return srv
}

func dashboardSnapshot(exchange, symbol string) models.ProfileSnapshot {
	return models.ProfileSnapshot{
		Exchange:    exchange,
		Market:      models.MarketFutures,
		Symbol:      symbol,
		GeneratedAt: time.Unix(1_700_000_000, 0).UTC(),
		EventCount:  3,
		WindowStart: 1_700_000_000_000,
		WindowEnd:   1_700_000_060_000,
		LastPrice:   101.5,
		Profile: &models.VolumeProfile{
			Buckets:       []models.PriceBucket{{Price: 101, Volume: 4, IsPOC: true, InValueArea: true}},
			POC:           101,
			ValueAreaHigh: 102,
			ValueAreaLow:  100,
			TotalVolume:   4,
			BucketWidth:   1,
		},
		Delta:   []models.DeltaBucket{{Time: 1_700_000_000_000, Delta: 2, BuyVolume: 3, SellVolume: 1}},
		Summary: models.FlowSummary{TotalDelta: 2, TotalBuy: 3, TotalSell: 1, ImbalancePercent: 50},
	}
}

func serveRequest(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	router, err := srv.buildRouter("app")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                               "0.0.0.0:8080",
		"  :9090  ":                      "0.0.0.0:9090",
		"localhost":                      "localhost:8080",
		"0.0.0.0:80":                     "0.0.0.0:80",
		"[::1]:443":                      "[::1]:443",
		"::1":                            "[::1]:8080",
		"*:8080":                         "0.0.0.0:8080",
		"http://13.200.112.203:8080":     "13.200.112.203:8080",
		"https://13.200.112.203":         "13.200.112.203:8080",
		"http://:7070":                   "0.0.0.0:7070",
		"tcp://localhost:5050":           "localhost:5050",
		"https://dashboard.example.com/": "dashboard.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerNormalizesConfiguredAddress(t *testing.T) {
	cfg := config.DashboardConfig{Enabled: true, Addr: ":9000"}
	snapshots := store.NewSnapshotStore(4)
	watchlist := store.NewWatchlistStore(filepath.Join(t.TempDir(), "watchlist.json"))

	srv, err := NewServer(cfg, snapshots, watchlist, nil, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected dashboard server, got nil")
	}
	if got := srv.Address(); got != "0.0.0.0:9000" {
		t.Fatalf("server address = %q, want %q", got, "0.0.0.0:9000")
	}
	srv.cleanup()
}

func TestNewServerDisabledReturnsNil(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{}, nil, nil, nil, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv != nil {
		t.Fatal("expected nil server when dashboard is disabled")
	}
}

func TestHealthzEndpoint(t *testing.T) {
	srv := newTestServer(t)

	res := serveRequest(t, srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"ok"`) {
		t.Fatalf("unexpected healthz body: %s", res.Body.String())
	}
}

func TestOverviewIncludesPublishedPairs(t *testing.T) {
	srv := newTestServer(t)
	srv.snapshots.Publish(dashboardSnapshot(models.ExchangeBinance, "BTCUSDT"))
	srv.snapshots.Publish(dashboardSnapshot(models.ExchangeBybit, "ETHUSDT"))
	srv.watchlist.Add(store.WatchlistEntry{Exchange: models.ExchangeBinance, Symbol: "BTCUSDT"})

	res := serveRequest(t, srv, httptest.NewRequest(http.MethodGet, "/api/overview", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	var payload struct {
		Pairs []struct {
			Exchange  string  `json:"exchange"`
			Symbol    string  `json:"symbol"`
			LastPrice float64 `json:"last_price"`
			POC       float64 `json:"poc"`
			Pinned    bool    `json:"pinned"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode overview: %v", err)
	}

	if len(payload.Pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(payload.Pairs))
	}
	// keys sort binance before bybit
	first := payload.Pairs[0]
	if first.Exchange != models.ExchangeBinance || first.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected first pair: %+v", first)
	}
	if !first.Pinned {
		t.Fatal("pinned pair not flagged in overview")
	}
	if first.LastPrice != 101.5 || first.POC != 101 {
		t.Fatalf("unexpected pair values: %+v", first)
	}
	if payload.Pairs[1].Pinned {
		t.Fatal("unpinned pair flagged as pinned")
	}
}

func TestProfileEndpointReturnsLatestSnapshot(t *testing.T) {
	srv := newTestServer(t)
	srv.snapshots.Publish(dashboardSnapshot(models.ExchangeBinance, "BTCUSDT"))

	res := serveRequest(t, srv, httptest.NewRequest(http.MethodGet, "/api/profile/binance/btcusdt", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	var payload struct {
		Symbol  string                `json:"symbol"`
		Profile *models.VolumeProfile `json:"profile"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode profile: %v", err)
	}
	if payload.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected symbol: %q", payload.Symbol)
	}
	if payload.Profile == nil || payload.Profile.POC != 101 {
		t.Fatalf("unexpected profile payload: %+v", payload.Profile)
	}
}

func TestProfileEndpointUnknownPair(t *testing.T) {
	srv := newTestServer(t)

	res := serveRequest(t, srv, httptest.NewRequest(http.MethodGet, "/api/profile/binance/DOGEUSDT", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown pair, got %d", res.Code)
	}
}

func TestDeltaEndpointReturnsSeries(t *testing.T) {
	srv := newTestServer(t)
	srv.snapshots.Publish(dashboardSnapshot(models.ExchangeBinance, "BTCUSDT"))

	res := serveRequest(t, srv, httptest.NewRequest(http.MethodGet, "/api/delta/binance/BTCUSDT", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	var payload struct {
		Delta   []models.DeltaBucket `json:"delta"`
		Summary models.FlowSummary   `json:"summary"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode delta: %v", err)
	}
	if len(payload.Delta) != 1 || payload.Delta[0].Delta != 2 {
		t.Fatalf("unexpected delta payload: %+v", payload.Delta)
	}
	if payload.Summary.TotalBuy != 3 || payload.Summary.TotalSell != 1 {
		t.Fatalf("unexpected summary payload: %+v", payload.Summary)
	}
}

func TestSummaryEndpointIncludesValueArea(t *testing.T) {
	srv := newTestServer(t)
	srv.snapshots.Publish(dashboardSnapshot(models.ExchangeBinance, "BTCUSDT"))

	res := serveRequest(t, srv, httptest.NewRequest(http.MethodGet, "/api/summary/binance/BTCUSDT", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	var payload struct {
		ValueAreaHigh float64 `json:"value_area_high"`
		ValueAreaLow  float64 `json:"value_area_low"`
		WindowStart   int64   `json:"window_start"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if payload.ValueAreaHigh != 102 || payload.ValueAreaLow != 100 {
		t.Fatalf("unexpected value area: %+v", payload)
	}
	if payload.WindowStart != 1_700_000_000_000 {
		t.Fatalf("unexpected window start: %d", payload.WindowStart)
	}
}

func TestSignalsEndpointHonoursLimit(t *testing.T) {
	srv := newTestServer(t)
	srv.snapshots.AddSignals([]models.TradingSignal{
		{ID: "a", Kind: models.SignalDeltaImbalance},
		{ID: "b", Kind: models.SignalPOCShift},
		{ID: "c", Kind: models.SignalVABreakout},
	})

	res := serveRequest(t, srv, httptest.NewRequest(http.MethodGet, "/api/signals?limit=2", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}

	var payload struct {
		Signals []models.TradingSignal `json:"signals"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode signals: %v", err)
	}
	if len(payload.Signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(payload.Signals))
	}
	if payload.Signals[0].ID != "c" || payload.Signals[1].ID != "b" {
		t.Fatalf("signals not newest first: %+v", payload.Signals)
	}
}

func TestWatchlistRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	router, err := srv.buildRouter("app")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}

	body := strings.NewReader(`{"exchange": "Binance", "symbol": "ethusdt", "notes": "swing"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/watchlist", body)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusCreated {
		t.Fatalf("unexpected status code for POST: %d", res.Code)
	}

	var created struct {
		Entry store.WatchlistEntry `json:"entry"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode created entry: %v", err)
	}
	if created.Entry.Exchange != "binance" || created.Entry.Symbol != "ETHUSDT" {
		t.Fatalf("entry not normalised: %+v", created.Entry)
	}

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/watchlist", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code for GET: %d", res.Code)
	}
	var listed struct {
		Watchlist []store.WatchlistEntry `json:"watchlist"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &listed); err != nil {
		t.Fatalf("failed to decode watchlist: %v", err)
	}
	if len(listed.Watchlist) != 1 {
		t.Fatalf("expected 1 watchlist entry, got %d", len(listed.Watchlist))
	}

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodDelete, "/api/watchlist/binance/ETHUSDT", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code for DELETE: %d", res.Code)
	}

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodDelete, "/api/watchlist/binance/ETHUSDT", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting a missing entry, got %d", res.Code)
	}
}

func TestWatchlistAddRejectsMissingFields(t *testing.T) {
	srv := newTestServer(t)

	body := strings.NewReader(`{"exchange": "binance"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/watchlist", body)
	req.Header.Set("Content-Type", "application/json")
	res := serveRequest(t, srv, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing symbol, got %d", res.Code)
	}
}

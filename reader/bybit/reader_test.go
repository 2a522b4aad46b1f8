package bybit

import (
	"context"
	"testing"
	"time"

	"orderflow/config"
	trades "orderflow/internal/channel/trades"
	"orderflow/models"
)

func minimalConfig() *config.Config {
	return &config.Config{
		Reader: config.ReaderConfig{Timeout: time.Second},
		Source: config.SourceConfig{
			Bybit: config.BybitSourceConfig{
				ConnectionPool: config.ConnectionPoolConfig{
					MaxIdleConns:    1,
					MaxConnsPerHost: 1,
					IdleConnTimeout: time.Second,
				},
				Future: config.BybitFutureConfig{
					Trades: config.BybitTradesConfig{
						Rest: config.BybitTradeRestConfig{
							Enabled:    true,
							URL:        "https://example.com/v5/market/recent-trade",
							Category:   "linear",
							Limit:      100,
							IntervalMs: 1000,
							Symbols:    []string{"BTCUSDT"},
						},
						Stream: config.BybitTradeStreamConfig{
							Enabled: true,
							URL:     "wss://example.com/v5/public/linear",
							Symbols: []string{"BTCUSDT"},
						},
					},
				},
			},
		},
	}
}

func TestNewReaders(t *testing.T) {
	cfg := minimalConfig()
	ch := trades.NewChannels(1, 1, 1)
	r1 := Bybit_Trades_NewReader(cfg, ch, []string{"BTCUSDT"})
	if r1 == nil {
		t.Fatal("Bybit_Trades_NewReader returned nil")
	}
	r2 := Bybit_TradeStream_NewReader(cfg, ch, []string{"BTCUSDT"})
	if r2 == nil {
		t.Fatal("Bybit_TradeStream_NewReader returned nil")
	}
}

func TestFreshTrades(t *testing.T) {
	// Newest first, as returned by the v5 API.
	list := []models.BybitRecentTrade{
		{ExecID: "c", Time: "3000"},
		{ExecID: "b", Time: "2000"},
		{ExecID: "a", Time: "1000"},
	}

	fresh, newest := freshTrades(list, 1000)
	if len(fresh) != 2 {
		t.Fatalf("expected 2 fresh trades, got %d", len(fresh))
	}
	if fresh[0].ExecID != "b" || fresh[1].ExecID != "c" {
		t.Errorf("fresh trades should be ascending by time: %+v", fresh)
	}
	if newest != 3000 {
		t.Errorf("expected newest 3000, got %d", newest)
	}

	fresh, newest = freshTrades(list, 3000)
	if len(fresh) != 0 {
		t.Errorf("expected no fresh trades past cursor, got %d", len(fresh))
	}
	if newest != 3000 {
		t.Errorf("cursor should be unchanged, got %d", newest)
	}
}

func TestFreshTradesSkipsUnparsableTime(t *testing.T) {
	list := []models.BybitRecentTrade{
		{ExecID: "b", Time: "2000"},
		{ExecID: "x", Time: "not-a-number"},
	}
	fresh, newest := freshTrades(list, 0)
	if len(fresh) != 1 || fresh[0].ExecID != "b" {
		t.Fatalf("expected only parsable trade, got %+v", fresh)
	}
	if newest != 2000 {
		t.Errorf("expected newest 2000, got %d", newest)
	}
}

func TestStartDisabledRest(t *testing.T) {
	cfg := minimalConfig()
	cfg.Source.Bybit.Future.Trades.Rest.Enabled = false
	r := Bybit_Trades_NewReader(cfg, trades.NewChannels(1, 1, 1), []string{"BTCUSDT"})
	if err := r.Bybit_Trades_Start(context.Background()); err == nil {
		t.Fatal("expected error when polling is disabled")
	}
}

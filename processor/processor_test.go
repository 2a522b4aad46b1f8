package processor

import (
	"context"
	"testing"
	"time"

	"orderflow/config"
	trades "orderflow/internal/channel/trades"
	"orderflow/internal/store"
	"orderflow/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Channels: config.ChannelsConfig{
			RawBuffer:      16,
			BatchBuffer:    16,
			SnapshotBuffer: 16,
		},
		Processor: config.ProcessorConfig{
			MaxWorkers:   1,
			BatchSize:    100,
			BatchTimeout: time.Second,
		},
		Profile: config.ProfileConfig{
			DefaultBucketWidth: 1.0,
			ValueAreaFraction:  0.70,
			DeltaBucketMs:      60_000,
			WindowDuration:     time.Hour,
			MaxEvents:          10_000,
			RecomputeEachBatch: true,
		},
		Signals: config.SignalsConfig{Enabled: false},
	}
}

func rawMessage(exchange, symbol, source string, payload string) models.RawTradeMessage {
	return models.RawTradeMessage{
		Exchange:  exchange,
		Symbol:    symbol,
		Market:    models.MarketFutures,
		Source:    source,
		Data:      []byte(payload),
		Timestamp: time.Now(),
	}
}

func TestNormalizerStartStop(t *testing.T) {
	cfg := testConfig()
	ch := trades.NewChannels(4, 4, 4)
	n := NewNormalizer(cfg, ch)

	ctx, cancel := context.WithCancel(context.Background())
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := n.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	cancel()
	n.Stop()
}

func TestNormalizerDecodeBinanceRest(t *testing.T) {
	n := NewNormalizer(testConfig(), trades.NewChannels(1, 1, 1))

	raw := rawMessage("binance", "BTCUSDT", models.SourceRest,
		`[{"a":1,"p":"100.5","q":"2","T":1700000000000,"m":false},{"a":2,"p":"bad","q":"1","T":1700000000001,"m":true}]`)
	events, err := n.decodeTrades(raw)
	if err != nil {
		t.Fatalf("decodeTrades failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 decoded event, got %d", len(events))
	}
	e := events[0]
	if e.Price != 100.5 || e.Volume != 2 || e.IsBuyerMaker || e.Timestamp != 1700000000000 {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestNormalizerDecodeBinanceStream(t *testing.T) {
	n := NewNormalizer(testConfig(), trades.NewChannels(1, 1, 1))

	raw := rawMessage("binance", "BTCUSDT", models.SourceStream,
		`{"e":"aggTrade","E":1700000000010,"s":"BTCUSDT","a":5,"p":"99.5","q":"0.25","T":1700000000000,"m":true}`)
	events, err := n.decodeTrades(raw)
	if err != nil {
		t.Fatalf("decodeTrades failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 decoded event, got %d", len(events))
	}
	if !events[0].IsBuyerMaker || events[0].Price != 99.5 {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestNormalizerDecodeBybitStream(t *testing.T) {
	n := NewNormalizer(testConfig(), trades.NewChannels(1, 1, 1))

	raw := rawMessage("bybit", "BTCUSDT", models.SourceStream,
		`{"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":1700000000100,"data":[{"T":1700000000000,"s":"BTCUSDT","S":"Sell","v":"0.5","p":"100"}]}`)
	events, err := n.decodeTrades(raw)
	if err != nil {
		t.Fatalf("decodeTrades failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 decoded event, got %d", len(events))
	}
	if !events[0].IsBuyerMaker {
		t.Error("a Sell taker means the buyer was the maker")
	}
}

func TestNormalizerDecodeBybitRest(t *testing.T) {
	n := NewNormalizer(testConfig(), trades.NewChannels(1, 1, 1))

	raw := rawMessage("bybit", "BTCUSDT", models.SourceRest,
		`{"retCode":0,"retMsg":"OK","result":{"category":"linear","list":[{"execId":"x","symbol":"BTCUSDT","price":"101","size":"0.1","side":"Buy","time":"1700000000000"}]},"time":1700000000100}`)
	events, err := n.decodeTrades(raw)
	if err != nil {
		t.Fatalf("decodeTrades failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 decoded event, got %d", len(events))
	}
	if events[0].IsBuyerMaker {
		t.Error("a Buy taker means the seller was the maker")
	}
	if events[0].Timestamp != 1700000000000 {
		t.Errorf("unexpected timestamp: %d", events[0].Timestamp)
	}
}

func TestNormalizerDecodeUnknownExchange(t *testing.T) {
	n := NewNormalizer(testConfig(), trades.NewChannels(1, 1, 1))

	if _, err := n.decodeTrades(rawMessage("kraken", "BTCUSD", models.SourceRest, `[]`)); err == nil {
		t.Error("expected error for unsupported exchange")
	}
}

func TestNormalizerBatchesBySize(t *testing.T) {
	cfg := testConfig()
	cfg.Processor.BatchSize = 2
	ch := trades.NewChannels(16, 16, 16)
	n := NewNormalizer(cfg, ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		cancel()
		n.Stop()
	}()

	ch.Raw <- rawMessage("binance", "BTCUSDT", models.SourceStream,
		`{"e":"aggTrade","s":"BTCUSDT","a":1,"p":"100","q":"1","T":1700000000000,"m":false}`)
	ch.Raw <- rawMessage("binance", "BTCUSDT", models.SourceStream,
		`{"e":"aggTrade","s":"BTCUSDT","a":2,"p":"101","q":"1","T":1700000000001,"m":true}`)

	select {
	case batch := <-ch.Batch:
		if batch.RecordCount != 2 {
			t.Errorf("expected 2 records in batch, got %d", batch.RecordCount)
		}
		if batch.Exchange != "binance" || batch.Symbol != "BTCUSDT" {
			t.Errorf("unexpected batch identity: %s %s", batch.Exchange, batch.Symbol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for size-triggered batch")
	}
}

func TestAnalyzerStartStop(t *testing.T) {
	cfg := testConfig()
	ch := trades.NewChannels(4, 4, 4)
	a := NewAnalyzer(cfg, ch, store.NewSnapshotStore(16))

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := a.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	cancel()
	a.Stop()
}

func TestAnalyzerProducesSnapshot(t *testing.T) {
	cfg := testConfig()
	ch := trades.NewChannels(16, 16, 16)
	snapshots := store.NewSnapshotStore(16)
	a := NewAnalyzer(cfg, ch, snapshots)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		cancel()
		a.Stop()
	}()

	ch.Batch <- batchOf("binance", "BTCUSDT",
		models.TradeEvent{Price: 100, Volume: 2, IsBuyerMaker: false, Timestamp: 1_700_000_000_000},
		models.TradeEvent{Price: 101, Volume: 1, IsBuyerMaker: true, Timestamp: 1_700_000_001_000},
		models.TradeEvent{Price: 100.4, Volume: 3, IsBuyerMaker: false, Timestamp: 1_700_000_002_000},
	)

	var snap models.ProfileSnapshot
	select {
	case snap = <-ch.Snapshots:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	if snap.EventCount != 3 {
		t.Errorf("expected 3 events in snapshot, got %d", snap.EventCount)
	}
	if snap.Profile == nil {
		t.Fatal("snapshot should carry a volume profile")
	}
	if snap.Profile.TotalVolume != 6 {
		t.Errorf("profile volume should match event volume, got %v", snap.Profile.TotalVolume)
	}
	if snap.Summary.TotalBuy != 5 || snap.Summary.TotalSell != 1 {
		t.Errorf("unexpected flow summary: %+v", snap.Summary)
	}
	if snap.LastPrice != 100.4 {
		t.Errorf("unexpected last price: %v", snap.LastPrice)
	}

	stored, ok := snapshots.Latest("binance", "BTCUSDT")
	if !ok {
		t.Fatal("snapshot store should hold the published snapshot")
	}
	if stored.GeneratedAt != snap.GeneratedAt {
		t.Error("stored snapshot differs from the published one")
	}
}

func TestAnalyzerCoalescedRecompute(t *testing.T) {
	cfg := testConfig()
	cfg.Profile.RecomputeEachBatch = false
	ch := trades.NewChannels(16, 16, 16)
	snapshots := store.NewSnapshotStore(16)
	a := NewAnalyzer(cfg, ch, snapshots)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ch.Batch <- batchOf("binance", "BTCUSDT",
		models.TradeEvent{Price: 100, Volume: 1, Timestamp: 1_700_000_000_000},
	)

	select {
	case snap := <-ch.Snapshots:
		if snap.EventCount != 1 {
			t.Errorf("unexpected snapshot: %+v", snap)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("coalesced recompute never produced a snapshot")
	}

	cancel()
	a.Stop()
}

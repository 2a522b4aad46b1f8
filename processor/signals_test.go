package processor

import (
	"testing"
	"time"

	"orderflow/config"
	"orderflow/models"
)

func signalConfig() config.SignalsConfig {
	return config.SignalsConfig{
		Enabled:            true,
		ImbalanceThreshold: 60,
		MinEvents:          0,
		Cooldown:           0,
	}
}

func snapshotWith(profile *models.VolumeProfile, summary models.FlowSummary, lastPrice float64, events int) models.ProfileSnapshot {
	return models.ProfileSnapshot{
		Exchange:   "binance",
		Symbol:     "BTCUSDT",
		Market:     models.MarketFutures,
		EventCount: events,
		LastPrice:  lastPrice,
		Profile:    profile,
		Summary:    summary,
	}
}

func TestDeltaImbalanceSignal(t *testing.T) {
	e := NewSignalEngine(signalConfig())

	curr := snapshotWith(nil, models.FlowSummary{TotalDelta: 50, ImbalancePercent: 80}, 100, 10)
	sigs := e.Evaluate(nil, curr)
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(sigs))
	}
	if sigs[0].Kind != models.SignalDeltaImbalance || sigs[0].Direction != models.DirectionBuy {
		t.Errorf("unexpected signal: %+v", sigs[0])
	}
	if sigs[0].Strength != 80 {
		t.Errorf("strength should carry the imbalance percent, got %v", sigs[0].Strength)
	}

	curr = snapshotWith(nil, models.FlowSummary{TotalDelta: -50, ImbalancePercent: 80}, 100, 10)
	sigs = e.Evaluate(nil, curr)
	if len(sigs) != 1 || sigs[0].Direction != models.DirectionSell {
		t.Errorf("expected sell direction on negative delta, got %+v", sigs)
	}
}

func TestDeltaImbalanceBelowThreshold(t *testing.T) {
	e := NewSignalEngine(signalConfig())
	curr := snapshotWith(nil, models.FlowSummary{TotalDelta: 50, ImbalancePercent: 55}, 100, 10)
	if sigs := e.Evaluate(nil, curr); len(sigs) != 0 {
		t.Errorf("expected no signal below threshold, got %+v", sigs)
	}
}

func TestSignalMinEventsGate(t *testing.T) {
	cfg := signalConfig()
	cfg.MinEvents = 100
	e := NewSignalEngine(cfg)

	curr := snapshotWith(nil, models.FlowSummary{TotalDelta: 50, ImbalancePercent: 90}, 100, 10)
	if sigs := e.Evaluate(nil, curr); len(sigs) != 0 {
		t.Errorf("expected no signal under the event floor, got %+v", sigs)
	}
}

func TestPOCShiftSignal(t *testing.T) {
	e := NewSignalEngine(signalConfig())

	prev := snapshotWith(&models.VolumeProfile{POC: 100, BucketWidth: 1, ValueAreaHigh: 101, ValueAreaLow: 99}, models.FlowSummary{}, 100, 10)
	curr := snapshotWith(&models.VolumeProfile{POC: 103, BucketWidth: 1, ValueAreaHigh: 104, ValueAreaLow: 102}, models.FlowSummary{}, 103, 10)

	sigs := e.Evaluate(&prev, curr)
	var shift *models.TradingSignal
	for i := range sigs {
		if sigs[i].Kind == models.SignalPOCShift {
			shift = &sigs[i]
		}
	}
	if shift == nil {
		t.Fatalf("expected poc_shift signal, got %+v", sigs)
	}
	if shift.Direction != models.DirectionBuy {
		t.Errorf("upward shift should be a buy signal, got %s", shift.Direction)
	}
	if shift.Strength != 3 {
		t.Errorf("strength should be the shift in buckets, got %v", shift.Strength)
	}
}

func TestPOCShiftBelowOneBucket(t *testing.T) {
	e := NewSignalEngine(signalConfig())

	prev := snapshotWith(&models.VolumeProfile{POC: 100, BucketWidth: 1, ValueAreaHigh: 101, ValueAreaLow: 99}, models.FlowSummary{}, 100, 10)
	curr := snapshotWith(&models.VolumeProfile{POC: 100.5, BucketWidth: 1, ValueAreaHigh: 101, ValueAreaLow: 99}, models.FlowSummary{}, 100.5, 10)

	for _, sig := range e.Evaluate(&prev, curr) {
		if sig.Kind == models.SignalPOCShift {
			t.Errorf("sub-bucket move should not fire: %+v", sig)
		}
	}
}

func TestValueAreaBreakoutSignal(t *testing.T) {
	prev := snapshotWith(&models.VolumeProfile{POC: 100, BucketWidth: 1, ValueAreaHigh: 110, ValueAreaLow: 90}, models.FlowSummary{}, 100, 10)

	cases := []struct {
		price     float64
		direction string
	}{
		{115, models.DirectionBuy},
		{85, models.DirectionSell},
		{100, ""},
	}
	for _, c := range cases {
		e := NewSignalEngine(signalConfig())
		curr := snapshotWith(&models.VolumeProfile{POC: 100, BucketWidth: 1, ValueAreaHigh: 110, ValueAreaLow: 90}, models.FlowSummary{}, c.price, 10)

		var breakout *models.TradingSignal
		for _, sig := range e.Evaluate(&prev, curr) {
			if sig.Kind == models.SignalVABreakout {
				s := sig
				breakout = &s
			}
		}
		if c.direction == "" {
			if breakout != nil {
				t.Errorf("price %v inside value area should not fire: %+v", c.price, breakout)
			}
			continue
		}
		if breakout == nil {
			t.Fatalf("price %v should fire a breakout", c.price)
		}
		if breakout.Direction != c.direction {
			t.Errorf("price %v: direction %s, want %s", c.price, breakout.Direction, c.direction)
		}
	}
}

func TestSignalCooldown(t *testing.T) {
	cfg := signalConfig()
	cfg.Cooldown = 5 * time.Minute
	e := NewSignalEngine(cfg)

	clock := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return clock }

	curr := snapshotWith(nil, models.FlowSummary{TotalDelta: 50, ImbalancePercent: 80}, 100, 10)
	if sigs := e.Evaluate(nil, curr); len(sigs) != 1 {
		t.Fatalf("first evaluation should fire, got %d signals", len(sigs))
	}

	clock = clock.Add(time.Minute)
	if sigs := e.Evaluate(nil, curr); len(sigs) != 0 {
		t.Errorf("signal inside cooldown should be suppressed, got %+v", sigs)
	}

	clock = clock.Add(5 * time.Minute)
	if sigs := e.Evaluate(nil, curr); len(sigs) != 1 {
		t.Errorf("signal after cooldown should fire again, got %d", len(sigs))
	}
}

func TestSignalsDisabled(t *testing.T) {
	cfg := signalConfig()
	cfg.Enabled = false
	e := NewSignalEngine(cfg)

	curr := snapshotWith(nil, models.FlowSummary{TotalDelta: 50, ImbalancePercent: 99}, 100, 10)
	if sigs := e.Evaluate(nil, curr); sigs != nil {
		t.Errorf("disabled engine should return nil, got %+v", sigs)
	}
}

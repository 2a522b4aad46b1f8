package models

import "time"

// PriceBucket is a single price level of a volume profile histogram. Price is
// the bucket center; the bucket covers [Price-width/2, Price+width/2).
type PriceBucket struct {
	Price       float64 `json:"price"`
	Volume      float64 `json:"volume"`
	IsPOC       bool    `json:"is_poc"`
	InValueArea bool    `json:"in_value_area"`
}

// VolumeProfile is the result of binning trade volume into price buckets,
// annotated with the Point of Control and Value Area boundaries.
type VolumeProfile struct {
	Buckets       []PriceBucket `json:"buckets"`
	POC           float64       `json:"poc"`
	ValueAreaHigh float64       `json:"value_area_high"`
	ValueAreaLow  float64       `json:"value_area_low"`
	TotalVolume   float64       `json:"total_volume"`
	BucketWidth   float64       `json:"bucket_width"`
}

// DeltaBucket is the signed buy/sell volume difference for one time window.
// Time is the window start in epoch millis. Invariant: Delta equals
// BuyVolume minus SellVolume.
type DeltaBucket struct {
	Time           int64   `json:"time"`
	Delta          float64 `json:"delta"`
	BuyVolume      float64 `json:"buy_volume"`
	SellVolume     float64 `json:"sell_volume"`
	TimestampLabel string  `json:"timestamp_label"`
}

// FlowSummary aggregates a delta series into session totals.
type FlowSummary struct {
	TotalDelta       float64 `json:"total_delta"`
	TotalBuy         float64 `json:"total_buy"`
	TotalSell        float64 `json:"total_sell"`
	ImbalancePercent float64 `json:"imbalance_percent"`
}

// ProfileSnapshot is the immutable analysis result for one exchange/symbol
// session, handed to the dashboard, archive and downstream consumers.
// Consumers read it; nothing mutates a published snapshot.
type ProfileSnapshot struct {
	Exchange    string         `json:"exchange"`
	Market      string         `json:"market"`
	Symbol      string         `json:"symbol"`
	GeneratedAt time.Time      `json:"generated_at"`
	EventCount  int            `json:"event_count"`
	WindowStart int64          `json:"window_start"`
	WindowEnd   int64          `json:"window_end"`
	LastPrice   float64        `json:"last_price"`
	Profile     *VolumeProfile `json:"profile"`
	Delta       []DeltaBucket  `json:"delta"`
	Summary     FlowSummary    `json:"summary"`
}

// Key returns the store key for the snapshot's exchange and symbol.
func (s ProfileSnapshot) Key() string {
	return s.Exchange + ":" + s.Symbol
}

const (
	SignalDeltaImbalance = "delta_imbalance"
	SignalPOCShift       = "poc_shift"
	SignalVABreakout     = "va_breakout"

	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// TradingSignal is an alert derived from successive snapshots.
type TradingSignal struct {
	ID          string    `json:"id"`
	Exchange    string    `json:"exchange"`
	Symbol      string    `json:"symbol"`
	Kind        string    `json:"kind"`
	Direction   string    `json:"direction"`
	Message     string    `json:"message"`
	Price       float64   `json:"price"`
	Strength    float64   `json:"strength"`
	TriggeredAt time.Time `json:"triggered_at"`
}

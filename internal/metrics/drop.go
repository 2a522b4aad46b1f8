package metrics

import "orderflow/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricTradeRaw records dropped raw trade payloads before normalisation.
	DropMetricTradeRaw DropMetric = "trade_messages_dropped"
	// DropMetricTradeBatch records dropped trade batches after normalisation.
	DropMetricTradeBatch DropMetric = "trade_batches_dropped"
	// DropMetricSnapshot records dropped profile snapshots on their way to writers.
	DropMetricSnapshot DropMetric = "snapshots_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped channel message. The
// metric value is always incremented by one so callers should invoke this helper for
// each dropped message. Optional metadata (exchange, market, symbol, stage) is added
// to the metric fields when provided which enables downstream aggregation per
// exchange and stream type.
func EmitDropMetric(log *logger.Log, metric DropMetric, exchange, market, symbol, stage string) {
	fields := logger.Fields{}
	if exchange != "" {
		fields["exchange"] = exchange
	}
	if market != "" {
		fields["market"] = market
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	IncrementDropped(stage)
	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}

package metrics

import (
	"context"
	"time"

	"orderflow/internal/channel"
	"orderflow/logger"
)

// StartChannelSizeMetrics emits occupancy metrics for the trade pipeline
// channel buffers. Metrics are logged every `interval` until the context is
// cancelled. When interval <=0, a one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if !IsFeatureEnabled(FeatureChannelSize) {
		return
	}
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if channels.Trades == nil {
					continue
				}
				EmitMetric(log, component, "trades_raw_buffer_length", len(channels.Trades.Raw), "gauge", logger.Fields{
					"buffer":   "trades_raw",
					"capacity": cap(channels.Trades.Raw),
				})
				EmitMetric(log, component, "trades_batch_buffer_length", len(channels.Trades.Batch), "gauge", logger.Fields{
					"buffer":   "trades_batch",
					"capacity": cap(channels.Trades.Batch),
				})
				EmitMetric(log, component, "trades_snapshot_buffer_length", len(channels.Trades.Snapshots), "gauge", logger.Fields{
					"buffer":   "trades_snapshot",
					"capacity": cap(channels.Trades.Snapshots),
				})
			}
		}
	}()
}

package metrics

import "orderflow/logger"

// NormalizerStats holds metrics for the trade normalizer.
type NormalizerStats struct {
	MessagesProcessed int64
	BatchesProduced   int64
	EventsProcessed   int64
	ErrorsCount       int64
	ActiveBuffers     int
	RawChannelLen     int
	RawChannelCap     int
	BatchChannelLen   int
	BatchChannelCap   int
}

// ReportNormalizer emits metrics for the normalizer component.
func ReportNormalizer(log *logger.Log, stats NormalizerStats) {
	l := log.WithComponent("normalizer")

	errorRate := float64(0)
	if stats.MessagesProcessed+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.MessagesProcessed+stats.ErrorsCount)
	}

	avgEventsPerMessage := float64(0)
	if stats.MessagesProcessed > 0 {
		avgEventsPerMessage = float64(stats.EventsProcessed) / float64(stats.MessagesProcessed)
	}

	l.LogMetric("normalizer", "messages_processed", stats.MessagesProcessed, "counter", logger.Fields{})
	l.LogMetric("normalizer", "batches_produced", stats.BatchesProduced, "counter", logger.Fields{})
	l.LogMetric("normalizer", "events_processed", stats.EventsProcessed, "counter", logger.Fields{})
	l.LogMetric("normalizer", "errors_count", stats.ErrorsCount, "counter", logger.Fields{})
	l.LogMetric("normalizer", "error_rate", errorRate, "gauge", logger.Fields{})
	l.LogMetric("normalizer", "active_buffers", stats.ActiveBuffers, "gauge", logger.Fields{})
	l.LogMetric("normalizer", "avg_events_per_message", avgEventsPerMessage, "gauge", logger.Fields{})

	l.WithFields(logger.Fields{
		"messages_processed":     stats.MessagesProcessed,
		"batches_produced":       stats.BatchesProduced,
		"events_processed":       stats.EventsProcessed,
		"errors_count":           stats.ErrorsCount,
		"error_rate":             errorRate,
		"active_buffers":         stats.ActiveBuffers,
		"avg_events_per_message": avgEventsPerMessage,
		"raw_channel_len":        stats.RawChannelLen,
		"raw_channel_cap":        stats.RawChannelCap,
		"batch_channel_len":      stats.BatchChannelLen,
		"batch_channel_cap":      stats.BatchChannelCap,
	}).Info("normalizer metrics")
}

// AnalyzerStats holds metrics for the profile analyzer.
type AnalyzerStats struct {
	BatchesConsumed    int64
	SnapshotsComputed  int64
	SignalsTriggered   int64
	ErrorsCount        int64
	ActiveSessions     int
	BatchChannelLen    int
	BatchChannelCap    int
	SnapshotChannelLen int
	SnapshotChannelCap int
}

// ReportAnalyzer emits metrics for the analyzer component.
func ReportAnalyzer(log *logger.Log, stats AnalyzerStats) {
	l := log.WithComponent("analyzer")

	errorRate := float64(0)
	if stats.BatchesConsumed+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.BatchesConsumed+stats.ErrorsCount)
	}

	l.LogMetric("analyzer", "batches_consumed", stats.BatchesConsumed, "counter", logger.Fields{})
	l.LogMetric("analyzer", "snapshots_computed", stats.SnapshotsComputed, "counter", logger.Fields{})
	l.LogMetric("analyzer", "signals_triggered", stats.SignalsTriggered, "counter", logger.Fields{})
	l.LogMetric("analyzer", "errors_count", stats.ErrorsCount, "counter", logger.Fields{})
	l.LogMetric("analyzer", "error_rate", errorRate, "gauge", logger.Fields{})
	l.LogMetric("analyzer", "active_sessions", stats.ActiveSessions, "gauge", logger.Fields{})

	l.WithFields(logger.Fields{
		"batches_consumed":     stats.BatchesConsumed,
		"snapshots_computed":   stats.SnapshotsComputed,
		"signals_triggered":    stats.SignalsTriggered,
		"errors_count":         stats.ErrorsCount,
		"error_rate":           errorRate,
		"active_sessions":      stats.ActiveSessions,
		"batch_channel_len":    stats.BatchChannelLen,
		"batch_channel_cap":    stats.BatchChannelCap,
		"snapshot_channel_len": stats.SnapshotChannelLen,
		"snapshot_channel_cap": stats.SnapshotChannelCap,
	}).Info("analyzer metrics")
}

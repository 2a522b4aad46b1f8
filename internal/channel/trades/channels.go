package trades

import (
	"context"
	"sync"

	"orderflow/logger"
	"orderflow/models"
)

type ChannelStats struct {
	RawSent         int64
	BatchSent       int64
	SnapshotSent    int64
	RawDropped      int64
	BatchDropped    int64
	SnapshotDropped int64
}

// Channels carries trade data through the pipeline stages. Raw holds
// undecoded exchange payloads, Batch holds normalized trade batches and
// Snapshots holds computed profile snapshots on their way to the writers.
type Channels struct {
	Raw       chan models.RawTradeMessage
	Batch     chan models.TradeBatch
	Snapshots chan models.ProfileSnapshot

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(rawBufferSize, batchBufferSize, snapshotBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:       make(chan models.RawTradeMessage, rawBufferSize),
		Batch:     make(chan models.TradeBatch, batchBufferSize),
		Snapshots: make(chan models.ProfileSnapshot, snapshotBufferSize),
		log:       log,
	}

	log.WithComponent("trade_channels").WithFields(logger.Fields{
		"raw_buffer_size":      rawBufferSize,
		"batch_buffer_size":    batchBufferSize,
		"snapshot_buffer_size": snapshotBufferSize,
	}).Info("trade channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Raw)
	close(c.Batch)
	close(c.Snapshots)
	c.log.WithComponent("trade_channels").Info("trade channels closed")
}

func (c *Channels) IncrementRawSent() {
	c.statsMutex.Lock()
	c.stats.RawSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementBatchSent() {
	c.statsMutex.Lock()
	c.stats.BatchSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementSnapshotSent() {
	c.statsMutex.Lock()
	c.stats.SnapshotSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRawDropped() {
	c.statsMutex.Lock()
	c.stats.RawDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementBatchDropped() {
	c.statsMutex.Lock()
	c.stats.BatchDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementSnapshotDropped() {
	c.statsMutex.Lock()
	c.stats.SnapshotDropped++
	c.statsMutex.Unlock()
}

// SendRaw attempts a non-blocking send so a stalled normalizer can never
// back up the exchange readers. Dropped messages are counted.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawTradeMessage) bool {
	select {
	case c.Raw <- msg:
		c.IncrementRawSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementRawDropped()
		return false
	}
}

func (c *Channels) SendBatch(ctx context.Context, batch models.TradeBatch) bool {
	select {
	case c.Batch <- batch:
		c.IncrementBatchSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementBatchDropped()
		return false
	}
}

func (c *Channels) SendSnapshot(ctx context.Context, snap models.ProfileSnapshot) bool {
	select {
	case c.Snapshots <- snap:
		c.IncrementSnapshotSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementSnapshotDropped()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// Utilization reports fill levels for each channel as current/capacity pairs.
func (c *Channels) Utilization() map[string][2]int {
	return map[string][2]int{
		"raw":      {len(c.Raw), cap(c.Raw)},
		"batch":    {len(c.Batch), cap(c.Batch)},
		"snapshot": {len(c.Snapshots), cap(c.Snapshots)},
	}
}

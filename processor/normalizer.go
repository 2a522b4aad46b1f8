package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"orderflow/config"
	trades "orderflow/internal/channel/trades"
	"orderflow/internal/metrics"
	"orderflow/internal/symbols"
	"orderflow/logger"
	"orderflow/models"
)

// Normalizer decodes raw exchange payloads into canonical trade events and
// batches them per exchange/symbol before forwarding to the analyzer.
type Normalizer struct {
	config   *config.Config
	channels *trades.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// Batching
	batches   map[string]*models.TradeBatch
	lastFlush map[string]time.Time

	// Metrics
	messagesProcessed int64
	batchesProduced   int64
	eventsProcessed   int64
	errorsCount       int64
}

// NewNormalizer creates a new normalizer instance.
func NewNormalizer(cfg *config.Config, ch *trades.Channels) *Normalizer {
	return &Normalizer{
		config:    cfg,
		channels:  ch,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		batches:   make(map[string]*models.TradeBatch),
		lastFlush: make(map[string]time.Time),
	}
}

// Start begins processing messages from the raw trade channel.
func (n *Normalizer) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("normalizer already running")
	}
	n.running = true
	n.ctx = ctx
	n.mu.Unlock()

	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting normalizer")

	workers := n.config.Processor.MaxWorkers
	if workers < 1 {
		workers = 1
	}

	log.WithFields(logger.Fields{"workers": workers}).Info("starting normalizer workers")

	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}

	n.wg.Add(1)
	go n.batchFlusher()

	n.wg.Add(1)
	go n.metricsReporter(ctx)

	log.Info("normalizer started successfully")
	return nil
}

// Stop signals all workers and flushes remaining batches.
func (n *Normalizer) Stop() {
	n.mu.Lock()
	n.running = false
	n.mu.Unlock()

	n.log.WithComponent("normalizer").Info("stopping normalizer")
	n.flushAllBatches()
	n.wg.Wait()
	n.log.WithComponent("normalizer").Info("normalizer stopped")
}

func (n *Normalizer) worker(workerID int) {
	defer n.wg.Done()

	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "normalizer",
	})

	log.Info("starting normalizer worker")

	for {
		select {
		case <-n.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case rawMsg, ok := <-n.channels.Raw:
			if !ok {
				log.Info("raw channel closed, worker stopping")
				return
			}
			n.handleMessage(rawMsg)
		}
	}
}

func (n *Normalizer) handleMessage(raw models.RawTradeMessage) {
	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{
		"exchange": raw.Exchange,
		"symbol":   raw.Symbol,
		"source":   raw.Source,
	})

	events, err := n.decodeTrades(raw)
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		log.WithError(err).Warn("failed to decode trade message")
		return
	}
	if len(events) == 0 {
		return
	}

	atomic.AddInt64(&n.messagesProcessed, 1)
	atomic.AddInt64(&n.eventsProcessed, int64(len(events)))

	n.addToBatch(raw, events)
}

// decodeTrades turns one raw payload into canonical trade events. Price and
// volume parse failures skip the entry and count as errors; zero price or
// volume entries are dropped silently.
func (n *Normalizer) decodeTrades(raw models.RawTradeMessage) ([]models.TradeEvent, error) {
	switch raw.Exchange {
	case models.ExchangeBinance:
		if raw.Source == models.SourceStream {
			var evt models.BinanceAggTradeEvent
			if err := json.Unmarshal(raw.Data, &evt); err != nil {
				return nil, err
			}
			event, ok := n.binanceEvent(raw, evt.Price, evt.Quantity, evt.IsBuyerMaker, evt.TradeTime)
			if !ok {
				return nil, nil
			}
			return []models.TradeEvent{event}, nil
		}

		var list []models.BinanceAggTrade
		if err := json.Unmarshal(raw.Data, &list); err != nil {
			return nil, err
		}
		events := make([]models.TradeEvent, 0, len(list))
		for _, t := range list {
			if event, ok := n.binanceEvent(raw, t.Price, t.Quantity, t.IsBuyerMaker, t.Timestamp); ok {
				events = append(events, event)
			}
		}
		return events, nil

	case models.ExchangeBybit:
		if raw.Source == models.SourceStream {
			var push models.BybitTradeResp
			if err := json.Unmarshal(raw.Data, &push); err != nil {
				return nil, err
			}
			events := make([]models.TradeEvent, 0, len(push.Data))
			for _, tick := range push.Data {
				if event, ok := n.bybitEvent(raw, tick.Price, tick.Volume, tick.Side, tick.TradeTime); ok {
					events = append(events, event)
				}
			}
			return events, nil
		}

		var envelope models.BybitRecentTradeResp
		if err := json.Unmarshal(raw.Data, &envelope); err != nil {
			return nil, err
		}
		events := make([]models.TradeEvent, 0, len(envelope.Result.List))
		for _, t := range envelope.Result.List {
			ts, err := strconv.ParseInt(t.Time, 10, 64)
			if err != nil {
				atomic.AddInt64(&n.errorsCount, 1)
				continue
			}
			if event, ok := n.bybitEvent(raw, t.Price, t.Size, t.Side, ts); ok {
				events = append(events, event)
			}
		}
		return events, nil
	}

	return nil, fmt.Errorf("unsupported exchange: %s", raw.Exchange)
}

func (n *Normalizer) binanceEvent(raw models.RawTradeMessage, price, qty string, isBuyerMaker bool, ts int64) (models.TradeEvent, bool) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.log.WithComponent("normalizer").WithError(err).WithFields(logger.Fields{
			"exchange":  raw.Exchange,
			"symbol":    raw.Symbol,
			"raw_price": price,
		}).Warn("failed to parse trade price")
		return models.TradeEvent{}, false
	}

	v, err := strconv.ParseFloat(qty, 64)
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.log.WithComponent("normalizer").WithError(err).WithFields(logger.Fields{
			"exchange":     raw.Exchange,
			"symbol":       raw.Symbol,
			"raw_quantity": qty,
		}).Warn("failed to parse trade quantity")
		return models.TradeEvent{}, false
	}

	if p == 0 || v == 0 {
		return models.TradeEvent{}, false
	}

	return models.TradeEvent{
		Price:        p,
		Volume:       v,
		IsBuyerMaker: isBuyerMaker,
		Timestamp:    ts,
	}, true
}

// bybitEvent maps one Bybit trade onto the Binance maker convention: Side is
// the taker side, so a "Sell" taker means the buyer was the resting order.
func (n *Normalizer) bybitEvent(raw models.RawTradeMessage, price, size, side string, ts int64) (models.TradeEvent, bool) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.log.WithComponent("normalizer").WithError(err).WithFields(logger.Fields{
			"exchange":  raw.Exchange,
			"symbol":    raw.Symbol,
			"raw_price": price,
		}).Warn("failed to parse trade price")
		return models.TradeEvent{}, false
	}

	v, err := strconv.ParseFloat(size, 64)
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.log.WithComponent("normalizer").WithError(err).WithFields(logger.Fields{
			"exchange": raw.Exchange,
			"symbol":   raw.Symbol,
			"raw_size": size,
		}).Warn("failed to parse trade size")
		return models.TradeEvent{}, false
	}

	if p == 0 || v == 0 {
		return models.TradeEvent{}, false
	}

	return models.TradeEvent{
		Price:        p,
		Volume:       v,
		IsBuyerMaker: side == "Sell",
		Timestamp:    ts,
	}, true
}

func (n *Normalizer) addToBatch(raw models.RawTradeMessage, events []models.TradeEvent) {
	normalSymbol := symbols.Canonical(raw.Exchange, raw.Symbol)
	n.mu.Lock()
	defer n.mu.Unlock()

	batchKey := fmt.Sprintf("%s_%s_%s", raw.Exchange, raw.Market, normalSymbol)

	batch, exists := n.batches[batchKey]
	if !exists {
		batch = &models.TradeBatch{
			BatchID:     uuid.New().String(),
			Exchange:    raw.Exchange,
			Symbol:      normalSymbol,
			Market:      raw.Market,
			Events:      make([]models.TradeEvent, 0, n.config.Processor.BatchSize),
			RecordCount: 0,
			Timestamp:   raw.Timestamp,
			ProcessedAt: time.Now(),
		}
		n.batches[batchKey] = batch
		n.lastFlush[batchKey] = time.Now()
	}

	batch.Events = append(batch.Events, events...)
	batch.RecordCount = len(batch.Events)

	if raw.Timestamp.After(batch.Timestamp) {
		batch.Timestamp = raw.Timestamp
	}

	if batch.RecordCount >= n.config.Processor.BatchSize {
		n.flushBatch(batchKey)
	}
}

func (n *Normalizer) batchFlusher() {
	defer n.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.flushTimedOutBatches()
		}
	}
}

func (n *Normalizer) flushTimedOutBatches() {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	for batchKey, lastFlush := range n.lastFlush {
		if now.Sub(lastFlush) >= n.config.Processor.BatchTimeout {
			n.flushBatch(batchKey)
		}
	}
}

// flushBatch sends the batch for batchKey downstream. Callers must hold n.mu.
func (n *Normalizer) flushBatch(batchKey string) {
	batch, exists := n.batches[batchKey]
	if !exists || batch.RecordCount == 0 {
		return
	}

	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"batch_key":    batchKey,
		"exchange":     batch.Exchange,
		"symbol":       batch.Symbol,
		"record_count": batch.RecordCount,
		"operation":    "flush_batch",
	})

	if n.channels.SendBatch(n.ctx, *batch) {
		atomic.AddInt64(&n.batchesProduced, 1)
		metrics.IncrementBatchesNormalized(batch.Exchange, batch.Symbol)
		delete(n.batches, batchKey)
		delete(n.lastFlush, batchKey)

		logger.LogDataFlowEntry(log, "raw_channel", "batch_channel", batch.RecordCount, "trade_events")
	} else if n.ctx.Err() != nil {
		return
	} else {
		metrics.EmitDropMetric(n.log, metrics.DropMetricTradeBatch, batch.Exchange, batch.Market, batch.Symbol, "normalizer")
		log.Warn("batch channel is full, batch not sent")
	}
}

func (n *Normalizer) flushAllBatches() {
	n.mu.Lock()
	defer n.mu.Unlock()

	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"operation": "flush_all_batches"})
	log.Info("flushing all remaining batches")

	for batchKey := range n.batches {
		n.flushBatch(batchKey)
	}
}

func (n *Normalizer) metricsReporter(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.reportMetrics()
		}
	}
}

func (n *Normalizer) reportMetrics() {
	n.mu.RLock()
	activeBatches := len(n.batches)
	n.mu.RUnlock()

	metrics.ReportNormalizer(n.log, metrics.NormalizerStats{
		MessagesProcessed: atomic.LoadInt64(&n.messagesProcessed),
		BatchesProduced:   atomic.LoadInt64(&n.batchesProduced),
		EventsProcessed:   atomic.LoadInt64(&n.eventsProcessed),
		ErrorsCount:       atomic.LoadInt64(&n.errorsCount),
		ActiveBuffers:     activeBatches,
		RawChannelLen:     len(n.channels.Raw),
		RawChannelCap:     cap(n.channels.Raw),
		BatchChannelLen:   len(n.channels.Batch),
		BatchChannelCap:   cap(n.channels.Batch),
	})
}

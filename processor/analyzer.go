package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"orderflow/config"
	trades "orderflow/internal/channel/trades"
	"orderflow/internal/metrics"
	"orderflow/internal/store"
	"orderflow/logger"
	"orderflow/models"
	"orderflow/profile"
)

type dirtyKey struct {
	exchange string
	market   string
	symbol   string
}

// Analyzer consumes normalized trade batches, maintains per-symbol sessions
// and recomputes the volume profile, delta series and flow summary into
// snapshots. Snapshots go to the snapshot store for the dashboard and onto
// the snapshot channel for the writers. A single consumer keeps snapshots
// for one symbol in order.
type Analyzer struct {
	config    *config.Config
	channels  *trades.Channels
	sessions  *SessionStore
	engine    *SignalEngine
	snapshots *store.SnapshotStore
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log

	// Coalesced recompute
	dirtyMu sync.Mutex
	dirty   map[string]dirtyKey

	// Metrics
	batchesConsumed   int64
	snapshotsComputed int64
	signalsTriggered  int64
	errorsCount       int64
}

// NewAnalyzer creates a new analyzer instance.
func NewAnalyzer(cfg *config.Config, ch *trades.Channels, snapshots *store.SnapshotStore) *Analyzer {
	return &Analyzer{
		config:    cfg,
		channels:  ch,
		sessions:  NewSessionStore(cfg.Profile.WindowDuration, cfg.Profile.MaxEvents),
		engine:    NewSignalEngine(cfg.Signals),
		snapshots: snapshots,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		dirty:     make(map[string]dirtyKey),
	}
}

// Start begins consuming from the batch channel.
func (a *Analyzer) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("analyzer already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	log := a.log.WithComponent("analyzer").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"window_duration":      a.config.Profile.WindowDuration.String(),
		"max_events":           a.config.Profile.MaxEvents,
		"recompute_each_batch": a.config.Profile.RecomputeEachBatch,
		"signals_enabled":      a.config.Signals.Enabled,
	}).Info("starting analyzer")

	a.wg.Add(1)
	go a.worker()

	if !a.config.Profile.RecomputeEachBatch {
		a.wg.Add(1)
		go a.recomputeTicker()
	}

	a.wg.Add(1)
	go a.metricsReporter(ctx)

	log.Info("analyzer started successfully")
	return nil
}

// Stop signals the worker and recomputes any sessions still marked dirty.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.log.WithComponent("analyzer").Info("stopping analyzer")
	a.recomputeDirty()
	a.wg.Wait()
	a.log.WithComponent("analyzer").Info("analyzer stopped")
}

func (a *Analyzer) worker() {
	defer a.wg.Done()

	log := a.log.WithComponent("analyzer").WithFields(logger.Fields{"worker": "analyzer"})
	log.Info("starting analyzer worker")

	for {
		select {
		case <-a.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case batch, ok := <-a.channels.Batch:
			if !ok {
				log.Info("batch channel closed, worker stopping")
				return
			}
			a.processBatch(batch)
		}
	}
}

func (a *Analyzer) processBatch(batch models.TradeBatch) {
	atomic.AddInt64(&a.batchesConsumed, 1)

	view := a.sessions.Append(batch)
	if len(view.Events) == 0 {
		return
	}

	if a.config.Profile.RecomputeEachBatch {
		a.recompute(view)
		return
	}

	a.dirtyMu.Lock()
	a.dirty[sessionKey(view.Exchange, view.Market, view.Symbol)] = dirtyKey{
		exchange: view.Exchange,
		market:   view.Market,
		symbol:   view.Symbol,
	}
	a.dirtyMu.Unlock()
}

// recomputeTicker coalesces recomputation for sessions that changed since the
// last tick. Active on configurations that switch off per-batch recompute.
func (a *Analyzer) recomputeTicker() {
	defer a.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.recomputeDirty()
		}
	}
}

func (a *Analyzer) recomputeDirty() {
	a.dirtyMu.Lock()
	pending := a.dirty
	a.dirty = make(map[string]dirtyKey)
	a.dirtyMu.Unlock()

	for _, key := range pending {
		if view, ok := a.sessions.View(key.exchange, key.market, key.symbol); ok && len(view.Events) > 0 {
			a.recompute(view)
		}
	}
}

// recompute rebuilds the profile, delta series and summary for one session
// view, publishes the snapshot and evaluates signals against the previous
// snapshot of the same symbol.
func (a *Analyzer) recompute(view SessionView) {
	log := a.log.WithComponent("analyzer").WithFields(logger.Fields{
		"exchange": view.Exchange,
		"symbol":   view.Symbol,
	})

	start := time.Now()

	opts := profile.Options{
		ValueAreaFraction: a.config.Profile.ValueAreaFraction,
		TieBreakBelow:     a.config.Profile.TieBreakBelow,
	}
	width := a.config.Profile.BucketWidthFor(view.Symbol)

	prof, err := profile.ComputeVolumeProfile(view.Events, width, opts)
	if err != nil {
		atomic.AddInt64(&a.errorsCount, 1)
		log.WithError(err).Warn("failed to compute volume profile")
		return
	}

	delta, err := profile.ComputeDeltaVolume(view.Events, a.config.Profile.DeltaBucketMs)
	if err != nil {
		atomic.AddInt64(&a.errorsCount, 1)
		log.WithError(err).Warn("failed to compute delta volume")
		return
	}

	snap := models.ProfileSnapshot{
		Exchange:    view.Exchange,
		Market:      view.Market,
		Symbol:      view.Symbol,
		GeneratedAt: time.Now().UTC(),
		EventCount:  len(view.Events),
		WindowStart: view.WindowStart,
		WindowEnd:   view.WindowEnd,
		LastPrice:   view.LastPrice,
		Profile:     prof,
		Delta:       delta,
		Summary:     profile.SummarizeDelta(delta),
	}

	metrics.ObserveRecomputeDuration(view.Exchange, view.Symbol, time.Since(start).Seconds())

	prev, hasPrev := a.snapshots.Latest(view.Exchange, view.Symbol)
	a.snapshots.Publish(snap)
	atomic.AddInt64(&a.snapshotsComputed, 1)
	metrics.IncrementSnapshotsComputed(view.Exchange, view.Symbol)

	if a.channels.SendSnapshot(a.ctx, snap) {
		logger.IncrementSnapshotPublish()
		if a.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			logger.LogDataFlowEntry(log, "batch_channel", "snapshot_channel", snap.EventCount, "profile_snapshot")
		}
	} else if a.ctx.Err() == nil {
		metrics.EmitDropMetric(a.log, metrics.DropMetricSnapshot, view.Exchange, view.Market, view.Symbol, "analyzer")
		log.Warn("snapshot channel is full, snapshot not sent")
	}

	var prevSnap *models.ProfileSnapshot
	if hasPrev {
		prevSnap = &prev
	}
	signals := a.engine.Evaluate(prevSnap, snap)
	if len(signals) == 0 {
		return
	}

	a.snapshots.AddSignals(signals)
	atomic.AddInt64(&a.signalsTriggered, int64(len(signals)))
	for _, sig := range signals {
		metrics.IncrementSignals(sig.Kind, sig.Exchange, sig.Symbol)
		log.WithFields(logger.Fields{
			"kind":      sig.Kind,
			"direction": sig.Direction,
			"price":     sig.Price,
			"strength":  sig.Strength,
		}).Info(sig.Message)
	}
}

func (a *Analyzer) metricsReporter(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.reportMetrics()
		}
	}
}

func (a *Analyzer) reportMetrics() {
	metrics.ReportAnalyzer(a.log, metrics.AnalyzerStats{
		BatchesConsumed:    atomic.LoadInt64(&a.batchesConsumed),
		SnapshotsComputed:  atomic.LoadInt64(&a.snapshotsComputed),
		SignalsTriggered:   atomic.LoadInt64(&a.signalsTriggered),
		ErrorsCount:        atomic.LoadInt64(&a.errorsCount),
		ActiveSessions:     a.sessions.Count(),
		BatchChannelLen:    len(a.channels.Batch),
		BatchChannelCap:    cap(a.channels.Batch),
		SnapshotChannelLen: len(a.channels.Snapshots),
		SnapshotChannelCap: cap(a.channels.Snapshots),
	})
}

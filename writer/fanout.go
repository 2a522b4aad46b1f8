package writer

import (
	"context"
	"fmt"
	"sync"

	trades "orderflow/internal/channel/trades"
	"orderflow/internal/metrics"
	"orderflow/logger"
	"orderflow/models"
)

type fanoutSub struct {
	name string
	ch   chan models.ProfileSnapshot
}

// Fanout duplicates snapshots from the pipeline channel to every subscribed
// sink. Sends are non-blocking so one stalled sink cannot hold back the
// others; overflow is dropped and counted against the sink's stage.
type Fanout struct {
	channels *trades.Channels
	subs     []fanoutSub
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewFanout(ch *trades.Channels) *Fanout {
	return &Fanout{
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Subscribe registers a named sink. All subscriptions must happen before
// Start.
func (f *Fanout) Subscribe(name string, buffer int) <-chan models.ProfileSnapshot {
	out := make(chan models.ProfileSnapshot, buffer)

	f.mu.Lock()
	f.subs = append(f.subs, fanoutSub{name: name, ch: out})
	f.mu.Unlock()
	return out
}

func (f *Fanout) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("snapshot fanout already running")
	}
	f.running = true
	f.ctx = ctx
	subs := len(f.subs)
	f.mu.Unlock()

	f.log.WithComponent("snapshot_fanout").WithFields(logger.Fields{
		"subscribers": subs,
	}).Info("starting snapshot fanout")

	f.wg.Add(1)
	go f.worker()
	return nil
}

// Stop waits for the worker and closes subscriber channels so sinks can
// drain and exit.
func (f *Fanout) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.wg.Wait()
	for _, sub := range f.subs {
		close(sub.ch)
	}
	f.log.WithComponent("snapshot_fanout").Info("snapshot fanout stopped")
}

func (f *Fanout) worker() {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return
		case snap, ok := <-f.channels.Snapshots:
			if !ok {
				return
			}
			f.dispatch(snap)
		}
	}
}

func (f *Fanout) dispatch(snap models.ProfileSnapshot) {
	for _, sub := range f.subs {
		select {
		case sub.ch <- snap:
		default:
			metrics.EmitDropMetric(f.log, metrics.DropMetricSnapshot, snap.Exchange, snap.Market, snap.Symbol, sub.name)
			f.log.WithComponent("snapshot_fanout").WithFields(logger.Fields{
				"sink":   sub.name,
				"symbol": snap.Symbol,
			}).Warn("sink channel is full, snapshot dropped")
		}
	}
}

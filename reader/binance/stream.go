package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"orderflow/config"
	trades "orderflow/internal/channel/trades"
	"orderflow/internal/metrics"
	ratemetrics "orderflow/internal/metrics/rate"
	"orderflow/logger"
	"orderflow/models"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/sirupsen/logrus"
)

// Stream subscribes to futures aggTrade websocket streams from Binance and
// forwards raw events to the trade channels.
type Stream struct {
	config   *config.Config
	channels *trades.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	tracker  *ratemetrics.WSWeightTracker
}

// BinanceTradeStream creates a new aggTrade stream reader.
func BinanceTradeStream(cfg *config.Config, ch *trades.Channels) *Stream {
	return &Stream{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		tracker:  ratemetrics.NewWSWeightTracker(),
	}
}

// Start subscribes to aggTrade streams for configured symbols.
func (r *Stream) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("trade stream already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Source.Binance.Future.Trades.Stream
	log := r.log.WithComponent("binance_trades_stream").WithFields(logger.Fields{"operation": "start"})

	if !cfg.Enabled {
		log.Warn("binance futures trade stream is disabled")
		return fmt.Errorf("binance futures trade stream is disabled")
	}

	log.WithFields(logger.Fields{"symbols": cfg.Symbols}).Info("starting trade stream")

	for _, symbol := range cfg.Symbols {
		r.wg.Add(1)
		go r.streamSymbol(symbol)
	}

	r.wg.Add(1)
	go r.reportWeight()

	log.Info("binance trade stream started successfully")
	return nil
}

// Stop terminates all websocket subscriptions.
func (r *Stream) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_trades_stream").Info("stopping trade stream")
	r.wg.Wait()
	r.log.WithComponent("binance_trades_stream").Info("trade stream stopped")
}

func (r *Stream) streamSymbol(symbol string) {
	defer r.wg.Done()

	log := r.log.WithComponent("binance_trades_stream").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "trade_stream",
	})

	handler := func(event *futures.WsAggTradeEvent) {
		payload, err := json.Marshal(event)
		if err != nil {
			log.WithError(err).Warn("failed to marshal aggTrade event")
			return
		}

		msg := models.RawTradeMessage{
			Exchange:  models.ExchangeBinance,
			Symbol:    event.Symbol,
			Market:    models.MarketFutures,
			Source:    models.SourceStream,
			Data:      payload,
			Timestamp: time.Now(),
		}

		if r.channels.SendRaw(r.ctx, msg) {
			logger.IncrementStreamRead(len(payload))
			metrics.IncrementTradesIngested(models.ExchangeBinance, models.SourceStream, 1)
			if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
				logger.LogDataFlowEntry(log, "binance_ws", "raw_channel", 1, "agg_trades")
			}
		} else if r.ctx.Err() == nil {
			log.Warn("raw channel full, dropping message")
		}
	}

	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}

	for {
		r.tracker.RegisterConnectionAttempt()
		doneC, stopC, err := futures.WsAggTradeServe(symbol, handler, errHandler)
		if err != nil {
			log.WithError(err).Error("failed to subscribe to aggTrade stream")
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		r.tracker.RegisterOutgoing(1)

		select {
		case <-r.ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
			log.Warn("aggTrade stream ended, reconnecting")
		}
	}
}

func (r *Stream) reportWeight() {
	defer r.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			ratemetrics.ReportWSWeight(r.log, r.tracker, "")
		}
	}
}

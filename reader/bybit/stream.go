package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"orderflow/config"
	trades "orderflow/internal/channel/trades"
	"orderflow/internal/metrics"
	ratemetrics "orderflow/internal/metrics/rate"
	"orderflow/logger"
	"orderflow/models"

	bybit "github.com/bybit-exchange/bybit.go.api"
)

// Bybit_TradeStream_Reader streams public trades from Bybit over a single
// websocket connection subscribed to every configured symbol.
type Bybit_TradeStream_Reader struct {
	config   *config.Config
	channels *trades.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
	tracker  *ratemetrics.BybitWSWeightTracker
}

// Bybit_TradeStream_NewReader creates a new trade stream reader for Bybit futures.
func Bybit_TradeStream_NewReader(cfg *config.Config, ch *trades.Channels, symbols []string) *Bybit_TradeStream_Reader {
	return &Bybit_TradeStream_Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  symbols,
		tracker:  ratemetrics.NewBybitWSWeightTracker(),
	}
}

// Bybit_TradeStream_Start subscribes to publicTrade streams for configured symbols.
func (r *Bybit_TradeStream_Reader) Bybit_TradeStream_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("Bybit_TradeStream_Reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Source.Bybit.Future.Trades.Stream
	log := r.log.WithComponent("bybit_trades_stream").WithFields(logger.Fields{"operation": "Bybit_TradeStream_Start"})

	if !cfg.Enabled {
		log.Warn("bybit futures trade stream is disabled")
		return fmt.Errorf("bybit futures trade stream is disabled")
	}

	log.WithFields(logger.Fields{"symbols": r.symbols}).Info("starting bybit trade stream")

	r.wg.Add(1)
	go r.stream(r.symbols, cfg.URL)

	r.wg.Add(1)
	go r.reportWeight()

	log.Info("bybit trade stream started successfully")
	return nil
}

// Bybit_TradeStream_Stop terminates all websocket subscriptions.
func (r *Bybit_TradeStream_Reader) Bybit_TradeStream_Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("bybit_trades_stream").Info("stopping bybit trade stream")
	r.wg.Wait()
	r.log.WithComponent("bybit_trades_stream").Info("bybit trade stream stopped")
}

func (r *Bybit_TradeStream_Reader) stream(symbols []string, wsURL string) {
	defer r.wg.Done()

	log := r.log.WithComponent("bybit_trades_stream").WithFields(logger.Fields{
		"symbols": strings.Join(symbols, ","),
		"worker":  "trade_stream",
	})

	args := make([]string, len(symbols))
	for i, s := range symbols {
		args[i] = fmt.Sprintf("publicTrade.%s", s)
	}

	handler := func(message string) error {
		var push models.BybitTradeResp
		if err := json.Unmarshal([]byte(message), &push); err != nil {
			return nil
		}
		if !strings.HasPrefix(push.Topic, "publicTrade.") {
			return nil
		}
		sym := strings.TrimPrefix(push.Topic, "publicTrade.")

		msg := models.RawTradeMessage{
			Exchange:  models.ExchangeBybit,
			Symbol:    sym,
			Market:    models.MarketFutures,
			Source:    models.SourceStream,
			Data:      []byte(message),
			Timestamp: time.Now(),
		}

		if r.channels.SendRaw(r.ctx, msg) {
			logger.IncrementStreamRead(len(message))
			metrics.IncrementTradesIngested(models.ExchangeBybit, models.SourceStream, len(push.Data))
		} else if r.ctx.Err() != nil {
			return r.ctx.Err()
		} else {
			log.Warn("raw channel full, dropping message")
		}
		return nil
	}

	for {
		r.tracker.RegisterConnectionAttempt()
		ws := bybit.NewBybitPublicWebSocket(wsURL, handler)
		ws.Connect().SendSubscription(args)
		r.tracker.RegisterOutgoing(1)

		select {
		case <-r.ctx.Done():
			ws.Disconnect()
			return
		}
	}
}

func (r *Bybit_TradeStream_Reader) reportWeight() {
	defer r.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			ratemetrics.ReportBybitWSWeight(r.log, r.tracker, "")
		}
	}
}

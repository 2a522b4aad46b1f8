package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"orderflow/config"
	trades "orderflow/internal/channel/trades"
	"orderflow/internal/metrics"
	bybitmetrics "orderflow/internal/metrics/bybit"
	ratemetrics "orderflow/internal/metrics/rate"
	"orderflow/logger"
	"orderflow/models"

	"golang.org/x/time/rate"
)

// Bybit_Trades_Reader polls recent public trades from the Bybit v5 market
// API. The endpoint has no cursor, so each symbol remembers the newest trade
// time it has forwarded and later polls drop everything at or before it.
type Bybit_Trades_Reader struct {
	config   *config.Config
	client   *http.Client
	channels *trades.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
	limiter  *rate.Limiter
	cursorMu sync.Mutex
	lastSeen map[string]int64
}

// Bybit_Trades_NewReader creates a new trade reader for Bybit futures.
func Bybit_Trades_NewReader(cfg *config.Config, ch *trades.Channels, symbols []string) *Bybit_Trades_Reader {
	log := logger.GetLogger()

	transport := &http.Transport{
		MaxIdleConns:        cfg.Source.Bybit.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Source.Bybit.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.Source.Bybit.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Source.Bybit.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}

	rps := cfg.Reader.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Reader.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	r := &Bybit_Trades_Reader{
		config:   cfg,
		client:   &http.Client{Transport: transport, Timeout: cfg.Reader.Timeout},
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      log,
		symbols:  symbols,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		lastSeen: make(map[string]int64),
	}

	log.WithComponent("bybit_trades_reader").WithFields(logger.Fields{
		"timeout": cfg.Reader.Timeout,
	}).Info("bybit trades reader initialized")

	return r
}

// Bybit_Trades_Start begins polling recent trades for configured symbols.
func (r *Bybit_Trades_Reader) Bybit_Trades_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("bybit_trades_reader").WithFields(logger.Fields{"operation": "Bybit_Trades_Start"})

	cfg := r.config.Source.Bybit.Future.Trades.Rest
	if !cfg.Enabled {
		log.Warn("bybit futures trades polling is disabled")
		return fmt.Errorf("bybit futures trades polling is disabled")
	}

	log.WithFields(logger.Fields{
		"symbols":  r.symbols,
		"interval": cfg.IntervalMs,
		"category": cfg.Category,
	}).Info("starting bybit trades reader")

	for _, sym := range r.symbols {
		r.wg.Add(1)
		go r.fetchTradesWorker(sym, cfg)
	}

	log.Info("bybit trades reader started successfully")
	return nil
}

// Bybit_Trades_Stop signals workers to stop.
func (r *Bybit_Trades_Reader) Bybit_Trades_Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("bybit_trades_reader").Info("stopping bybit trades reader")
	r.wg.Wait()
	r.log.WithComponent("bybit_trades_reader").Info("bybit trades reader stopped")
}

func (r *Bybit_Trades_Reader) fetchTradesWorker(symbol string, restCfg config.BybitTradeRestConfig) {
	defer r.wg.Done()

	log := r.log.WithComponent("bybit_trades_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "trade_fetcher",
	})
	log.Info("starting trade worker")

	interval := time.Duration(restCfg.IntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-ticker.C:
			r.fetchTrades(symbol, restCfg)
		}
	}
}

func (r *Bybit_Trades_Reader) fetchTrades(symbol string, restCfg config.BybitTradeRestConfig) {
	log := r.log.WithComponent("bybit_trades_reader").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_trades",
	})

	if err := r.limiter.Wait(r.ctx); err != nil {
		return
	}

	reqURL := fmt.Sprintf("%s?category=%s&symbol=%s&limit=%d", restCfg.URL, restCfg.Category, symbol, restCfg.Limit)

	start := time.Now()
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		log.WithError(err).Warn("failed to build request")
		return
	}
	req = req.WithContext(r.ctx)
	resp, err := r.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("failed to fetch trades")
		return
	}
	duration := time.Since(start)
	defer resp.Body.Close()
	logger.LogPerformanceEntry(log, "bybit_trades_reader", "api_request", duration, logger.Fields{"symbol": symbol})

	bybitmetrics.ReportUsage(r.log, resp, "bybit_trades_reader", symbol, models.MarketFutures, "")

	var envelope models.BybitRecentTradeResp
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		log.WithError(err).Warn("failed to decode trades")
		return
	}

	if envelope.RetCode != 0 {
		ratemetrics.ReportLimitFromMessage(r.log, models.ExchangeBybit, symbol, "", "trades", envelope.RetMsg)
		log.WithFields(logger.Fields{
			"ret_code": envelope.RetCode,
			"ret_msg":  envelope.RetMsg,
		}).Warn("bybit api returned error")
		return
	}

	fresh, newest := freshTrades(envelope.Result.List, r.cursor(symbol))
	if len(fresh) == 0 {
		return
	}
	r.setCursor(symbol, newest)

	envelope.Result.List = fresh
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.WithError(err).Warn("failed to marshal trades")
		return
	}

	raw := models.RawTradeMessage{
		Exchange:  models.ExchangeBybit,
		Symbol:    symbol,
		Market:    models.MarketFutures,
		Source:    models.SourceRest,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}

	if r.channels.SendRaw(r.ctx, raw) {
		logger.LogDataFlowEntry(log, "bybit_api", "raw_channel", len(fresh), "trades")
		logger.IncrementRestRead(len(payload))
		metrics.IncrementTradesIngested(models.ExchangeBybit, models.SourceRest, len(fresh))
	} else if r.ctx.Err() != nil {
		return
	} else {
		log.Warn("raw channel is full, dropping data")
	}
}

// freshTrades filters the recent-trade list down to entries strictly newer
// than the after timestamp. The v5 API returns the list newest first; the
// result is reversed into ascending time order. Returns the filtered list and
// the newest trade time encountered.
func freshTrades(list []models.BybitRecentTrade, after int64) ([]models.BybitRecentTrade, int64) {
	newest := after
	var fresh []models.BybitRecentTrade
	for i := len(list) - 1; i >= 0; i-- {
		ts, err := strconv.ParseInt(list[i].Time, 10, 64)
		if err != nil {
			continue
		}
		if ts <= after {
			continue
		}
		fresh = append(fresh, list[i])
		if ts > newest {
			newest = ts
		}
	}
	return fresh, newest
}

func (r *Bybit_Trades_Reader) cursor(symbol string) int64 {
	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()
	return r.lastSeen[symbol]
}

func (r *Bybit_Trades_Reader) setCursor(symbol string, ts int64) {
	r.cursorMu.Lock()
	r.lastSeen[symbol] = ts
	r.cursorMu.Unlock()
}

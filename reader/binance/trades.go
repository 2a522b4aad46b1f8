package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"orderflow/config"
	trades "orderflow/internal/channel/trades"
	"orderflow/internal/metrics"
	binancemetrics "orderflow/internal/metrics/binance"
	ratemetrics "orderflow/internal/metrics/rate"
	"orderflow/logger"
	"orderflow/models"

	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"
)

// aggTrade stream pushes arrive batched roughly every 100ms per symbol.
const streamUpdateIntervalMs = 100

// Binance_Trades_Reader polls futures aggregated trades from Binance. Each
// symbol keeps a fromId cursor so consecutive polls only return trades the
// reader has not seen yet.
type Binance_Trades_Reader struct {
	config      *config.Config
	client      *futures.Client
	channels    *trades.Channels
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	symbols     []string
	limiter     *rate.Limiter
	weightLimit int64
	wsEstimate  float64
	cursorMu    sync.Mutex
	cursors     map[string]int64
}

// Binance_Trades_NewReader creates a new Binance_Trades_Reader using the
// binance-go client and fetches trades only for the supplied symbols.
func Binance_Trades_NewReader(cfg *config.Config, ch *trades.Channels, symbols []string) *Binance_Trades_Reader {
	log := logger.GetLogger()

	transport := &http.Transport{
		MaxIdleConns:        cfg.Source.Binance.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Source.Binance.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.Source.Binance.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Source.Binance.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Reader.Timeout,
	}

	client := futures.NewClient("", "")
	client.HTTPClient = httpClient

	restCfg := cfg.Source.Binance.Future.Trades.Rest
	if parsed, err := url.Parse(restCfg.URL); err == nil {
		base := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		client.SetApiEndpoint(base)
	}

	rps := cfg.Reader.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Reader.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	reader := &Binance_Trades_Reader{
		config:   cfg,
		client:   client,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      log,
		symbols:  symbols,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		cursors:  make(map[string]int64),
	}

	log.WithComponent("binance_trades_reader").WithFields(logger.Fields{
		"max_idle_conns":     cfg.Source.Binance.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": cfg.Source.Binance.ConnectionPool.MaxConnsPerHost,
		"timeout":            cfg.Reader.Timeout,
	}).Info("binance trades reader initialized")

	return reader
}

// Binance_Trades_Start begins polling aggregated trades for configured symbols.
func (br *Binance_Trades_Reader) Binance_Trades_Start(ctx context.Context) error {
	br.mu.Lock()
	if br.running {
		br.mu.Unlock()
		return fmt.Errorf("reader already running")
	}
	br.running = true
	br.ctx = ctx
	br.mu.Unlock()

	log := br.log.WithComponent("binance_trades_reader").WithFields(logger.Fields{"operation": "Binance_Trades_Start"})

	restCfg := br.config.Source.Binance.Future.Trades.Rest
	if !restCfg.Enabled {
		log.Warn("binance futures trades polling is disabled")
		return fmt.Errorf("binance futures trades polling is disabled")
	}

	if limit, err := ratemetrics.FetchRequestWeightLimit(ctx, br.client); err == nil {
		br.weightLimit = limit
	} else {
		log.WithError(err).Warn("failed to fetch request weight limit")
	}

	streamCfg := br.config.Source.Binance.Future.Trades.Stream
	if streamCfg.Enabled {
		br.wsEstimate = binancemetrics.EstimateWebsocketWeightPerMinute(len(streamCfg.Symbols), streamUpdateIntervalMs)
	}

	log.WithFields(logger.Fields{
		"symbols":      br.symbols,
		"interval":     restCfg.IntervalMs,
		"weight_limit": br.weightLimit,
	}).Info("starting binance trades reader")

	for _, symbol := range br.symbols {
		br.wg.Add(1)
		go br.fetchTradesWorker(symbol, restCfg)
	}

	log.Info("binance trades reader started successfully")
	return nil
}

// Binance_Trades_Stop signals all workers to stop and waits for completion.
func (br *Binance_Trades_Reader) Binance_Trades_Stop() {
	br.mu.Lock()
	br.running = false
	br.mu.Unlock()

	br.log.WithComponent("binance_trades_reader").Info("stopping binance trades reader")
	br.wg.Wait()
	br.log.WithComponent("binance_trades_reader").Info("binance trades reader stopped")
}

func (br *Binance_Trades_Reader) fetchTradesWorker(symbol string, restCfg config.BinanceTradeRestConfig) {
	defer br.wg.Done()

	log := br.log.WithComponent("binance_trades_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "trade_fetcher",
	})

	log.Info("starting trade worker")

	interval := time.Duration(restCfg.IntervalMs) * time.Millisecond

	now := time.Now()
	nextTick := now.Truncate(interval).Add(interval)
	timer := time.NewTimer(nextTick.Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-br.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-timer.C:
			start := time.Now()
			br.fetchTrades(symbol, restCfg)
			duration := time.Since(start)

			if duration > interval {
				log.WithFields(logger.Fields{
					"duration": duration.Milliseconds(),
					"interval": restCfg.IntervalMs,
				}).Warn("fetch took longer than interval")
			}

			nextTick = start.Truncate(interval).Add(interval)
			timer.Reset(time.Until(nextTick))
		}
	}
}

func (br *Binance_Trades_Reader) fetchTrades(symbol string, restCfg config.BinanceTradeRestConfig) {
	log := br.log.WithComponent("binance_trades_reader").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_trades",
	})

	if err := br.limiter.Wait(br.ctx); err != nil {
		return
	}

	reqURL := fmt.Sprintf("%s?symbol=%s&limit=%d", restCfg.URL, symbol, restCfg.Limit)
	if cursor := br.nextCursor(symbol); cursor > 0 {
		reqURL = fmt.Sprintf("%s&fromId=%d", reqURL, cursor)
	}

	start := time.Now()
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		log.WithError(err).Warn("failed to build request")
		return
	}
	req = req.WithContext(br.ctx)
	resp, err := br.client.HTTPClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("failed to fetch trades")
		return
	}
	duration := time.Since(start)
	defer resp.Body.Close()
	logger.LogPerformanceEntry(log, "binance_trades_reader", "api_request", duration, logger.Fields{
		"symbol": symbol,
	})

	used, ok := binancemetrics.ReportUsedWeight(br.log, resp, "binance_trades_reader", symbol, models.MarketFutures, "", br.wsEstimate)
	if ok && br.weightLimit > 0 && used > 0.8*float64(br.weightLimit) {
		log.WithFields(logger.Fields{
			"used_weight":  used,
			"weight_limit": br.weightLimit,
		}).Warn("approaching request weight limit")
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ratemetrics.ReportLimitFromMessage(br.log, models.ExchangeBinance, symbol, "", "trades", string(body))
		log.WithFields(logger.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Warn("unexpected response status")
		return
	}

	var batch []models.BinanceAggTrade
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		log.WithError(err).Warn("failed to decode trades")
		return
	}
	if len(batch) == 0 {
		return
	}

	br.setCursor(symbol, batch[len(batch)-1].AggregateID+1)

	payload, err := json.Marshal(batch)
	if err != nil {
		log.WithError(err).Warn("failed to marshal trades")
		return
	}

	rawData := models.RawTradeMessage{
		Exchange:  models.ExchangeBinance,
		Symbol:    symbol,
		Market:    models.MarketFutures,
		Source:    models.SourceRest,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}

	if br.channels.SendRaw(br.ctx, rawData) {
		logger.LogDataFlowEntry(log, "binance_api", "raw_channel", len(batch), "agg_trades")
		logger.IncrementRestRead(len(payload))
		metrics.IncrementTradesIngested(models.ExchangeBinance, models.SourceRest, len(batch))
	} else if br.ctx.Err() != nil {
		return
	} else {
		log.Warn("raw channel is full, dropping data")
	}
}

func (br *Binance_Trades_Reader) nextCursor(symbol string) int64 {
	br.cursorMu.Lock()
	defer br.cursorMu.Unlock()
	return br.cursors[symbol]
}

func (br *Binance_Trades_Reader) setCursor(symbol string, next int64) {
	br.cursorMu.Lock()
	br.cursors[symbol] = next
	br.cursorMu.Unlock()
}

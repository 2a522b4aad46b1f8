package dashboard

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"orderflow/config"
	"orderflow/internal/metrics"
	"orderflow/internal/store"
	"orderflow/logger"
	"orderflow/models"
)

//go:embed templates/*.tmpl assets/*
var embeddedFS embed.FS

// Server hosts the Gin-powered orderflow console. It serves the latest
// profile snapshots, triggered signals and the pinned watchlist next to the
// captured logs, metrics and host resource samples.
type Server struct {
	cfg               config.DashboardConfig
	log               *logger.Log
	snapshots         *store.SnapshotStore
	watchlist         *store.WatchlistStore
	liveFeed          <-chan models.ProfileSnapshot
	live              *liveHub
	metricStore       *metricStore
	logStore          *logStore
	metricHandler     metrics.MetricHandlerID
	httpServer        *http.Server
	refreshIntervalMs int
	resourceSampler   *resourceSampler
}

// NewServer constructs a dashboard server when the dashboard feature is
// enabled. When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, snapshots *store.SnapshotStore, watchlist *store.WatchlistStore, liveFeed <-chan models.ProfileSnapshot, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Addr = normalizeAddress(cfg.Addr)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	if cfg.LogBuffer <= 0 {
		cfg.LogBuffer = 200
	}

	if cfg.MetricBuffer <= 0 {
		cfg.MetricBuffer = 200
	}

	metricStore := newMetricStore(cfg.MetricBuffer)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogBuffer)
	log.AddHook(logStore)

	sampler := newResourceSampler(cfg.MetricBuffer, cfg.RefreshInterval, "/", log)

	server := &Server{
		cfg:               cfg,
		log:               log,
		snapshots:         snapshots,
		watchlist:         watchlist,
		liveFeed:          liveFeed,
		live:              newLiveHub(log),
		metricStore:       metricStore,
		logStore:          logStore,
		metricHandler:     handlerID,
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		resourceSampler:   sampler,
	}

	return server, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context
// is cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	if s.resourceSampler != nil {
		s.resourceSampler.start(ctx)
	}

	if s.liveFeed != nil {
		go s.live.run(ctx, s.liveFeed)
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
	if s.live != nil {
		s.live.closeAll()
	}
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Addr
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	// Production-like environments run the dashboard in release mode, dev
	// keeps Gin's route logging.
	if config.IsProductionLike(config.AppEnvironment()) {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	// Allow running behind load balancers and accessing the dashboard from
	// public networks by trusting all proxies by default. Users can
	// override Gin's trusted proxy list via the GIN_TRUSTED_PROXIES
	// environment variable if needed.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("dashboard").ParseFS(embeddedFS, "templates/index.tmpl"))
	router.SetHTMLTemplate(tmpl)

	if assetsFS, err := fsSub("assets"); err == nil {
		router.StaticFS("/assets", http.FS(assetsFS))
	}

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": s.refreshIntervalMs,
		})
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "app": appName})
	})

	api := router.Group("/api")
	api.GET("/overview", s.handleOverview)
	api.GET("/profile/:exchange/:symbol", s.handleProfile)
	api.GET("/delta/:exchange/:symbol", s.handleDelta)
	api.GET("/summary/:exchange/:symbol", s.handleSummary)
	api.GET("/signals", s.handleSignals)
	api.GET("/watchlist", s.handleWatchlistList)
	api.POST("/watchlist", s.handleWatchlistAdd)
	api.DELETE("/watchlist/:exchange/:symbol", s.handleWatchlistRemove)
	api.GET("/logs", s.handleLogs)
	api.GET("/metrics", s.handleMetrics)
	api.GET("/resources", s.handleResources)

	router.GET("/ws", func(c *gin.Context) {
		s.live.handle(c.Writer, c.Request)
	})

	return router, nil
}

func (s *Server) handleOverview(c *gin.Context) {
	pinned := make(map[string]bool)
	for _, entry := range s.watchlist.Entries() {
		pinned[entry.Exchange+":"+entry.Symbol] = true
	}

	snaps := s.snapshots.All()
	pairs := make([]gin.H, 0, len(snaps))
	for _, snap := range snaps {
		var poc, totalVolume float64
		if snap.Profile != nil {
			poc = snap.Profile.POC
			totalVolume = snap.Profile.TotalVolume
		}
		pairs = append(pairs, gin.H{
			"exchange":          snap.Exchange,
			"market":            snap.Market,
			"symbol":            snap.Symbol,
			"last_price":        snap.LastPrice,
			"event_count":       snap.EventCount,
			"generated_at":      snap.GeneratedAt.Format(time.RFC3339Nano),
			"total_volume":      totalVolume,
			"poc":               poc,
			"total_delta":       snap.Summary.TotalDelta,
			"imbalance_percent": snap.Summary.ImbalancePercent,
			"pinned":            pinned[snap.Key()],
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"pairs":        pairs,
		"live_clients": s.live.clientCount(),
	})
}

func (s *Server) handleProfile(c *gin.Context) {
	snap, ok := s.lookupSnapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exchange":     snap.Exchange,
		"symbol":       snap.Symbol,
		"generated_at": snap.GeneratedAt.Format(time.RFC3339Nano),
		"last_price":   snap.LastPrice,
		"profile":      snap.Profile,
	})
}

func (s *Server) handleDelta(c *gin.Context) {
	snap, ok := s.lookupSnapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exchange":     snap.Exchange,
		"symbol":       snap.Symbol,
		"generated_at": snap.GeneratedAt.Format(time.RFC3339Nano),
		"delta":        snap.Delta,
		"summary":      snap.Summary,
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	snap, ok := s.lookupSnapshot(c)
	if !ok {
		return
	}

	var poc, vaHigh, vaLow float64
	if snap.Profile != nil {
		poc = snap.Profile.POC
		vaHigh = snap.Profile.ValueAreaHigh
		vaLow = snap.Profile.ValueAreaLow
	}

	c.JSON(http.StatusOK, gin.H{
		"exchange":        snap.Exchange,
		"market":          snap.Market,
		"symbol":          snap.Symbol,
		"generated_at":    snap.GeneratedAt.Format(time.RFC3339Nano),
		"window_start":    snap.WindowStart,
		"window_end":      snap.WindowEnd,
		"event_count":     snap.EventCount,
		"last_price":      snap.LastPrice,
		"poc":             poc,
		"value_area_high": vaHigh,
		"value_area_low":  vaLow,
		"summary":         snap.Summary,
	})
}

func (s *Server) handleSignals(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{"signals": s.snapshots.RecentSignals(limit)})
}

func (s *Server) handleWatchlistList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"watchlist": s.watchlist.Entries()})
}

func (s *Server) handleWatchlistAdd(c *gin.Context) {
	var req struct {
		Exchange string `json:"exchange"`
		Symbol   string `json:"symbol"`
		Notes    string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Exchange) == "" || strings.TrimSpace(req.Symbol) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange and symbol are required"})
		return
	}

	entry := s.watchlist.Add(store.WatchlistEntry{
		Exchange: req.Exchange,
		Symbol:   req.Symbol,
		Notes:    req.Notes,
	})
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

func (s *Server) handleWatchlistRemove(c *gin.Context) {
	exchange := c.Param("exchange")
	symbol := c.Param("symbol")
	if !s.watchlist.Remove(exchange, symbol) {
		c.JSON(http.StatusNotFound, gin.H{"error": "pair is not on the watchlist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func (s *Server) handleLogs(c *gin.Context) {
	logsSnapshot := s.logStore.snapshot()
	payload := make([]gin.H, 0, len(logsSnapshot))
	for _, l := range logsSnapshot {
		payload = append(payload, gin.H{
			"timestamp": l.Timestamp.Format(time.RFC3339Nano),
			"level":     l.Level,
			"component": l.Component,
			"message":   l.Message,
			"fields":    l.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

func (s *Server) handleMetrics(c *gin.Context) {
	metricsSnapshot := s.metricStore.snapshot()
	payload := make([]gin.H, 0, len(metricsSnapshot))
	for _, m := range metricsSnapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload})
}

func (s *Server) handleResources(c *gin.Context) {
	snapshots := s.resourceSampler.snapshot()
	payload := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		payload = append(payload, gin.H{
			"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
			"cpu_percent":    snap.CPUPercent,
			"memory_used":    snap.MemoryUsed,
			"memory_total":   snap.MemoryTotal,
			"memory_percent": snap.MemoryPct,
			"disk_used":      snap.DiskUsed,
			"disk_total":     snap.DiskTotal,
			"disk_percent":   snap.DiskPct,
		})
	}
	c.JSON(http.StatusOK, gin.H{"resources": payload})
}

func (s *Server) lookupSnapshot(c *gin.Context) (models.ProfileSnapshot, bool) {
	exchange := strings.ToLower(c.Param("exchange"))
	symbol := strings.ToUpper(c.Param("symbol"))
	snap, ok := s.snapshots.Latest(exchange, symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":    "no snapshot for pair",
			"exchange": exchange,
			"symbol":   symbol,
		})
		return models.ProfileSnapshot{}, false
	}
	return snap, true
}

func fsSub(path string) (fs.FS, error) {
	sub, err := fs.Sub(embeddedFS, path)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}

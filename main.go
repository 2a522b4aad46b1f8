package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"orderflow/config"
	"orderflow/internal/channel"
	"orderflow/internal/dashboard"
	"orderflow/internal/metrics"
	"orderflow/internal/store"
	"orderflow/logger"
	"orderflow/models"
	"orderflow/processor"
	"orderflow/reader/binance"
	"orderflow/reader/bybit"
	"orderflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Orderflow.Name,
		"version":     cfg.Orderflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting orderflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Logging.DashboardName)
	}
	logger.StartReport(ctx, log, cfg.Metrics.CloudWatch.FlushInterval)

	metrics.Configure(cfg.Metrics)
	if cfg.Metrics.Prometheus.Enabled {
		metrics.Init(cfg.Metrics.Prometheus.Addr)
	}

	channels := channel.NewChannels(
		cfg.Channels.RawBuffer,
		cfg.Channels.BatchBuffer,
		cfg.Channels.SnapshotBuffer,
	)
	defer channels.Close()

	metrics.StartChannelSizeMetrics(ctx, channels, 30*time.Second)

	snapshots := store.NewSnapshotStore(cfg.Signals.HistorySize)

	watchlist := store.NewWatchlistStore(cfg.Store.WatchlistPath)
	if err := watchlist.Load(); err != nil {
		log.WithError(err).Warn("failed to load watchlist, starting empty")
	}
	watchlist.StartAutosave(ctx, cfg.Store.Autosave)

	var binanceRest *binance.Binance_Trades_Reader
	var binanceStream *binance.Stream
	var bybitRest *bybit.Bybit_Trades_Reader
	var bybitStream *bybit.Bybit_TradeStream_Reader

	if cfg.Source.Binance.Future.Trades.Rest.Enabled {
		binanceRest = binance.Binance_Trades_NewReader(cfg, channels.Trades, cfg.Source.Binance.Future.Trades.Rest.Symbols)
	}
	if cfg.Source.Binance.Future.Trades.Stream.Enabled {
		binanceStream = binance.BinanceTradeStream(cfg, channels.Trades)
	}
	if cfg.Source.Bybit.Future.Trades.Rest.Enabled {
		bybitRest = bybit.Bybit_Trades_NewReader(cfg, channels.Trades, cfg.Source.Bybit.Future.Trades.Rest.Symbols)
	}
	if cfg.Source.Bybit.Future.Trades.Stream.Enabled {
		bybitStream = bybit.Bybit_TradeStream_NewReader(cfg, channels.Trades, cfg.Source.Bybit.Future.Trades.Stream.Symbols)
	}

	normalizer := processor.NewNormalizer(cfg, channels.Trades)
	analyzer := processor.NewAnalyzer(cfg, channels.Trades, snapshots)
	fanout := writer.NewFanout(channels.Trades)

	var archiveWriter *writer.ArchiveWriter
	if cfg.Storage.S3.Enabled && cfg.Writer.Formats.Parquet.Enabled {
		archiveChan := fanout.Subscribe("archive_writer", cfg.Channels.SnapshotBuffer)
		archiveWriter, err = writer.NewArchiveWriter(cfg, archiveChan)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("parquet archive disabled; skipping archive writer")
	}

	var kafkaWriter *writer.KafkaWriter
	if cfg.Kafka.Enabled {
		kafkaChan := fanout.Subscribe("kafka_writer", cfg.Channels.SnapshotBuffer)
		kafkaWriter, err = writer.NewKafkaWriter(cfg, kafkaChan)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
	}

	var liveFeed <-chan models.ProfileSnapshot
	if cfg.Dashboard.Enabled {
		liveFeed = fanout.Subscribe("dashboard_live", cfg.Channels.SnapshotBuffer)
	}
	dashboardSrv, err := dashboard.NewServer(cfg.Dashboard, snapshots, watchlist, liveFeed, log)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard server")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	if binanceRest != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := binanceRest.Binance_Trades_Start(ctx); err != nil {
				log.WithError(err).Warn("binance rest reader failed to start")
			}
		}()
	}

	if binanceStream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := binanceStream.Start(ctx); err != nil {
				log.WithError(err).Warn("binance trade stream failed to start")
			}
		}()
	}

	if bybitRest != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bybitRest.Bybit_Trades_Start(ctx); err != nil {
				log.WithError(err).Warn("bybit rest reader failed to start")
			}
		}()
	}

	if bybitStream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bybitStream.Bybit_TradeStream_Start(ctx); err != nil {
				log.WithError(err).Warn("bybit trade stream failed to start")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := normalizer.Start(ctx); err != nil {
			log.WithError(err).Warn("normalizer failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := analyzer.Start(ctx); err != nil {
			log.WithError(err).Warn("analyzer failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fanout.Start(ctx); err != nil {
			log.WithError(err).Warn("snapshot fanout failed to start")
		}
	}()

	if archiveWriter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := archiveWriter.Start(ctx); err != nil {
				log.WithError(err).Warn("archive writer failed to start")
			}
		}()
	}

	if kafkaWriter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := kafkaWriter.Start(ctx); err != nil {
				log.WithError(err).Warn("kafka writer failed to start")
			}
		}()
	}

	if dashboardSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dashboardSrv.Run(ctx, cfg.Orderflow.Name); err != nil {
				log.WithError(err).Error("dashboard server failed")
			}
		}()
		log.WithFields(logger.Fields{"address": dashboardSrv.Address()}).Info("dashboard enabled")
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if binanceRest != nil {
		log.Info("stopping binance rest reader")
		binanceRest.Binance_Trades_Stop()
	}
	if binanceStream != nil {
		log.Info("stopping binance trade stream")
		binanceStream.Stop()
	}
	if bybitRest != nil {
		log.Info("stopping bybit rest reader")
		bybitRest.Bybit_Trades_Stop()
	}
	if bybitStream != nil {
		log.Info("stopping bybit trade stream")
		bybitStream.Bybit_TradeStream_Stop()
	}

	log.Info("stopping normalizer")
	normalizer.Stop()

	log.Info("stopping analyzer")
	analyzer.Stop()

	log.Info("stopping snapshot fanout")
	fanout.Stop()

	if archiveWriter != nil {
		log.Info("stopping archive writer")
		archiveWriter.Stop()
	}
	if kafkaWriter != nil {
		log.Info("stopping kafka writer")
		kafkaWriter.Stop()
	}

	if watchlist.Dirty() {
		if err := watchlist.Save(); err != nil {
			log.WithError(err).Warn("failed to save watchlist on shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("orderflow stopped")
}

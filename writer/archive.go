package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"orderflow/config"
	"orderflow/internal/metadata"
	"orderflow/internal/metrics"
	"orderflow/logger"
	"orderflow/models"
)

// snapshotRecord is the parquet schema for archived profile snapshots. One
// row per snapshot; the full bucket detail stays on the streaming path.
type snapshotRecord struct {
	Exchange         string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Market           string  `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol           string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	GeneratedAt      int64   `parquet:"name=generated_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	WindowStart      int64   `parquet:"name=window_start, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	WindowEnd        int64   `parquet:"name=window_end, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	EventCount       int64   `parquet:"name=event_count, type=INT64"`
	LastPrice        float64 `parquet:"name=last_price, type=DOUBLE"`
	POC              float64 `parquet:"name=poc, type=DOUBLE"`
	ValueAreaHigh    float64 `parquet:"name=value_area_high, type=DOUBLE"`
	ValueAreaLow     float64 `parquet:"name=value_area_low, type=DOUBLE"`
	TotalVolume      float64 `parquet:"name=total_volume, type=DOUBLE"`
	BucketWidth      float64 `parquet:"name=bucket_width, type=DOUBLE"`
	TotalDelta       float64 `parquet:"name=total_delta, type=DOUBLE"`
	TotalBuy         float64 `parquet:"name=total_buy, type=DOUBLE"`
	TotalSell        float64 `parquet:"name=total_sell, type=DOUBLE"`
	ImbalancePercent float64 `parquet:"name=imbalance_percent, type=DOUBLE"`
}

// memFileWriter adapts a byte buffer to the parquet source interface so files
// are assembled in memory before upload.
type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// ArchiveWriter consumes profile snapshots and archives them to S3 as
// hive-partitioned parquet files. Rows are buffered per exchange/symbol and
// flushed on size or on the configured interval; every uploaded file is
// recorded in the local table metadata.
type ArchiveWriter struct {
	config      *config.Config
	snapChan    <-chan models.ProfileSnapshot
	s3Client    *s3.Client
	metaGen     *metadata.Generator
	buffer      map[string][]snapshotRecord
	mu          sync.Mutex
	flushTicker *time.Ticker
	ctx         context.Context
	wg          *sync.WaitGroup
	stateMu     sync.RWMutex
	running     bool
	log         *logger.Log

	// Metrics
	batchesWritten int64
	filesWritten   int64
	bytesWritten   int64
	errorsCount    int64
}

// NewArchiveWriter initializes the archive writer with AWS credentials.
func NewArchiveWriter(cfg *config.Config, snapChan <-chan models.ProfileSnapshot) (*ArchiveWriter, error) {
	log := logger.GetLogger()

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	location := "s3://" + cfg.Storage.S3.Bucket
	if cfg.Storage.S3.Prefix != "" {
		location += "/" + strings.Trim(cfg.Storage.S3.Prefix, "/")
	}
	metaGen := metadata.NewGenerator(cfg.Writer.MetadataDir, location, cfg.Orderflow.Name+"_snapshots")

	return &ArchiveWriter{
		config:   cfg,
		snapChan: snapChan,
		s3Client: s3Client,
		metaGen:  metaGen,
		buffer:   make(map[string][]snapshotRecord),
		wg:       &sync.WaitGroup{},
		log:      log,
	}, nil
}

// Start launches the workers and the flush ticker.
func (w *ArchiveWriter) Start(ctx context.Context) error {
	w.stateMu.Lock()
	if w.running {
		w.stateMu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.flushTicker = time.NewTicker(w.config.Writer.Buffer.FlushInterval)
	w.stateMu.Unlock()

	log := w.log.WithComponent("archive_writer")
	if !w.config.Storage.S3.Enabled || !w.config.Writer.Formats.Parquet.Enabled {
		log.Warn("archive writer is disabled in configuration")
		return nil
	}

	workers := w.config.Writer.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	w.wg.Add(1)
	go w.flushLoop()

	w.wg.Add(1)
	go w.metricsReporter(ctx)

	log.WithFields(logger.Fields{
		"bucket":         w.config.Storage.S3.Bucket,
		"prefix":         w.config.Storage.S3.Prefix,
		"flush_interval": w.config.Writer.Buffer.FlushInterval.String(),
		"workers":        workers,
	}).Info("archive writer started")
	return nil
}

// Stop waits for workers and flushes remaining rows.
func (w *ArchiveWriter) Stop() {
	w.stateMu.Lock()
	if !w.running {
		w.stateMu.Unlock()
		return
	}
	w.running = false
	w.stateMu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	w.wg.Wait()
	w.flushAll()
	w.log.WithComponent("archive_writer").Info("archive writer stopped")
}

func (w *ArchiveWriter) worker() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case snap, ok := <-w.snapChan:
			if !ok {
				return
			}
			w.bufferSnapshot(snap)
		}
	}
}

func (w *ArchiveWriter) bufferSnapshot(snap models.ProfileSnapshot) {
	key := fmt.Sprintf("%s|%s|%s", snap.Exchange, snap.Market, snap.Symbol)

	w.mu.Lock()
	w.buffer[key] = append(w.buffer[key], toRecord(snap))
	shouldFlush := len(w.buffer[key]) >= w.config.Writer.Buffer.MaxSize
	w.mu.Unlock()

	if shouldFlush {
		w.flushBuffer(key)
	}
}

func toRecord(snap models.ProfileSnapshot) snapshotRecord {
	rec := snapshotRecord{
		Exchange:         snap.Exchange,
		Market:           snap.Market,
		Symbol:           snap.Symbol,
		GeneratedAt:      snap.GeneratedAt.UnixMilli(),
		WindowStart:      snap.WindowStart,
		WindowEnd:        snap.WindowEnd,
		EventCount:       int64(snap.EventCount),
		LastPrice:        snap.LastPrice,
		TotalDelta:       snap.Summary.TotalDelta,
		TotalBuy:         snap.Summary.TotalBuy,
		TotalSell:        snap.Summary.TotalSell,
		ImbalancePercent: snap.Summary.ImbalancePercent,
	}
	if snap.Profile != nil {
		rec.POC = snap.Profile.POC
		rec.ValueAreaHigh = snap.Profile.ValueAreaHigh
		rec.ValueAreaLow = snap.Profile.ValueAreaLow
		rec.TotalVolume = snap.Profile.TotalVolume
		rec.BucketWidth = snap.Profile.BucketWidth
	}
	return rec
}

func (w *ArchiveWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flushAll()
		}
	}
}

func (w *ArchiveWriter) flushAll() {
	w.mu.Lock()
	keys := make([]string, 0, len(w.buffer))
	for k := range w.buffer {
		keys = append(keys, k)
	}
	w.mu.Unlock()

	for _, k := range keys {
		w.flushBuffer(k)
	}
}

func (w *ArchiveWriter) flushBuffer(key string) {
	w.mu.Lock()
	records := w.buffer[key]
	if len(records) == 0 {
		w.mu.Unlock()
		return
	}
	delete(w.buffer, key)
	w.mu.Unlock()

	parts := strings.SplitN(key, "|", 3)
	w.writeFile(parts[0], parts[1], parts[2], records)
}

func (w *ArchiveWriter) writeFile(exchange, market, symbol string, records []snapshotRecord) {
	log := w.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"exchange": exchange,
		"symbol":   symbol,
	})

	data, err := w.createParquet(records)
	if err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		log.WithError(err).Error("create parquet failed")
		return
	}

	now := time.Now().UTC()
	key := w.s3Key(exchange, market, symbol, now)
	if err := w.upload(key, data); err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		log.WithError(err).Error("upload to s3 failed")
		return
	}

	atomic.AddInt64(&w.batchesWritten, 1)
	atomic.AddInt64(&w.filesWritten, 1)
	atomic.AddInt64(&w.bytesWritten, int64(len(data)))
	logger.IncrementArchiveWrite(int64(len(data)))
	metrics.IncrementArchiveUploads(exchange)

	df := metadata.DataFile{
		Path:        "s3://" + w.config.Storage.S3.Bucket + "/" + key,
		FileSize:    int64(len(data)),
		RecordCount: int64(len(records)),
		Partition: map[string]any{
			"exchange": exchange,
			"market":   market,
			"symbol":   symbol,
			"year":     now.Year(),
			"month":    int(now.Month()),
			"day":      now.Day(),
			"hour":     now.Hour(),
		},
		Timestamp: now,
	}
	if err := w.metaGen.AddFile(df); err != nil {
		log.WithError(err).Warn("failed to record file in table metadata")
	}

	log.WithFields(logger.Fields{
		"s3_key":  key,
		"records": len(records),
		"bytes":   len(data),
	}).Info("snapshot batch uploaded")
}

func (w *ArchiveWriter) createParquet(records []snapshotRecord) ([]byte, error) {
	mw := newMemFileWriter()
	pw, err := writer.NewParquetWriter(mw, new(snapshotRecord), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = codecFor(w.config.Writer.Formats.Parquet.Compression)
	if ps := w.config.Writer.Formats.Parquet.PageSize; ps > 0 {
		pw.PageSize = int64(ps)
	}
	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mw.Bytes(), nil
}

func codecFor(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "zstd":
		return parquet.CompressionCodec_ZSTD
	case "none", "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED
	default:
		return parquet.CompressionCodec_SNAPPY
	}
}

func (w *ArchiveWriter) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(w.config.Storage.S3.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	_, err := w.s3Client.PutObject(w.ctx, input)
	return err
}

func (w *ArchiveWriter) s3Key(exchange, market, symbol string, ts time.Time) string {
	parts := []string{
		fmt.Sprintf("exchange=%s", exchange),
		fmt.Sprintf("market=%s", market),
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", int(ts.Month())),
		fmt.Sprintf("day=%02d", ts.Day()),
		fmt.Sprintf("hour=%02d", ts.Hour()),
	}
	filename := fmt.Sprintf("snapshots_%s_%s_%d.parquet", exchange, symbol, ts.UnixNano())
	key := filepath.ToSlash(filepath.Join(append(parts, filename)...))
	if prefix := strings.Trim(w.config.Storage.S3.Prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

func (w *ArchiveWriter) metricsReporter(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportWriter(w.log, "archive_writer", metrics.WriterStats{
				BatchesWritten:     atomic.LoadInt64(&w.batchesWritten),
				FilesWritten:       atomic.LoadInt64(&w.filesWritten),
				BytesWritten:       atomic.LoadInt64(&w.bytesWritten),
				ErrorsCount:        atomic.LoadInt64(&w.errorsCount),
				SnapshotChannelLen: len(w.snapChan),
				SnapshotChannelCap: cap(w.snapChan),
			})
		}
	}
}

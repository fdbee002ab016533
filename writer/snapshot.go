package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "bookflow/config"
	"bookflow/internal/metadata"
	"bookflow/logger"
	"bookflow/models"
)

type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// bookBuffer collects the levels of one book between flushes.
type bookBuffer struct {
	exchange string
	market   string
	symbol   string
	variant  models.BookVariant
	entries  []models.BookLevelEntry
	minNonce int64
	maxNonce int64
	minTime  int64
	maxTime  int64
}

func (b *bookBuffer) add(batch models.BookBatch) {
	for _, e := range batch.Entries {
		if b.minTime == 0 || (e.Timestamp != 0 && e.Timestamp < b.minTime) {
			b.minTime = e.Timestamp
		}
		if e.Timestamp > b.maxTime {
			b.maxTime = e.Timestamp
		}
	}
	if b.minNonce == 0 || (batch.Nonce != 0 && batch.Nonce < b.minNonce) {
		b.minNonce = batch.Nonce
	}
	if batch.Nonce > b.maxNonce {
		b.maxNonce = batch.Nonce
	}
	b.entries = append(b.entries, batch.Entries...)
}

// SnapshotWriter buffers book batches per book and periodically uploads
// them to S3 as parquet files, registering each file with the table
// manifest.
type SnapshotWriter struct {
	config    *appconfig.Config
	books     <-chan models.BookBatch
	store     objectStore
	ctx       context.Context
	wg        *sync.WaitGroup
	workersWg *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log
	buffer    map[string]*bookBuffer
	metaGen   *metadata.Generator
	metaDir   string
}

// NewSnapshotWriter loads the AWS configuration and prepares the manifest
// directory. Static credentials from the config take precedence over the
// default chain.
func NewSnapshotWriter(cfg *appconfig.Config, books <-chan models.BookBatch) (*SnapshotWriter, error) {
	log := logger.GetLogger()
	ctx := context.Background()
	s3cfg := cfg.Storage.S3

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s3cfg.Region),
	}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_writer").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	w, err := newSnapshotWriter(cfg, books, client)
	if err != nil {
		return nil, err
	}
	log.WithComponent("s3_writer").WithFields(logger.Fields{
		"bucket":       s3cfg.Bucket,
		"region":       s3cfg.Region,
		"endpoint":     s3cfg.Endpoint,
		"path_style":   s3cfg.PathStyle,
		"manifest_dir": w.metaDir,
	}).Info("s3 writer initialized")
	return w, nil
}

func newSnapshotWriter(cfg *appconfig.Config, books <-chan models.BookBatch, store objectStore) (*SnapshotWriter, error) {
	metaDir := cfg.Storage.S3.ManifestDir
	if metaDir == "" {
		dir, err := os.MkdirTemp("", "bookflow-manifest")
		if err != nil {
			return nil, fmt.Errorf("failed to create metadata directory: %w", err)
		}
		metaDir = dir
	}

	location := "s3://" + cfg.Storage.S3.Bucket
	if p := strings.Trim(cfg.Storage.S3.Prefix, "/"); p != "" {
		location += "/" + p
	}
	table := cfg.Bookflow.Name
	if table == "" {
		table = "bookflow"
	}

	return &SnapshotWriter{
		config:    cfg,
		books:     books,
		store:     store,
		wg:        &sync.WaitGroup{},
		workersWg: &sync.WaitGroup{},
		log:       logger.GetLogger(),
		buffer:    make(map[string]*bookBuffer),
		metaGen:   metadata.NewGenerator(metaDir, location, table),
		metaDir:   metaDir,
	}, nil
}

func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("s3 writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{"operation": "start"})

	numWorkers := max(1, w.config.Writer.MaxWorkers)
	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting s3 writer workers")
	for i := 0; i < numWorkers; i++ {
		w.workersWg.Add(1)
		go w.worker(i)
	}

	w.wg.Add(1)
	go w.flushWorker()

	log.Info("s3 writer started successfully")
	return nil
}

func (w *SnapshotWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	log := w.log.WithComponent("s3_writer")
	log.Info("stopping s3 writer")
	w.wg.Wait()
	if err := w.metaGen.WriteCatalogEntry(filepath.Join(w.metaDir, "catalog")); err != nil {
		log.WithError(err).Warn("failed to write catalog entry")
	}
	log.Info("s3 writer stopped")
}

func (w *SnapshotWriter) worker(workerID int) {
	defer w.workersWg.Done()

	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "s3_writer",
	})
	log.Info("starting s3 writer worker")

	for {
		select {
		case <-w.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case batch, ok := <-w.books:
			if !ok {
				log.Info("book channel closed, worker stopping")
				return
			}
			w.addBatch(batch)
		}
	}
}

func bufferKey(batch models.BookBatch) string {
	return models.BookKey(batch.Exchange, batch.Market, batch.Symbol, batch.Variant)
}

func (w *SnapshotWriter) addBatch(batch models.BookBatch) {
	if len(batch.Entries) == 0 {
		return
	}
	key := bufferKey(batch)
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.buffer[key]
	if !ok {
		b = &bookBuffer{exchange: batch.Exchange, market: batch.Market, symbol: batch.Symbol, variant: batch.Variant}
		w.buffer[key] = b
	}
	b.add(batch)
}

func (w *SnapshotWriter) flushWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	ticker := time.NewTicker(w.config.Writer.Buffer.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			// no batch may arrive after the final flush
			w.workersWg.Wait()
			w.flushBuffers("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-ticker.C:
			w.flushBuffers("interval")
		}
	}
}

func (w *SnapshotWriter) flushBuffers(reason string) {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[string]*bookBuffer)
	w.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing buffers")

	now := time.Now().UTC()
	for _, b := range buffers {
		if len(b.entries) == 0 {
			continue
		}
		if err := w.writeBuffer(b, now); err != nil {
			w.log.WithComponent("s3_writer").WithError(err).WithFields(logger.Fields{
				"exchange": b.exchange,
				"symbol":   b.symbol,
			}).Error("failed to write book buffer")
		}
	}
}

func (w *SnapshotWriter) writeBuffer(b *bookBuffer, now time.Time) error {
	start := time.Now()
	key := w.generateS3Key(b, now, uuid.NewString())
	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"exchange":     b.exchange,
		"symbol":       b.symbol,
		"variant":      b.variant,
		"record_count": len(b.entries),
		"s3_key":       key,
		"operation":    "write_buffer",
	})

	data, err := encodeParquet(b.entries, w.config.Writer.Formats.Parquet.Compression)
	if err != nil {
		return err
	}

	if err := w.uploadToS3(key, data); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": w.config.Storage.S3.Bucket}).
			Error("failed to upload to S3")
		return err
	}
	logger.IncrementS3Write(int64(len(data)))
	logger.LogPerformanceEntry(log, "s3_writer", "write_buffer", time.Since(start), logger.Fields{"file_size": len(data)})
	logger.LogDataFlowEntry(log, "book_keeper", "s3", len(b.entries), "book_levels")

	df := metadata.DataFile{
		Path:        fmt.Sprintf("s3://%s/%s", w.config.Storage.S3.Bucket, key),
		FileSize:    int64(len(data)),
		RecordCount: int64(len(b.entries)),
		Partition: map[string]any{
			"exchange": b.exchange,
			"market":   b.market,
			"symbol":   b.symbol,
			"variant":  string(b.variant),
			"date":     now.Format("2006-01-02"),
		},
		MinNonce:  b.minNonce,
		MaxNonce:  b.maxNonce,
		MinTime:   b.minTime,
		MaxTime:   b.maxTime,
		Timestamp: now,
	}
	if err := w.metaGen.AddFile(df); err != nil {
		log.WithError(err).Warn("failed to update metadata")
	}
	return nil
}

// generateS3Key builds prefix/additional keys/time partition/file name.
func (w *SnapshotWriter) generateS3Key(b *bookBuffer, ts time.Time, id string) string {
	var parts []string
	if p := strings.Trim(w.config.Storage.S3.Prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	for _, k := range w.config.Writer.Partitioning.AdditionalKeys {
		switch k {
		case "exchange":
			parts = append(parts, "exchange="+b.exchange)
		case "symbol":
			parts = append(parts, "symbol="+b.symbol)
		case "variant":
			parts = append(parts, "variant="+string(b.variant))
		case "market":
			if b.market != "" {
				parts = append(parts, "market="+b.market)
			}
		}
	}

	timePath := w.config.Writer.Partitioning.TimeFormat
	timePath = strings.ReplaceAll(timePath, "{year}", fmt.Sprintf("%04d", ts.Year()))
	timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", ts.Month()))
	timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", ts.Day()))
	timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", ts.Hour()))
	if timePath != "" {
		parts = append(parts, timePath)
	}

	if len(id) > 8 {
		id = id[:8]
	}
	name := []string{b.exchange}
	if b.market != "" {
		name = append(name, b.market)
	}
	name = append(name, string(b.variant), b.symbol, ts.UTC().Format("20060102150405"), id)
	filename := strings.Join(name, "_") + ".parquet"

	return path.Join(append(parts, filename)...)
}

func (w *SnapshotWriter) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":     "parquet",
			"compression":      w.config.Writer.Formats.Parquet.Compression,
			"bookflow-version": w.config.Bookflow.Version,
		},
	}

	ctx := context.Background()
	if w.ctx != nil {
		ctx = context.WithoutCancel(w.ctx)
	}
	if _, err := w.store.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}
	return nil
}

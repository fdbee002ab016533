package writer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/reader"

	appconfig "bookflow/config"
	"bookflow/models"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakeStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func testConfig(t *testing.T) *appconfig.Config {
	return &appconfig.Config{
		Bookflow: appconfig.BookflowConfig{Name: "books", Version: "test"},
		Writer: appconfig.WriterConfig{
			MaxWorkers: 1,
			Buffer:     appconfig.BufferConfig{FlushInterval: time.Hour},
			Partitioning: appconfig.PartitioningConfig{
				TimeFormat:     "year={year}/month={month}/day={day}/hour={hour}",
				AdditionalKeys: []string{"exchange", "variant", "symbol"},
			},
			Formats: appconfig.FormatsConfig{Parquet: appconfig.ParquetConfig{Compression: "snappy"}},
		},
		Storage: appconfig.StorageConfig{S3: appconfig.S3Config{
			Enabled:     true,
			Bucket:      "bucket",
			Prefix:      "/books/",
			ManifestDir: t.TempDir(),
		}},
	}
}

func testBatch(nonce int64) models.BookBatch {
	entries := []models.BookLevelEntry{
		{Exchange: "binance", Symbol: "BTCUSDT", Market: "futures", Variant: models.VariantPrice, Timestamp: 1000 + nonce, Nonce: nonce, Side: "bid", Price: 99, Amount: 1, Level: 1},
		{Exchange: "binance", Symbol: "BTCUSDT", Market: "futures", Variant: models.VariantPrice, Timestamp: 1000 + nonce, Nonce: nonce, Side: "ask", Price: 101, Amount: 2, Level: 1},
	}
	return models.BookBatch{
		Exchange:    "binance",
		Symbol:      "BTCUSDT",
		Market:      "futures",
		Variant:     models.VariantPrice,
		Nonce:       nonce,
		Entries:     entries,
		RecordCount: len(entries),
	}
}

func TestGenerateS3Key(t *testing.T) {
	w, err := newSnapshotWriter(testConfig(t), nil, &fakeStore{})
	if err != nil {
		t.Fatal(err)
	}
	b := &bookBuffer{exchange: "bitfinex", market: "P0", symbol: "BTCUSD", variant: models.VariantCounted}
	ts := time.Date(2024, 3, 7, 9, 5, 1, 0, time.UTC)

	got := w.generateS3Key(b, ts, "0123456789abcdef")
	want := "books/exchange=bitfinex/variant=counted/symbol=BTCUSD/year=2024/month=03/day=07/hour=09/bitfinex_P0_counted_BTCUSD_20240307090501_01234567.parquet"
	if got != want {
		t.Fatalf("key = %s\nwant  %s", got, want)
	}
}

func TestAddBatchBuffersPerBook(t *testing.T) {
	w, err := newSnapshotWriter(testConfig(t), nil, &fakeStore{})
	if err != nil {
		t.Fatal(err)
	}
	w.addBatch(testBatch(5))
	w.addBatch(testBatch(3))
	other := testBatch(1)
	other.Market = "spot"
	w.addBatch(other)
	w.addBatch(models.BookBatch{Exchange: "binance"})

	if len(w.buffer) != 2 {
		t.Fatalf("buffers = %d, want 2", len(w.buffer))
	}
	b := w.buffer[bufferKey(testBatch(0))]
	if len(b.entries) != 4 || b.minNonce != 3 || b.maxNonce != 5 || b.minTime != 1003 || b.maxTime != 1005 {
		t.Fatalf("unexpected buffer: %+v", b)
	}
}

func TestFlushUploadsParquetAndManifest(t *testing.T) {
	store := &fakeStore{}
	w, err := newSnapshotWriter(testConfig(t), nil, store)
	if err != nil {
		t.Fatal(err)
	}
	w.addBatch(testBatch(7))
	w.flushBuffers("test")

	if len(w.buffer) != 0 {
		t.Fatalf("buffer not drained")
	}
	if len(store.objects) != 1 {
		t.Fatalf("objects = %d, want 1", len(store.objects))
	}
	var data []byte
	for key, b := range store.objects {
		if !strings.HasPrefix(key, "books/exchange=binance/variant=price/symbol=BTCUSDT/") {
			t.Fatalf("unexpected key %s", key)
		}
		data = b
	}

	pr, err := reader.NewParquetReader(memoryFileFromBytes(data), new(ParquetRecord), 1)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer pr.ReadStop()
	if n := pr.GetNumRows(); n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
	rows := make([]ParquetRecord, 2)
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if rows[0].Side != "bid" || rows[0].Price != 99 || rows[1].Side != "ask" || rows[1].Nonce != 7 || rows[1].Variant != "price" {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	snaps := w.metaGen.Snapshots()
	if len(snaps) != 1 || snaps[0].Summary["added-records"] != "2" {
		t.Fatalf("unexpected snapshots: %+v", snaps)
	}
}

func TestFlushUploadFailureSkipsManifest(t *testing.T) {
	w, err := newSnapshotWriter(testConfig(t), nil, &fakeStore{err: errors.New("boom")})
	if err != nil {
		t.Fatal(err)
	}
	w.addBatch(testBatch(1))
	w.flushBuffers("test")

	if len(w.metaGen.Snapshots()) != 0 {
		t.Fatalf("failed upload was registered")
	}
}

func TestStartStopFlushesOnShutdown(t *testing.T) {
	store := &fakeStore{}
	books := make(chan models.BookBatch, 1)
	w, err := newSnapshotWriter(testConfig(t), books, store)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(ctx); err == nil {
		t.Fatal("expected error on second start")
	}
	books <- testBatch(1)
	close(books)

	// the closed channel stops the worker once the batch is buffered
	deadline := time.Now().Add(2 * time.Second)
	for {
		w.mu.RLock()
		n := len(w.buffer)
		w.mu.RUnlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	w.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.objects) != 1 {
		t.Fatalf("objects = %d, want 1", len(store.objects))
	}
}

func TestTopOfBook(t *testing.T) {
	fields := topOfBook(testBatch(1))
	if fields["best_bid"] != 99.0 || fields["best_ask"] != 101.0 || fields["spread"] != 2.0 {
		t.Fatalf("fields = %v", fields)
	}

	oneSided := testBatch(1)
	oneSided.Entries = oneSided.Entries[:1]
	if _, ok := topOfBook(oneSided)["spread"]; ok {
		t.Fatalf("spread set for a one sided book")
	}
}

func TestTopOfBookLoggerLifecycle(t *testing.T) {
	books := make(chan models.BookBatch, 1)
	l := NewTopOfBookLogger(books)
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	books <- testBatch(1)
	cancel()
	l.Stop()
}

package writer

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "bookflow/config"
	"bookflow/models"
)

// commandRecorder answers every command locally and keeps its arguments.
type commandRecorder struct {
	cmds []string
}

func (r *commandRecorder) DialHook(next redis.DialHook) redis.DialHook { return next }

func (r *commandRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		r.cmds = append(r.cmds, fmt.Sprint(cmd.Args()))
		return nil
	}
}

func (r *commandRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			r.cmds = append(r.cmds, fmt.Sprint(cmd.Args()))
		}
		return nil
	}
}

func (r *commandRecorder) has(cmd string) bool {
	for _, c := range r.cmds {
		if c == cmd {
			return true
		}
	}
	return false
}

func TestBookCacheKey(t *testing.T) {
	c := &BookCache{config: &appconfig.Config{}}
	b := models.BookBatch{Exchange: "bitfinex", Market: "R0", Symbol: "BTCUSD", Variant: models.VariantRaw}
	if got := c.bookKey(b); got != "book:bitfinex:R0:BTCUSD:raw" {
		t.Fatalf("key = %s", got)
	}

	c.config.Storage.Redis.KeyPrefix = "ob"
	if got := c.bookKey(b); got != "ob:bitfinex:R0:BTCUSD:raw" {
		t.Fatalf("key = %s", got)
	}
}

func TestNewBookCacheUnreachable(t *testing.T) {
	cfg := &appconfig.Config{}
	// nothing listens on port 1
	cfg.Storage.Redis = appconfig.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewBookCache(ctx, cfg, nil); err == nil {
		t.Fatal("expected ping error")
	}
}

func TestBookCacheSetBook(t *testing.T) {
	cfg := &appconfig.Config{}
	cfg.Storage.Redis = appconfig.RedisConfig{KeyPrefix: "ob", TTL: time.Minute}
	rec := &commandRecorder{}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	rdb.AddHook(rec)
	defer rdb.Close()
	c := &BookCache{config: cfg, rdb: rdb}

	batch := models.BookBatch{
		Exchange: "bitfinex", Market: "R0", Symbol: "BTCUSD", Variant: models.VariantRaw,
		Nonce: 7, Datetime: "2023-11-14T22:13:20.000Z", Timestamp: time.UnixMilli(1700000000000),
		Entries: []models.BookLevelEntry{
			{Side: "bid", Level: 1, Price: 100, Amount: 0.5, OrderID: "1"},
			{Side: "bid", Level: 1, Price: 100, Amount: 0.25, OrderID: "2"},
			{Side: "ask", Level: 1, Price: 101.5, Amount: 1, OrderID: "3"},
		},
	}
	if err := c.SetBook(context.Background(), batch); err != nil {
		t.Fatalf("set book: %v", err)
	}

	const key = "ob:bitfinex:R0:BTCUSD:raw"
	if len(rec.cmds) < 2 || rec.cmds[0] != "[multi]" || rec.cmds[len(rec.cmds)-1] != "[exec]" {
		t.Fatalf("writes not wrapped in a transaction: %v", rec.cmds)
	}
	want := []string{
		fmt.Sprintf("[del %[1]s:bids %[1]s:asks %[1]s:bid:size %[1]s:ask:size %[1]s:bbo %[1]s:meta]", key),
		"[zadd " + key + ":bids 100 100|1]",
		"[zadd " + key + ":bids 100 100|2]",
		"[hset " + key + ":bid:size 100|2 0.25]",
		"[zadd " + key + ":asks 101.5 101.5|3]",
		"[hset " + key + ":bbo bid 100]",
		"[hset " + key + ":bbo ask 101.5]",
		"[hset " + key + ":bbo spread 1.5]",
		"[hset " + key + ":meta nonce 7 ts 1700000000000 datetime 2023-11-14T22:13:20.000Z]",
		"[expire " + key + ":meta 60]",
	}
	for _, w := range want {
		if !rec.has(w) {
			t.Errorf("missing command %s in %v", w, rec.cmds)
		}
	}
}

func TestBookCacheSetBookOneSided(t *testing.T) {
	cfg := &appconfig.Config{}
	rec := &commandRecorder{}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	rdb.AddHook(rec)
	defer rdb.Close()
	c := &BookCache{config: cfg, rdb: rdb}

	batch := models.BookBatch{
		Exchange: "binance", Market: "futures", Symbol: "BTCUSDT", Variant: models.VariantPrice,
		Entries: []models.BookLevelEntry{{Side: "bid", Level: 1, Price: 99, Amount: 2}},
	}
	if err := c.SetBook(context.Background(), batch); err != nil {
		t.Fatalf("set book: %v", err)
	}
	const key = "book:binance:futures:BTCUSDT:price"
	if !rec.has("[zadd "+key+":bids 99 99]") || !rec.has("[hset "+key+":bbo bid 99]") {
		t.Fatalf("bid side not written: %v", rec.cmds)
	}
	for _, cmd := range rec.cmds {
		if strings.Contains(cmd, ":bbo spread") || strings.HasPrefix(cmd, "[expire") {
			t.Fatalf("unexpected command %s", cmd)
		}
	}
}

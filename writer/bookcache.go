package writer

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

// cacheTimeout bounds a single cache write.
const cacheTimeout = 2 * time.Second

// BookCache keeps the latest limited state of every book in Redis.
//
// Key schema, with <book> = <prefix>:<exchange>:<market>:<symbol>:<variant>:
//
//	<book>:bids  sorted set of bid prices (score = price)
//	<book>:asks  sorted set of ask prices (score = price)
//	<book>:bid:size, <book>:ask:size  hash price -> amount
//
// Members of raw books are "<price>|<order id>".
//
//	<book>:bbo   hash with "bid", "ask" and "spread"
//	<book>:meta  hash with "nonce", "ts" and "datetime"
type BookCache struct {
	config  *appconfig.Config
	books   <-chan models.BookBatch
	rdb     *redis.Client
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

// NewBookCache connects to Redis and verifies the connection with a ping.
func NewBookCache(ctx context.Context, cfg *appconfig.Config, books <-chan models.BookBatch) (*BookCache, error) {
	rc := cfg.Storage.Redis
	opts := &redis.Options{
		Addr:       rc.Addr,
		Password:   rc.Password,
		DB:         rc.DB,
		PoolSize:   rc.PoolSize,
		MaxRetries: rc.MaxRetries,
	}
	if rc.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", rc.Addr, err)
	}

	return &BookCache{
		config: cfg,
		books:  books,
		rdb:    rdb,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}, nil
}

func (c *BookCache) bookKey(b models.BookBatch) string {
	prefix := c.config.Storage.Redis.KeyPrefix
	if prefix == "" {
		prefix = "book"
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s", prefix, b.Exchange, b.Market, b.Symbol, b.Variant)
}

func (c *BookCache) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("book cache already running")
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	c.log.WithComponent("book_cache").WithFields(logger.Fields{
		"addr":       c.config.Storage.Redis.Addr,
		"key_prefix": c.config.Storage.Redis.KeyPrefix,
	}).Info("starting book cache")

	c.wg.Add(1)
	go c.run()
	return nil
}

func (c *BookCache) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	if err := c.rdb.Close(); err != nil {
		c.log.WithComponent("book_cache").WithError(err).Warn("failed to close redis client")
	}
	c.log.WithComponent("book_cache").Info("book cache stopped")
}

func (c *BookCache) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case batch, ok := <-c.books:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(c.ctx, cacheTimeout)
			err := c.SetBook(ctx, batch)
			cancel()
			if err != nil && c.ctx.Err() == nil {
				c.log.WithComponent("book_cache").WithError(err).WithFields(logger.Fields{
					"exchange": batch.Exchange,
					"symbol":   batch.Symbol,
				}).Warn("failed to cache book")
			}
		}
	}
}

// SetBook atomically replaces the cached state of the batch's book.
func (c *BookCache) SetBook(ctx context.Context, b models.BookBatch) error {
	key := c.bookKey(b)
	bids, asks := key+":bids", key+":asks"
	bidSize, askSize := key+":bid:size", key+":ask:size"
	bbo, meta := key+":bbo", key+":meta"

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, bids, asks, bidSize, askSize, bbo, meta)

	for _, e := range b.Entries {
		price := strconv.FormatFloat(e.Price, 'f', -1, 64)
		amount := strconv.FormatFloat(e.Amount, 'f', -1, 64)
		// raw books hold several orders at one price
		member := price
		if e.OrderID != "" {
			member = price + "|" + e.OrderID
		}
		switch e.Side {
		case "bid":
			pipe.ZAdd(ctx, bids, redis.Z{Score: e.Price, Member: member})
			pipe.HSet(ctx, bidSize, member, amount)
		case "ask":
			pipe.ZAdd(ctx, asks, redis.Z{Score: e.Price, Member: member})
			pipe.HSet(ctx, askSize, member, amount)
		}
	}

	bid, ask := b.Best()
	if bid != nil {
		pipe.HSet(ctx, bbo, "bid", strconv.FormatFloat(bid.Price, 'f', -1, 64))
	}
	if ask != nil {
		pipe.HSet(ctx, bbo, "ask", strconv.FormatFloat(ask.Price, 'f', -1, 64))
	}
	if bid != nil && ask != nil {
		pipe.HSet(ctx, bbo, "spread", strconv.FormatFloat(ask.Price-bid.Price, 'f', -1, 64))
	}
	pipe.HSet(ctx, meta,
		"nonce", strconv.FormatInt(b.Nonce, 10),
		"ts", strconv.FormatInt(b.Timestamp.UnixMilli(), 10),
		"datetime", b.Datetime,
	)

	if ttl := c.config.Storage.Redis.TTL; ttl > 0 {
		for _, k := range []string{bids, asks, bidSize, askSize, bbo, meta} {
			pipe.Expire(ctx, k, ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", key, err)
	}
	return nil
}

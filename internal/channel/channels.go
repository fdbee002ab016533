package channel

import (
	"context"
	"sync"
	"time"

	"bookflow/logger"
	"bookflow/models"
)

type ChannelStats struct {
	RawSent     int64
	BookSent    int64
	RawDropped  int64
	BookDropped int64
}

// Channels carries raw exchange messages to the book keeper and limited
// book batches to the writers.
type Channels struct {
	Raw  chan models.RawBookMessage
	Book chan models.BookBatch

	stats      ChannelStats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

func NewChannels(rawBufferSize, bookBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:  make(chan models.RawBookMessage, rawBufferSize),
		Book: make(chan models.BookBatch, bookBufferSize),
		log:  log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer_size":  rawBufferSize,
		"book_buffer_size": bookBufferSize,
	}).Info("book channels initialized")

	return c
}

// Close closes both channels. Senders must be stopped first.
func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		close(c.Raw)
		close(c.Book)
		c.log.WithComponent("channels").Info("book channels closed")
	})
}

// SendRaw forwards msg without blocking. A full channel drops the message;
// the book keeper recovers from the resulting sequence gap.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawBookMessage) bool {
	select {
	case c.Raw <- msg:
		c.statsMutex.Lock()
		c.stats.RawSent++
		c.statsMutex.Unlock()
		logger.RecordChannelMessage("raw", len(msg.Data))
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.RawDropped++
		c.statsMutex.Unlock()
		return false
	}
}

// SendBook forwards batch without blocking.
func (c *Channels) SendBook(ctx context.Context, batch models.BookBatch) bool {
	select {
	case c.Book <- batch:
		c.statsMutex.Lock()
		c.stats.BookSent++
		c.statsMutex.Unlock()
		logger.IncrementBatchEmitted()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.BookDropped++
		c.statsMutex.Unlock()
		logger.IncrementBatchDropped()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting logs channel occupancy and counters every interval
// until ctx is done.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := c.GetStats()
				c.log.WithComponent("channels").WithFields(logger.Fields{
					"raw_len":      len(c.Raw),
					"raw_cap":      cap(c.Raw),
					"book_len":     len(c.Book),
					"book_cap":     cap(c.Book),
					"raw_sent":     stats.RawSent,
					"raw_dropped":  stats.RawDropped,
					"book_sent":    stats.BookSent,
					"book_dropped": stats.BookDropped,
				}).Info("channel statistics")
			}
		}
	}()
}

package writer

import (
	"context"
	"fmt"
	"sync"

	"bookflow/logger"
	"bookflow/models"
)

// TopOfBookLogger drains book batches and logs the best bid and ask of
// each. It is used when no object storage is configured.
type TopOfBookLogger struct {
	books   <-chan models.BookBatch
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewTopOfBookLogger(books <-chan models.BookBatch) *TopOfBookLogger {
	return &TopOfBookLogger{
		books: books,
		wg:    &sync.WaitGroup{},
		log:   logger.GetLogger(),
	}
}

func (t *TopOfBookLogger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("top of book logger already running")
	}
	t.running = true
	t.ctx = ctx
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run()
	return nil
}

func (t *TopOfBookLogger) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	t.wg.Wait()
	t.log.WithComponent("top_of_book").Info("top of book logger stopped")
}

func (t *TopOfBookLogger) run() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case batch, ok := <-t.books:
			if !ok {
				return
			}
			t.log.WithComponent("top_of_book").WithFields(topOfBook(batch)).Info("book update")
		}
	}
}

// topOfBook summarises a batch; the spread is only set when both sides
// have a level.
func topOfBook(batch models.BookBatch) logger.Fields {
	fields := logger.Fields{
		"exchange": batch.Exchange,
		"symbol":   batch.Symbol,
		"market":   batch.Market,
		"variant":  batch.Variant,
		"nonce":    batch.Nonce,
		"datetime": batch.Datetime,
		"levels":   batch.RecordCount,
	}
	bid, ask := batch.Best()
	if bid != nil {
		fields["best_bid"] = bid.Price
		fields["best_bid_amount"] = bid.Amount
	}
	if ask != nil {
		fields["best_ask"] = ask.Price
		fields["best_ask_amount"] = ask.Amount
	}
	if bid != nil && ask != nil {
		fields["spread"] = ask.Price - bid.Price
	}
	return fields
}

package processor

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "bookflow/config"
	"bookflow/internal/channel"
	"bookflow/internal/symbols"
	"bookflow/logger"
	"bookflow/models"
)

// Resyncer is implemented by readers able to deliver a fresh snapshot for a
// symbol, either by fetching one or by resubscribing.
type Resyncer interface {
	Resync(symbol string) error
}

// BookKeeper maintains one order book per exchange, market, symbol and
// variant. Raw messages are routed by book key to a fixed worker, so every
// book is only ever touched by a single goroutine.
type BookKeeper struct {
	config    *appconfig.Config
	channels  *channel.Channels
	resyncers map[string]Resyncer
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log

	workers []*worker
}

// bookState is owned by exactly one worker.
type bookState struct {
	key        string
	exchange   string
	market     string
	symbol     string
	variant    models.BookVariant
	book       trackedBook
	synced     bool
	firstDelta bool
	// dirty is set while changes are held back by the emit interval.
	dirty    bool
	pending  []models.BookEvent
	lastEmit time.Time
	resyncAt time.Time
}

type worker struct {
	id    int
	k     *BookKeeper
	in    chan models.RawBookMessage
	books map[string]*bookState
	log   *logger.Entry
}

func NewBookKeeper(cfg *appconfig.Config, ch *channel.Channels) *BookKeeper {
	return &BookKeeper{
		config:    cfg,
		channels:  ch,
		resyncers: make(map[string]Resyncer),
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
	}
}

// RegisterResyncer installs the snapshot source used for exchange after a
// sequence gap. It must be called before Start.
func (k *BookKeeper) RegisterResyncer(exchange string, r Resyncer) {
	k.mu.Lock()
	k.resyncers[exchange] = r
	k.mu.Unlock()
}

func (k *BookKeeper) Start(ctx context.Context) error {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		return fmt.Errorf("book keeper already running")
	}
	k.running = true
	k.ctx = ctx
	k.mu.Unlock()

	numWorkers := k.config.Processor.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	log := k.log.WithComponent("book_keeper").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting book keeper")

	k.workers = make([]*worker, numWorkers)
	for i := range k.workers {
		k.workers[i] = k.newWorker(i)
		k.wg.Add(1)
		go k.workers[i].run()
	}

	k.wg.Add(1)
	go k.dispatch()

	log.Info("book keeper started successfully")
	return nil
}

func (k *BookKeeper) Stop() {
	k.mu.Lock()
	k.running = false
	k.mu.Unlock()

	k.log.WithComponent("book_keeper").Info("stopping book keeper")
	k.wg.Wait()
	k.log.WithComponent("book_keeper").Info("book keeper stopped")
}

func (k *BookKeeper) newWorker(id int) *worker {
	return &worker{
		id:    id,
		k:     k,
		in:    make(chan models.RawBookMessage, k.config.Channels.RawBuffer/max(1, k.config.Processor.MaxWorkers)+1),
		books: make(map[string]*bookState),
		log: k.log.WithComponent("book_keeper").WithFields(logger.Fields{
			"worker_id": id,
		}),
	}
}

// route returns the worker index owning key.
func route(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// dispatch fans raw messages out to workers. Sends block so the per-book
// order of messages is kept.
func (k *BookKeeper) dispatch() {
	defer k.wg.Done()
	defer func() {
		for _, w := range k.workers {
			close(w.in)
		}
	}()

	for {
		select {
		case <-k.ctx.Done():
			return
		case raw, ok := <-k.channels.Raw:
			if !ok {
				return
			}
			key := models.BookKey(raw.Exchange, raw.Market, raw.Symbol, raw.Variant)
			w := k.workers[route(key, len(k.workers))]
			select {
			case w.in <- raw:
			case <-k.ctx.Done():
				return
			}
		}
	}
}

func (w *worker) run() {
	defer w.k.wg.Done()
	w.log.Info("starting book keeper worker")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.k.ctx.Done():
			w.log.Info("worker stopped due to context cancellation")
			return
		case raw, ok := <-w.in:
			if !ok {
				w.log.Info("input closed, worker stopping")
				return
			}
			w.process(raw)
		case now := <-ticker.C:
			w.retryResyncs(now)
			w.flushDirty(now)
		}
	}
}

func (w *worker) process(raw models.RawBookMessage) {
	ev, err := ParseRaw(raw)
	if err != nil {
		logger.IncrementParseError()
		w.log.WithError(err).WithFields(logger.Fields{
			"exchange":     raw.Exchange,
			"symbol":       raw.Symbol,
			"message_type": raw.MessageType,
		}).Warn("failed to parse book message")
		return
	}
	w.handle(ev, time.Now())
}

func (w *worker) state(ev models.BookEvent) *bookState {
	key := ev.Key()
	st, ok := w.books[key]
	if !ok {
		st = &bookState{
			key:      key,
			exchange: ev.Exchange,
			market:   ev.Market,
			symbol:   ev.Symbol,
			variant:  ev.Variant,
		}
		w.books[key] = st
	}
	return st
}

func (w *worker) handle(ev models.BookEvent, now time.Time) {
	st := w.state(ev)
	switch ev.Kind {
	case models.KindSnapshot:
		w.applySnapshot(st, ev, now)
	case models.KindDelta:
		if !st.synced {
			w.buffer(st, ev)
			return
		}
		if !w.applyDelta(st, ev, now) {
			return
		}
	default:
		w.log.WithFields(logger.Fields{"kind": ev.Kind, "book": st.key}).Warn("unknown event kind")
		return
	}
	st.dirty = true
	w.maybeEmit(st, now)
}

func (w *worker) applySnapshot(st *bookState, ev models.BookEvent, now time.Time) {
	if st.book == nil {
		st.book = newTrackedBook(ev)
	} else {
		st.book.reset(ev)
	}
	st.synced = true
	st.firstDelta = true
	st.resyncAt = time.Time{}
	logger.IncrementSnapshotApplied()

	pending := st.pending
	st.pending = nil
	for _, d := range pending {
		if !st.synced {
			// a replayed delta opened a new gap; keep the rest for the next snapshot
			w.buffer(st, d)
			continue
		}
		w.applyDelta(st, d, now)
	}
}

// applyDelta applies ev unless it is stale or out of sequence. It reports
// whether the book changed. A delta naming the book's nonce as its
// predecessor is always applied, even when the venue restarted its sequence
// at a lower number.
func (w *worker) applyDelta(st *bookState, ev models.BookEvent, now time.Time) bool {
	current := st.book.nonce()
	chained := ev.PrevNonce != 0 && ev.PrevNonce == current
	if !chained && ev.Nonce != 0 && current != 0 && ev.Nonce <= current {
		logger.IncrementStaleDelta()
		return false
	}
	if gap(ev, current, st.firstDelta) {
		logger.IncrementGap()
		w.log.WithFields(logger.Fields{
			"book":        st.key,
			"book_nonce":  current,
			"first_nonce": ev.FirstNonce,
			"prev_nonce":  ev.PrevNonce,
			"nonce":       ev.Nonce,
		}).Warn("sequence gap detected, resyncing book")
		st.synced = false
		st.pending = st.pending[:0]
		w.buffer(st, ev)
		w.requestResync(st, ev.Exchange, ev.Symbol, now)
		return false
	}

	st.book.apply(ev)
	nonce := ev.Nonce
	if nonce == 0 {
		nonce = current
	}
	st.book.stamp(ev.Timestamp, nonce)
	st.firstDelta = false
	logger.IncrementDeltaApplied()
	return true
}

// gap reports whether ev does not follow a book at nonce. A delta chaining
// on nonce always follows. Otherwise the first delta after a snapshot only
// has to cover nonce+1, and later deltas must chain on their predecessor
// when the venue publishes it.
func gap(ev models.BookEvent, nonce int64, first bool) bool {
	if nonce == 0 || (ev.PrevNonce != 0 && ev.PrevNonce == nonce) {
		return false
	}
	switch {
	case first && ev.FirstNonce != 0:
		return ev.FirstNonce > nonce+1
	case ev.PrevNonce != 0:
		return ev.PrevNonce != nonce
	case ev.FirstNonce != 0:
		return ev.FirstNonce > nonce+1
	}
	return false
}

func (w *worker) buffer(st *bookState, ev models.BookEvent) {
	limit := w.k.config.Processor.PendingLimit
	if limit > 0 && len(st.pending) >= limit {
		copy(st.pending, st.pending[1:])
		st.pending = st.pending[:len(st.pending)-1]
	}
	st.pending = append(st.pending, ev)
}

func (w *worker) requestResync(st *bookState, exchange, symbol string, now time.Time) {
	st.resyncAt = now
	w.k.mu.RLock()
	r, ok := w.k.resyncers[exchange]
	w.k.mu.RUnlock()
	if !ok {
		return
	}
	logger.IncrementResync()
	if err := r.Resync(symbol); err != nil {
		w.log.WithError(err).WithFields(logger.Fields{
			"exchange": exchange,
			"symbol":   symbol,
		}).Warn("resync request failed")
	}
}

// retryResyncs asks again for books that stayed unsynced longer than the
// reader timeout.
func (w *worker) retryResyncs(now time.Time) {
	timeout := w.k.config.Reader.Timeout
	if timeout <= 0 {
		return
	}
	for _, st := range w.books {
		if st.synced || st.resyncAt.IsZero() || now.Sub(st.resyncAt) < timeout || len(st.pending) == 0 {
			continue
		}
		ev := st.pending[len(st.pending)-1]
		w.requestResync(st, ev.Exchange, ev.Symbol, now)
	}
}

// flushDirty emits synced books whose last changes were held back by the
// emit interval and which saw no event since.
func (w *worker) flushDirty(now time.Time) {
	for _, st := range w.books {
		if st.dirty && st.synced {
			w.maybeEmit(st, now)
		}
	}
}

func (w *worker) maybeEmit(st *bookState, now time.Time) {
	if interval := w.k.config.Processor.EmitInterval; interval > 0 && now.Sub(st.lastEmit) < interval {
		return
	}
	st.lastEmit = now
	st.dirty = false

	entries := st.book.top(w.k.depth(st.exchange))
	ts, datetime := st.book.meta()
	nonce := st.book.nonce()
	symbol := symbols.Normalize(st.exchange, st.symbol)
	for i := range entries {
		e := &entries[i]
		e.Exchange = st.exchange
		e.Symbol = symbol
		e.Market = st.market
		e.Variant = st.variant
		e.Timestamp = ts
		e.Nonce = nonce
	}

	stamped := now.UTC()
	if ts != 0 {
		stamped = time.UnixMilli(ts).UTC()
	}
	batch := models.BookBatch{
		BatchID:     uuid.NewString(),
		Exchange:    st.exchange,
		Symbol:      symbol,
		Market:      st.market,
		Variant:     st.variant,
		Nonce:       nonce,
		Datetime:    datetime,
		Entries:     entries,
		RecordCount: len(entries),
		Timestamp:   stamped,
		ProcessedAt: now,
	}
	if !w.k.channels.SendBook(w.k.ctx, batch) {
		w.log.WithFields(logger.Fields{"book": st.key}).Debug("book batch dropped")
	}
}

func (k *BookKeeper) depth(exchange string) int {
	switch exchange {
	case "binance":
		return k.config.Source.Binance.Depth
	case "bybit":
		return k.config.Source.Bybit.Depth
	case "okx":
		return k.config.Source.Okx.Depth
	case "bitfinex":
		return k.config.Source.Bitfinex.Depth
	}
	return 0
}

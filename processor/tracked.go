package processor

import (
	"bookflow/models"
	"bookflow/orderbook"
)

// trackedBook adapts one orderbook variant to the keeper.
type trackedBook interface {
	reset(ev models.BookEvent)
	apply(ev models.BookEvent)
	stamp(timestamp, nonce int64)
	nonce() int64
	meta() (timestamp int64, datetime string)
	// top orders the book and returns its best depth levels flattened,
	// bids first. The book itself keeps every level.
	top(depth int) []models.BookLevelEntry
}

// newTrackedBook builds an untrimmed book: levels past the emitted depth
// move into view once better ones are removed.
func newTrackedBook(ev models.BookEvent) trackedBook {
	switch ev.Variant {
	case models.VariantRaw:
		return &rawBook{book: orderbook.NewRawOrderBook(indexedSnapshot(ev), 0)}
	case models.VariantIndexed:
		return &indexedBook{book: orderbook.NewIndexedOrderBook(indexedSnapshot(ev), 0)}
	case models.VariantCounted:
		return &countedBook{book: orderbook.NewCountedOrderBook(countedSnapshot(ev), 0)}
	default:
		return &priceBook{book: orderbook.NewOrderBook(priceSnapshot(ev), 0)}
	}
}

func flatten[L any](side string, levels []L, depth int, fill func(*models.BookLevelEntry, L), out []models.BookLevelEntry) []models.BookLevelEntry {
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	for i, l := range levels {
		e := models.BookLevelEntry{Side: side, Level: i + 1}
		fill(&e, l)
		out = append(out, e)
	}
	return out
}

type priceBook struct {
	book *orderbook.OrderBook
}

func priceSnapshot(ev models.BookEvent) orderbook.Snapshot[orderbook.PriceLevel] {
	conv := func(us []models.LevelUpdate) []orderbook.PriceLevel {
		out := make([]orderbook.PriceLevel, len(us))
		for i, u := range us {
			out[i] = orderbook.PriceLevel{Price: u.Price, Amount: u.Amount}
		}
		return out
	}
	return orderbook.Snapshot[orderbook.PriceLevel]{
		Bids: conv(ev.Bids), Asks: conv(ev.Asks),
		Timestamp: ev.Timestamp, Nonce: ev.Nonce, Symbol: ev.Symbol,
	}
}

func (b *priceBook) reset(ev models.BookEvent) { b.book.Reset(priceSnapshot(ev)) }

func (b *priceBook) apply(ev models.BookEvent) {
	for _, u := range ev.Bids {
		b.book.Bids.Store(u.Price, u.Amount)
	}
	for _, u := range ev.Asks {
		b.book.Asks.Store(u.Price, u.Amount)
	}
}

func (b *priceBook) stamp(timestamp, nonce int64) { b.book.Stamp(timestamp, nonce) }
func (b *priceBook) nonce() int64                 { return b.book.Nonce }
func (b *priceBook) meta() (int64, string)        { return b.book.Timestamp, b.book.Datetime }

func (b *priceBook) top(depth int) []models.BookLevelEntry {
	b.book.Limit()
	fill := func(e *models.BookLevelEntry, l orderbook.PriceLevel) {
		e.Price, e.Amount = l.Price, l.Amount
	}
	out := make([]models.BookLevelEntry, 0, 2*max(depth, 0))
	out = flatten("bid", b.book.Bids.Levels(), depth, fill, out)
	return flatten("ask", b.book.Asks.Levels(), depth, fill, out)
}

type indexedBook struct {
	book *orderbook.IndexedOrderBook
}

func indexedSnapshot(ev models.BookEvent) orderbook.Snapshot[orderbook.IndexedLevel] {
	conv := func(us []models.LevelUpdate) []orderbook.IndexedLevel {
		out := make([]orderbook.IndexedLevel, len(us))
		for i, u := range us {
			out[i] = orderbook.IndexedLevel{Price: u.Price, Amount: u.Amount, ID: u.ID}
		}
		return out
	}
	return orderbook.Snapshot[orderbook.IndexedLevel]{
		Bids: conv(ev.Bids), Asks: conv(ev.Asks),
		Timestamp: ev.Timestamp, Nonce: ev.Nonce, Symbol: ev.Symbol,
	}
}

func (b *indexedBook) reset(ev models.BookEvent) { b.book.Reset(indexedSnapshot(ev)) }

func (b *indexedBook) apply(ev models.BookEvent) {
	for _, u := range ev.Bids {
		b.book.Bids.Store(u.Price, u.Amount, u.ID)
	}
	for _, u := range ev.Asks {
		b.book.Asks.Store(u.Price, u.Amount, u.ID)
	}
}

func (b *indexedBook) stamp(timestamp, nonce int64) { b.book.Stamp(timestamp, nonce) }
func (b *indexedBook) nonce() int64                 { return b.book.Nonce }
func (b *indexedBook) meta() (int64, string)        { return b.book.Timestamp, b.book.Datetime }

func (b *indexedBook) top(depth int) []models.BookLevelEntry {
	b.book.Limit()
	fill := func(e *models.BookLevelEntry, l orderbook.IndexedLevel) {
		e.Price, e.Amount, e.OrderID = l.Price, l.Amount, l.ID
	}
	out := make([]models.BookLevelEntry, 0, 2*max(depth, 0))
	out = flatten("bid", b.book.Bids.Levels(), depth, fill, out)
	return flatten("ask", b.book.Asks.Levels(), depth, fill, out)
}

type countedBook struct {
	book *orderbook.CountedOrderBook
}

func countedSnapshot(ev models.BookEvent) orderbook.Snapshot[orderbook.CountedLevel] {
	conv := func(us []models.LevelUpdate) []orderbook.CountedLevel {
		out := make([]orderbook.CountedLevel, len(us))
		for i, u := range us {
			out[i] = orderbook.CountedLevel{Price: u.Price, Amount: u.Amount, Count: u.Count}
		}
		return out
	}
	return orderbook.Snapshot[orderbook.CountedLevel]{
		Bids: conv(ev.Bids), Asks: conv(ev.Asks),
		Timestamp: ev.Timestamp, Nonce: ev.Nonce, Symbol: ev.Symbol,
	}
}

func (b *countedBook) reset(ev models.BookEvent) { b.book.Reset(countedSnapshot(ev)) }

func (b *countedBook) apply(ev models.BookEvent) {
	for _, u := range ev.Bids {
		b.book.Bids.Store(u.Price, u.Amount, u.Count)
	}
	for _, u := range ev.Asks {
		b.book.Asks.Store(u.Price, u.Amount, u.Count)
	}
}

func (b *countedBook) stamp(timestamp, nonce int64) { b.book.Stamp(timestamp, nonce) }
func (b *countedBook) nonce() int64                 { return b.book.Nonce }
func (b *countedBook) meta() (int64, string)        { return b.book.Timestamp, b.book.Datetime }

func (b *countedBook) top(depth int) []models.BookLevelEntry {
	b.book.Limit()
	fill := func(e *models.BookLevelEntry, l orderbook.CountedLevel) {
		e.Price, e.Amount, e.Count = l.Price, l.Amount, l.Count
	}
	out := make([]models.BookLevelEntry, 0, 2*max(depth, 0))
	out = flatten("bid", b.book.Bids.Levels(), depth, fill, out)
	return flatten("ask", b.book.Asks.Levels(), depth, fill, out)
}

type rawBook struct {
	book *orderbook.RawOrderBook
}

func (b *rawBook) reset(ev models.BookEvent) { b.book.Reset(indexedSnapshot(ev)) }

func (b *rawBook) apply(ev models.BookEvent) {
	for _, u := range ev.Bids {
		b.book.Bids.Store(u.Price, u.Amount, u.ID)
	}
	for _, u := range ev.Asks {
		b.book.Asks.Store(u.Price, u.Amount, u.ID)
	}
}

func (b *rawBook) stamp(timestamp, nonce int64) { b.book.Stamp(timestamp, nonce) }
func (b *rawBook) nonce() int64                 { return b.book.Nonce }
func (b *rawBook) meta() (int64, string)        { return b.book.Timestamp, b.book.Datetime }

// top emits one row per order for the best depth prices. Orders sharing a
// price share its level number.
func (b *rawBook) top(depth int) []models.BookLevelEntry {
	b.book.Limit()
	out := make([]models.BookLevelEntry, 0, 2*max(depth, 0))
	out = flattenOrders("bid", b.book.Bids.Levels(), depth, out)
	return flattenOrders("ask", b.book.Asks.Levels(), depth, out)
}

func flattenOrders(side string, orders []orderbook.IndexedLevel, depth int, out []models.BookLevelEntry) []models.BookLevelEntry {
	level := 0
	for i, o := range orders {
		if i == 0 || o.Price != orders[i-1].Price {
			level++
		}
		if depth > 0 && level > depth {
			break
		}
		out = append(out, models.BookLevelEntry{Side: side, Level: level, Price: o.Price, Amount: o.Amount, OrderID: o.ID})
	}
	return out
}

package orderbook

// side is what a Book needs from its bids and asks.
type side[L level] interface {
	reset(levels []L)
	limit(depth int)
	Len() int
}

// Book pairs a bid side and an ask side with snapshot metadata.
//
// Bids and Asks are only in order (bids descending, asks ascending) and
// trimmed to the configured depth after Limit. The book keeps its identity
// and the identity of both sides across Reset.
type Book[L level, S side[L]] struct {
	Bids      S
	Asks      S
	Timestamp int64
	Datetime  string
	Nonce     int64
	Symbol    string

	depth int
}

// OrderBook is a book of plain price levels.
type OrderBook = Book[PriceLevel, *Side]

// IndexedOrderBook is a book of id-owned levels.
type IndexedOrderBook = Book[IndexedLevel, *IndexedSide]

// CountedOrderBook is a book of levels carrying an order count.
type CountedOrderBook = Book[CountedLevel, *CountedSide]

// RawOrderBook is a book of individual orders. Its depth counts prices, not
// orders.
type RawOrderBook = Book[IndexedLevel, *OrderSide]

// NewOrderBook builds a book from snapshot. A depth of zero or less keeps
// every level.
func NewOrderBook(snapshot Snapshot[PriceLevel], depth int) *OrderBook {
	return newBook(NewSide(nil, true), NewSide(nil, false), snapshot, depth)
}

// NewIndexedOrderBook builds an indexed book from snapshot.
func NewIndexedOrderBook(snapshot Snapshot[IndexedLevel], depth int) *IndexedOrderBook {
	return newBook(NewIndexedSide(nil, true), NewIndexedSide(nil, false), snapshot, depth)
}

// NewCountedOrderBook builds a counted book from snapshot.
func NewCountedOrderBook(snapshot Snapshot[CountedLevel], depth int) *CountedOrderBook {
	return newBook(NewCountedSide(nil, true), NewCountedSide(nil, false), snapshot, depth)
}

// NewRawOrderBook builds an order-level book from snapshot.
func NewRawOrderBook(snapshot Snapshot[IndexedLevel], depth int) *RawOrderBook {
	return newBook(NewOrderSide(nil, true), NewOrderSide(nil, false), snapshot, depth)
}

func newBook[L level, S side[L]](bids, asks S, snapshot Snapshot[L], depth int) *Book[L, S] {
	b := &Book[L, S]{Bids: bids, Asks: asks, depth: depth}
	b.Reset(snapshot)
	return b
}

// Reset replaces the content of the book with snapshot.
func (b *Book[L, S]) Reset(snapshot Snapshot[L]) {
	b.Bids.reset(snapshot.Bids)
	b.Asks.reset(snapshot.Asks)
	b.Symbol = snapshot.Symbol
	b.Stamp(snapshot.Timestamp, snapshot.Nonce)
}

// Limit orders both sides and trims them to the book depth.
func (b *Book[L, S]) Limit() *Book[L, S] {
	b.Bids.limit(b.depth)
	b.Asks.limit(b.depth)
	return b
}

// Stamp records the timestamp and nonce of the last applied update.
func (b *Book[L, S]) Stamp(timestamp, nonce int64) {
	b.Timestamp = timestamp
	b.Datetime = ISO8601(timestamp)
	b.Nonce = nonce
}

// Depth returns the configured depth, zero meaning unlimited.
func (b *Book[L, S]) Depth() int {
	if b.depth < 0 {
		return 0
	}
	return b.depth
}

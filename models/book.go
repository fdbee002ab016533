package models

import (
	"time"
)

// BookVariant selects the kind of order book a feed maintains.
type BookVariant string

const (
	// VariantPrice books are keyed by price only.
	VariantPrice BookVariant = "price"
	// VariantIndexed books are keyed by order or level identifier.
	VariantIndexed BookVariant = "indexed"
	// VariantCounted books carry the number of orders per price level.
	VariantCounted BookVariant = "counted"
	// VariantRaw books hold individual orders; several may share a price.
	VariantRaw BookVariant = "raw"
)

// EventKind tells snapshots from deltas.
type EventKind string

const (
	KindSnapshot EventKind = "snapshot"
	KindDelta    EventKind = "delta"
)

// RawBookMessage wraps an undecoded order book message from any exchange.
type RawBookMessage struct {
	Exchange    string
	Symbol      string
	Market      string
	Variant     BookVariant
	MessageType string
	Data        []byte
	Timestamp   time.Time
}

// LevelUpdate is one parsed (price, amount[, id|count]) tuple.
// Amount zero means the level is removed.
type LevelUpdate struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
	ID     string  `json:"id,omitempty"`
	Count  int64   `json:"count,omitempty"`
}

// BookEvent is a decoded snapshot or delta ready to be applied to a book.
//
// FirstNonce and PrevNonce are optional sequencing hints: FirstNonce is the
// first update id folded into the event, PrevNonce the last update id of the
// previous event on the stream. Zero means the venue does not provide them.
type BookEvent struct {
	Exchange   string        `json:"exchange"`
	Symbol     string        `json:"symbol"`
	Market     string        `json:"market"`
	Variant    BookVariant   `json:"variant"`
	Kind       EventKind     `json:"kind"`
	FirstNonce int64         `json:"first_nonce"`
	Nonce      int64         `json:"nonce"`
	PrevNonce  int64         `json:"prev_nonce"`
	Timestamp  int64         `json:"timestamp"`
	Bids       []LevelUpdate `json:"bids"`
	Asks       []LevelUpdate `json:"asks"`
	ReceivedAt time.Time     `json:"received_at"`
}

// Key identifies the book an event belongs to.
func (e BookEvent) Key() string {
	return BookKey(e.Exchange, e.Market, e.Symbol, e.Variant)
}

// BookKey builds the identifier used for routing and buffering books.
func BookKey(exchange, market, symbol string, variant BookVariant) string {
	return exchange + "|" + market + "|" + symbol + "|" + string(variant)
}

// BookLevelEntry is one level of a limited book flattened into a row.
type BookLevelEntry struct {
	Exchange  string      `json:"exchange"`
	Symbol    string      `json:"symbol"`
	Market    string      `json:"market"`
	Variant   BookVariant `json:"variant"`
	Timestamp int64       `json:"timestamp"`
	Nonce     int64       `json:"nonce"`
	Side      string      `json:"side"` // "bid" or "ask"
	Price     float64     `json:"price"`
	Amount    float64     `json:"amount"`
	OrderID   string      `json:"order_id,omitempty"`
	Count     int64       `json:"count,omitempty"`
	Level     int         `json:"level"` // 1 = best, 2 = second best, etc.
}

// BookBatch is the flattened, depth-limited state of one book at one point
// in time.
type BookBatch struct {
	BatchID     string           `json:"batch_id"`
	Exchange    string           `json:"exchange"`
	Symbol      string           `json:"symbol"`
	Market      string           `json:"market"`
	Variant     BookVariant      `json:"variant"`
	Nonce       int64            `json:"nonce"`
	Datetime    string           `json:"datetime"`
	Entries     []BookLevelEntry `json:"entries"`
	RecordCount int              `json:"record_count"`
	Timestamp   time.Time        `json:"timestamp"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// Best returns the first bid and ask entries of the batch.
func (b BookBatch) Best() (bid, ask *BookLevelEntry) {
	for i := range b.Entries {
		e := &b.Entries[i]
		if e.Level != 1 {
			continue
		}
		switch e.Side {
		case "bid":
			bid = e
		case "ask":
			ask = e
		}
	}
	return bid, ask
}

// Package orderbook maintains sorted bid/ask price ladders that are updated
// incrementally from exchange snapshots and deltas.
//
// Sides accept stores in any order and are only guaranteed to be sorted after
// the owning book's Limit call. A book is not safe for concurrent use; it must
// be confined to a single goroutine.
package orderbook

import "time"

// PriceLevel is a single aggregated price level.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// IndexedLevel is a price level owned by an exchange order or level identifier.
type IndexedLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
	ID     string  `json:"id"`
}

// CountedLevel is a price level together with the number of orders resting on it.
type CountedLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
	Count  int64   `json:"count"`
}

func (l PriceLevel) levelPrice() float64   { return l.Price }
func (l IndexedLevel) levelPrice() float64 { return l.Price }
func (l CountedLevel) levelPrice() float64 { return l.Price }

type level interface {
	levelPrice() float64
}

// Snapshot is the full state of a book used to build or rehydrate it.
// Timestamp is in milliseconds since the epoch, zero meaning unknown.
type Snapshot[L level] struct {
	Bids      []L
	Asks      []L
	Timestamp int64
	Nonce     int64
	Symbol    string
}

const iso8601 = "2006-01-02T15:04:05.000Z"

// ISO8601 renders a millisecond timestamp the way books expose Datetime.
// Zero yields an empty string.
func ISO8601(timestamp int64) string {
	if timestamp == 0 {
		return ""
	}
	return time.UnixMilli(timestamp).UTC().Format(iso8601)
}

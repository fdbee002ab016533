package orderbook

import (
	"math/rand"
	"reflect"
	"testing"
)

func fixtureSnapshot() Snapshot[PriceLevel] {
	return Snapshot[PriceLevel]{
		Bids: []PriceLevel{
			{10.0, 10}, {9.1, 11}, {8.2, 12}, {7.3, 13}, {6.4, 14}, {4.5, 13}, {4.5, 0},
		},
		Asks: []PriceLevel{
			{16.6, 10}, {15.5, 11}, {14.4, 12}, {13.3, 13}, {12.2, 14}, {11.1, 13},
		},
		Timestamp: 1574827239000,
		Nonce:     69,
		Symbol:    "BTC/USDT",
	}
}

func TestOrderBookLimit(t *testing.T) {
	book := NewOrderBook(fixtureSnapshot(), 0)
	book.Limit()

	wantBids := []PriceLevel{{10.0, 10}, {9.1, 11}, {8.2, 12}, {7.3, 13}, {6.4, 14}}
	wantAsks := []PriceLevel{{11.1, 13}, {12.2, 14}, {13.3, 13}, {14.4, 12}, {15.5, 11}, {16.6, 10}}
	if got := book.Bids.Levels(); !reflect.DeepEqual(got, wantBids) {
		t.Fatalf("bids = %v, want %v", got, wantBids)
	}
	if got := book.Asks.Levels(); !reflect.DeepEqual(got, wantAsks) {
		t.Fatalf("asks = %v, want %v", got, wantAsks)
	}
	if book.Symbol != "BTC/USDT" || book.Nonce != 69 || book.Timestamp != 1574827239000 {
		t.Fatalf("metadata not copied: %+v", book)
	}
	if book.Datetime != "2019-11-27T04:00:39.000Z" {
		t.Fatalf("datetime = %q", book.Datetime)
	}
}

func TestOrderBookLimitDepth(t *testing.T) {
	book := NewOrderBook(fixtureSnapshot(), 5)
	book.Limit()

	wantAsks := []PriceLevel{{11.1, 13}, {12.2, 14}, {13.3, 13}, {14.4, 12}, {15.5, 11}}
	if got := book.Asks.Levels(); !reflect.DeepEqual(got, wantAsks) {
		t.Fatalf("asks = %v, want %v", got, wantAsks)
	}
	if book.Bids.Len() != 5 {
		t.Fatalf("expected 5 bids, got %d", book.Bids.Len())
	}
	if book.Depth() != 5 {
		t.Fatalf("depth = %d", book.Depth())
	}
}

func TestOrderBookLimitIdempotent(t *testing.T) {
	book := NewOrderBook(fixtureSnapshot(), 4)
	book.Bids.Store(9.5, 1)
	book.Asks.Store(11.5, 1)

	book.Limit()
	bids := append([]PriceLevel(nil), book.Bids.Levels()...)
	asks := append([]PriceLevel(nil), book.Asks.Levels()...)
	book.Limit()

	if !reflect.DeepEqual(bids, book.Bids.Levels()) || !reflect.DeepEqual(asks, book.Asks.Levels()) {
		t.Fatalf("second limit changed the book: %v/%v -> %v/%v", bids, asks, book.Bids.Levels(), book.Asks.Levels())
	}
}

func TestOrderBookStoreAfterLimit(t *testing.T) {
	book := NewOrderBook(fixtureSnapshot(), 0)
	book.Limit()

	book.Bids.Store(9.5, 3)
	book.Bids.Store(8.2, 0)
	book.Asks.Store(10.5, 2)
	book.Asks.Store(16.6, 7)
	book.Limit()

	wantBids := []PriceLevel{{10.0, 10}, {9.5, 3}, {9.1, 11}, {7.3, 13}, {6.4, 14}}
	wantAsks := []PriceLevel{{10.5, 2}, {11.1, 13}, {12.2, 14}, {13.3, 13}, {14.4, 12}, {15.5, 11}, {16.6, 7}}
	if got := book.Bids.Levels(); !reflect.DeepEqual(got, wantBids) {
		t.Fatalf("bids = %v, want %v", got, wantBids)
	}
	if got := book.Asks.Levels(); !reflect.DeepEqual(got, wantAsks) {
		t.Fatalf("asks = %v, want %v", got, wantAsks)
	}
}

func TestOrderBookReset(t *testing.T) {
	book := NewOrderBook(Snapshot[PriceLevel]{
		Bids:   []PriceLevel{{1, 1}, {2, 2}},
		Asks:   []PriceLevel{{3, 3}},
		Nonce:  1,
		Symbol: "ETH/USDT",
	}, 5)
	bids, asks := book.Bids, book.Asks
	ref := book

	book.Reset(fixtureSnapshot())
	book.Limit()

	fresh := NewOrderBook(fixtureSnapshot(), 5)
	fresh.Limit()

	if ref != book || book.Bids != bids || book.Asks != asks {
		t.Fatalf("reset replaced book or side identity")
	}
	if !reflect.DeepEqual(book.Bids.Levels(), fresh.Bids.Levels()) ||
		!reflect.DeepEqual(book.Asks.Levels(), fresh.Asks.Levels()) {
		t.Fatalf("reset book %v/%v differs from fresh %v/%v",
			book.Bids.Levels(), book.Asks.Levels(), fresh.Bids.Levels(), fresh.Asks.Levels())
	}
	if book.Symbol != fresh.Symbol || book.Nonce != fresh.Nonce ||
		book.Timestamp != fresh.Timestamp || book.Datetime != fresh.Datetime {
		t.Fatalf("reset metadata %+v differs from fresh %+v", book, fresh)
	}
}

func TestOrderBookStampWithoutTimestamp(t *testing.T) {
	book := NewOrderBook(fixtureSnapshot(), 0)
	book.Stamp(0, 70)
	if book.Datetime != "" || book.Timestamp != 0 || book.Nonce != 70 {
		t.Fatalf("unexpected metadata after stamp: %+v", book)
	}
}

func TestOrderBookSortInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	book := NewOrderBook(Snapshot[PriceLevel]{}, 0)
	model := map[bool]map[float64]float64{true: {}, false: {}}

	for i := 0; i < 5000; i++ {
		bids := rng.Intn(2) == 0
		price := float64(rng.Intn(200)) / 4
		amount := 0.0
		if rng.Intn(3) > 0 {
			amount = float64(rng.Intn(50) + 1)
		}
		s := book.Asks
		if bids {
			s = book.Bids
		}
		s.Store(price, amount)
		if amount == 0 {
			delete(model[bids], price)
		} else {
			model[bids][price] = amount
		}
		if i%97 == 0 {
			book.Limit()
		}
	}
	book.Limit()

	for _, s := range []*Side{book.Bids, book.Asks} {
		levels := s.Levels()
		if len(levels) != len(model[s.Bids()]) {
			t.Fatalf("side bids=%v has %d levels, model has %d", s.Bids(), len(levels), len(model[s.Bids()]))
		}
		for i, l := range levels {
			if model[s.Bids()][l.Price] != l.Amount {
				t.Fatalf("level %v does not match model amount %v", l, model[s.Bids()][l.Price])
			}
			if i == 0 {
				continue
			}
			prev := levels[i-1].Price
			if s.Bids() && prev <= l.Price {
				t.Fatalf("bids out of order at %d: %v then %v", i, prev, l.Price)
			}
			if !s.Bids() && prev >= l.Price {
				t.Fatalf("asks out of order at %d: %v then %v", i, prev, l.Price)
			}
		}
	}
}

func TestSideBest(t *testing.T) {
	s := NewSide([]PriceLevel{{1, 1}, {3, 1}, {2, 1}}, true)
	best, ok := s.Best()
	if !ok || best.Price != 3 {
		t.Fatalf("best bid = %v, %v", best, ok)
	}
	empty := NewSide(nil, false)
	if _, ok := empty.Best(); ok {
		t.Fatalf("expected no best level on empty side")
	}
}

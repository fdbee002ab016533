package orderbook

import "sort"

// OrderSide is a side of individual resting orders. Unlike IndexedSide,
// several orders may rest at one price; within a price they keep arrival
// order.
type OrderSide struct {
	bids   bool
	orders map[string]restingOrder
	seq    uint64
	levels []IndexedLevel
	stale  bool
}

type restingOrder struct {
	IndexedLevel
	seq uint64
}

// NewOrderSide builds an order side from snapshot orders.
func NewOrderSide(orders []IndexedLevel, bids bool) *OrderSide {
	s := &OrderSide{bids: bids, orders: make(map[string]restingOrder, len(orders))}
	s.reset(orders)
	return s
}

// Store applies an order update keyed by id.
//
// A zero amount removes the order. A zero price, or the order's current
// price, only amends its amount. Any other price requeues the order at the
// back of that price. Amendments of unknown ids without a price are ignored.
func (s *OrderSide) Store(price, amount float64, id string) {
	o, known := s.orders[id]
	switch {
	case amount == 0:
		if !known {
			return
		}
		delete(s.orders, id)
	case known && (price == 0 || price == o.Price):
		o.Amount = amount
		s.orders[id] = o
	case price == 0:
		return
	default:
		s.seq++
		s.orders[id] = restingOrder{IndexedLevel: IndexedLevel{Price: price, Amount: amount, ID: id}, seq: s.seq}
	}
	s.stale = true
}

// Apply stores each order in order.
func (s *OrderSide) Apply(orders ...IndexedLevel) {
	for _, o := range orders {
		s.Store(o.Price, o.Amount, o.ID)
	}
}

// PriceOf returns the price the order id rests at.
func (s *OrderSide) PriceOf(id string) (float64, bool) {
	o, ok := s.orders[id]
	return o.Price, ok
}

// Levels returns the orders best price first. The result reflects the side
// as of the owning book's last Limit and must not be modified.
func (s *OrderSide) Levels() []IndexedLevel { return s.levels }

// Len returns the number of resting orders.
func (s *OrderSide) Len() int { return len(s.orders) }

func (s *OrderSide) reset(orders []IndexedLevel) {
	clear(s.orders)
	s.seq = 0
	s.stale = true
	s.Apply(orders...)
}

// limit keeps the orders of the best depth prices.
func (s *OrderSide) limit(depth int) {
	if !s.stale {
		return
	}
	buf := make([]restingOrder, 0, len(s.orders))
	for _, o := range s.orders {
		buf = append(buf, o)
	}
	sort.Slice(buf, func(i, j int) bool {
		a, b := buf[i], buf[j]
		if a.Price != b.Price {
			if s.bids {
				return a.Price > b.Price
			}
			return a.Price < b.Price
		}
		return a.seq < b.seq
	})

	clear(s.levels)
	s.levels = s.levels[:0]
	prices := 0
	for i, o := range buf {
		if i == 0 || o.Price != buf[i-1].Price {
			prices++
		}
		if depth > 0 && prices > depth {
			delete(s.orders, o.ID)
			continue
		}
		s.levels = append(s.levels, o.IndexedLevel)
	}
	s.stale = false
}

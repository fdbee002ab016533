package orderbook

import "sort"

// ladder is the storage shared by every side variant: an unsorted-until-asked
// slice of levels with unique prices.
type ladder[L level] struct {
	bids   bool
	levels []L
	sorted bool
}

func (l *ladder[L]) find(price float64) int {
	for i := range l.levels {
		if l.levels[i].levelPrice() == price {
			return i
		}
	}
	return -1
}

// removeAt keeps the relative order of the remaining levels so a sorted
// ladder stays sorted.
func (l *ladder[L]) removeAt(i int) {
	copy(l.levels[i:], l.levels[i+1:])
	var zero L
	l.levels[len(l.levels)-1] = zero
	l.levels = l.levels[:len(l.levels)-1]
}

func (l *ladder[L]) push(lvl L) {
	if l.sorted && len(l.levels) > 0 {
		last, p := l.levels[len(l.levels)-1].levelPrice(), lvl.levelPrice()
		l.sorted = (l.bids && p < last) || (!l.bids && p > last)
	}
	l.levels = append(l.levels, lvl)
}

func (l *ladder[L]) clear() {
	clear(l.levels)
	l.levels = l.levels[:0]
	l.sorted = true
}

func (l *ladder[L]) order() {
	if l.sorted {
		return
	}
	if l.bids {
		sort.SliceStable(l.levels, func(i, j int) bool {
			return l.levels[i].levelPrice() > l.levels[j].levelPrice()
		})
	} else {
		sort.SliceStable(l.levels, func(i, j int) bool {
			return l.levels[i].levelPrice() < l.levels[j].levelPrice()
		})
	}
	l.sorted = true
}

// truncate drops everything past depth and returns the dropped levels. The
// returned slice aliases internal storage and is only valid until the next
// mutation.
func (l *ladder[L]) truncate(depth int) []L {
	if depth <= 0 || len(l.levels) <= depth {
		return nil
	}
	dropped := l.levels[depth:]
	l.levels = l.levels[:depth]
	return dropped
}

// Levels returns the stored levels. They are in side order only after the
// owning book's Limit; the slice must not be modified and is invalidated by
// the next Store.
func (l *ladder[L]) Levels() []L { return l.levels }

// Len returns the number of levels on the side.
func (l *ladder[L]) Len() int { return len(l.levels) }

// Bids reports whether the side holds bids (descending) rather than asks.
func (l *ladder[L]) Bids() bool { return l.bids }

// Best returns the top of the side. The side is ordered first.
func (l *ladder[L]) Best() (L, bool) {
	var zero L
	if len(l.levels) == 0 {
		return zero, false
	}
	l.order()
	return l.levels[0], true
}

// Side is the base price-keyed side of an order book.
type Side struct {
	ladder[PriceLevel]
}

// NewSide builds a side from snapshot levels. Levels are stored in the given
// order; sorting is left to Limit.
func NewSide(levels []PriceLevel, bids bool) *Side {
	s := &Side{ladder: ladder[PriceLevel]{bids: bids, sorted: true}}
	s.reset(levels)
	return s
}

// Store upserts the level at price. A zero amount removes it.
func (s *Side) Store(price, amount float64) {
	i := s.find(price)
	if amount == 0 {
		if i >= 0 {
			s.removeAt(i)
		}
		return
	}
	if i >= 0 {
		s.levels[i].Amount = amount
		return
	}
	s.push(PriceLevel{Price: price, Amount: amount})
}

// Apply stores each level in order.
func (s *Side) Apply(levels ...PriceLevel) {
	for _, l := range levels {
		s.Store(l.Price, l.Amount)
	}
}

func (s *Side) reset(levels []PriceLevel) {
	s.clear()
	s.Apply(levels...)
}

func (s *Side) limit(depth int) {
	s.order()
	s.truncate(depth)
}

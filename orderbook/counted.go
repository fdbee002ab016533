package orderbook

// CountedSide is a price-keyed side that also tracks how many orders make up
// each level. Stores replace the level's aggregate state; they are not
// accumulated.
type CountedSide struct {
	ladder[CountedLevel]
}

// NewCountedSide builds a counted side from snapshot levels.
func NewCountedSide(levels []CountedLevel, bids bool) *CountedSide {
	s := &CountedSide{ladder: ladder[CountedLevel]{bids: bids, sorted: true}}
	s.reset(levels)
	return s
}

// Store sets the level at price to (amount, count). A zero amount or a zero
// count removes the level.
func (s *CountedSide) Store(price, amount float64, count int64) {
	i := s.find(price)
	if amount == 0 || count == 0 {
		if i >= 0 {
			s.removeAt(i)
		}
		return
	}
	if i >= 0 {
		s.levels[i].Amount = amount
		s.levels[i].Count = count
		return
	}
	s.push(CountedLevel{Price: price, Amount: amount, Count: count})
}

// Apply stores each level in order.
func (s *CountedSide) Apply(levels ...CountedLevel) {
	for _, l := range levels {
		s.Store(l.Price, l.Amount, l.Count)
	}
}

func (s *CountedSide) reset(levels []CountedLevel) {
	s.clear()
	s.Apply(levels...)
}

func (s *CountedSide) limit(depth int) {
	s.order()
	s.truncate(depth)
}

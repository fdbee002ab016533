package orderbook

// IndexedSide is a side whose levels are owned by identifiers. Updates and
// deletes are keyed by id; a price slot holds at most one level.
type IndexedSide struct {
	ladder[IndexedLevel]
	ids map[string]float64
}

// NewIndexedSide builds an indexed side from snapshot levels.
func NewIndexedSide(levels []IndexedLevel, bids bool) *IndexedSide {
	s := &IndexedSide{
		ladder: ladder[IndexedLevel]{bids: bids, sorted: true},
		ids:    make(map[string]float64, len(levels)),
	}
	s.reset(levels)
	return s
}

// Store applies an id-keyed update.
//
// A zero amount removes the level owned by id, whatever price is given. A
// known id is moved to price, or only amended when price is zero. When the
// target price already belongs to another id, that level is replaced and its
// id forgotten.
func (s *IndexedSide) Store(price, amount float64, id string) {
	if amount == 0 {
		s.remove(id)
		return
	}
	if old, ok := s.ids[id]; ok {
		if price == 0 {
			price = old
		}
		i := s.find(old)
		if price == old && i >= 0 {
			s.levels[i].Amount = amount
			return
		}
		if i >= 0 {
			s.removeAt(i)
		}
		delete(s.ids, id)
	}
	lvl := IndexedLevel{Price: price, Amount: amount, ID: id}
	s.ids[id] = price
	if j := s.find(price); j >= 0 {
		if prev := s.levels[j].ID; prev != id {
			delete(s.ids, prev)
		}
		s.levels[j] = lvl
		return
	}
	s.push(lvl)
}

// Apply stores each level in order.
func (s *IndexedSide) Apply(levels ...IndexedLevel) {
	for _, l := range levels {
		s.Store(l.Price, l.Amount, l.ID)
	}
}

// PriceOf returns the price currently owned by id.
func (s *IndexedSide) PriceOf(id string) (float64, bool) {
	p, ok := s.ids[id]
	return p, ok
}

func (s *IndexedSide) remove(id string) {
	price, ok := s.ids[id]
	if !ok {
		return
	}
	delete(s.ids, id)
	if i := s.find(price); i >= 0 {
		s.removeAt(i)
	}
}

func (s *IndexedSide) reset(levels []IndexedLevel) {
	s.clear()
	clear(s.ids)
	s.Apply(levels...)
}

func (s *IndexedSide) limit(depth int) {
	s.order()
	dropped := s.truncate(depth)
	for _, l := range dropped {
		delete(s.ids, l.ID)
	}
	clear(dropped)
}

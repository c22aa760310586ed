package domain

// Balance is one venue's holding of a single currency. It is mutated only by
// the execution path that owns that venue, one trade at a time.
type Balance struct {
	VenueID   string
	Currency  string
	Total     float64
	Available float64
	Reserved  float64
}

// Reserve moves qty from available to reserved. Callers must have verified
// sufficient available balance first.
func (b *Balance) Reserve(qty float64) {
	b.Available -= qty
	b.Reserved += qty
}

// Release returns qty from reserved to available (order cancelled).
func (b *Balance) Release(qty float64) {
	b.Reserved -= qty
	b.Available += qty
}

// Settle removes qty from reserved and total (order filled, funds spent).
func (b *Balance) Settle(qty float64) {
	b.Reserved -= qty
	b.Total -= qty
}

// Credit adds qty to both total and available.
func (b *Balance) Credit(qty float64) {
	b.Total += qty
	b.Available += qty
}

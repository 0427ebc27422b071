package domain

import "time"

// Inventory is the durable stock row. Quantity is what remains after committed
// orders; the live counter in the cache runs ahead of it by the reservations
// that are still in flight.
type Inventory struct {
	ItemID    string
	Quantity  int64
	Sales     int64
	Version   int // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemStock is the cache tier's view of one item.
type ItemStock struct {
	ItemID    string
	Available int64
	SoldOut   bool
}

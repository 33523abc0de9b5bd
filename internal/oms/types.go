package oms

import "time"

// Order is one entry from the changed-orders listing. It carries the
// identifying fields plus the business payload applied by the sync engine.
// The zero OrderNumber is never valid; listings with missing numbers are
// rejected at decode time.
type Order struct {
	ExternalID  string    `json:"id"`
	OrderNumber string    `json:"order_number"`
	Status      string    `json:"status"`
	Customer    string    `json:"customer_name"`
	TotalCents  int64     `json:"total_cents"`
	Currency    string    `json:"currency"`
	PlacedAt    time.Time `json:"placed_at"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// OrderDetail is the full per-order payload from the detail endpoint.
// The listing carries enough for classification; the detail call fills in
// line items when an import needs them.
type OrderDetail struct {
	Order

	Lines []OrderLine `json:"lines"`
}

// OrderLine is a single line item on an order detail.
type OrderLine struct {
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitCents int64  `json:"unit_cents"`
}

// ordersPage mirrors the paged listing response JSON structure.
// Unexported — callers receive accumulated []Order values.
type ordersPage struct {
	Orders     []Order `json:"orders"`
	NextCursor string  `json:"next_cursor"`
}

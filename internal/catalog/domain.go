package catalog

import "time"

// Product is the catalog read model consumed by the quotation
// workflow: current name, image, unit price and available stock.
type Product struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	ImageURL  string    `json:"image_url"`
	Price     float64   `json:"price"`
	Stock     int       `json:"stock"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockPolicy controls how a stock mutation treats the zero floor.
// Cart-style callers keep the floor guard; the legacy quotation
// conversion path decrements unconditionally. Both call sites go
// through AdjustStock so the asymmetry is visible in one place.
type StockPolicy struct {
	AllowNegative bool
}

// ListFilters narrows product listings.
type ListFilters struct {
	Search   string
	IsActive *bool
	Limit    int
	Offset   int
}

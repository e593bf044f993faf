package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ListingActive   = "ACTIVE"
	ListingInactive = "INACTIVE"
	ListingSold     = "SOLD"
)

// Listing is a sellable posting. A bundle listing aggregates several variants
// sold together at a discounted price while enough of them remain unsold.
type Listing struct {
	ID                   string          `json:"id" db:"id"`
	SellerID             string          `json:"seller_id" db:"seller_id"`
	Title                string          `json:"title" db:"title"`
	Status               string          `json:"status" db:"status"`
	IsBundle             bool            `json:"is_bundle" db:"is_bundle"`
	BundleDiscountPct    decimal.Decimal `json:"bundle_discount_pct" db:"bundle_discount_pct"`
	BundlePrice          int64           `json:"bundle_price" db:"bundle_price"` // in cents
	RemainingBundlePrice *int64          `json:"remaining_bundle_price,omitempty" db:"remaining_bundle_price"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// Variant is one sellable configuration of a listing with its own price and
// stock count. Invariant: is_available == (quantity > 0 && !is_sold).
type Variant struct {
	ID          string    `json:"id" db:"id"`
	ListingID   string    `json:"listing_id" db:"listing_id"`
	Price       int64     `json:"price" db:"price"` // in cents
	Quantity    int       `json:"quantity" db:"quantity"`
	IsAvailable bool      `json:"is_available" db:"is_available"`
	IsSold      bool      `json:"is_sold" db:"is_sold"`
	Version     int       `json:"version" db:"version"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

package models

import (
	"time"
)

const OrderCompleted = "COMPLETED"

// Order is the immutable record of one completed purchase. Created exactly
// once per successful purchase; its id doubles as the idempotency key for the
// ledger entries it produced.
type Order struct {
	ID              string    `json:"id" db:"id"`
	BuyerID         string    `json:"buyer_id" db:"buyer_id"`
	SellerID        string    `json:"seller_id" db:"seller_id"`
	ListingID       string    `json:"listing_id" db:"listing_id"`
	TotalAmount     int64     `json:"total_amount" db:"total_amount"` // in cents, incl. shipping
	ShippingCost    int64     `json:"shipping_cost" db:"shipping_cost"`
	PlatformFee     int64     `json:"platform_fee" db:"platform_fee"`
	ShippingAddress string    `json:"shipping_address" db:"shipping_address"`
	Status          string    `json:"status" db:"status"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

type OrderItem struct {
	ID        int    `json:"id" db:"id"`
	OrderID   string `json:"order_id" db:"order_id"`
	VariantID string `json:"variant_id" db:"variant_id"`
	Price     int64  `json:"price" db:"price"` // in cents, price paid
}

package services

import (
	"database/sql"
	"log"

	"github.com/shopspring/decimal"
)

// BundleService keeps a bundle listing's price consistent as its variants
// sell off. Invoked inside the purchase transaction whenever a variant's
// is_sold flips true.
type BundleService struct {
	db *sql.DB
}

func NewBundleService(db *sql.DB) *BundleService {
	return &BundleService{db: db}
}

// RepriceTx recomputes remaining_bundle_price from the still-available
// variants. The percentage discount only holds while two or more variants
// remain; a single leftover variant sells at full price. With nothing left
// the listing itself is marked sold.
func (s *BundleService) RepriceTx(tx *sql.Tx, listingID string) error {
	var isBundle bool
	var discountPct decimal.Decimal
	err := tx.QueryRow(`
		SELECT is_bundle, bundle_discount_pct
		FROM listings
		WHERE id = $1
		FOR UPDATE`, listingID).Scan(&isBundle, &discountPct)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !isBundle {
		return nil
	}

	var remaining int
	var remainingSum int64
	err = tx.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(price), 0)
		FROM variants
		WHERE listing_id = $1 AND is_available = true AND is_sold = false`,
		listingID).Scan(&remaining, &remainingSum)
	if err != nil {
		return err
	}

	if remaining == 0 {
		_, err = tx.Exec(`
			UPDATE listings
			SET status = 'SOLD', remaining_bundle_price = NULL, updated_at = NOW()
			WHERE id = $1`, listingID)
		if err == nil {
			log.Printf("[BUNDLE] Listing %s sold out, bundle closed", listingID)
		}
		return err
	}

	price := remainingSum
	if remaining >= 2 && discountPct.IsPositive() {
		hundred := decimal.NewFromInt(100)
		price = decimal.NewFromInt(remainingSum).
			Mul(hundred.Sub(discountPct)).
			Div(hundred).
			Round(0).
			IntPart()
	}

	_, err = tx.Exec(`
		UPDATE listings
		SET remaining_bundle_price = $1, updated_at = NOW()
		WHERE id = $2`, price, listingID)
	if err == nil {
		log.Printf("[BUNDLE] Listing %s repriced: %d variants remain, bundle price %d", listingID, remaining, price)
	}
	return err
}

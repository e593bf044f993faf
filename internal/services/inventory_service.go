package services

import (
	"database/sql"
)

// InventoryService guards sellable stock. The decrement is a single
// conditional UPDATE so two concurrent purchases of the last unit can never
// both succeed.
type InventoryService struct {
	db *sql.DB
}

func NewInventoryService(db *sql.DB) *InventoryService {
	return &InventoryService{db: db}
}

// DecrementResult reports the variant state after a successful reservation.
type DecrementResult struct {
	ListingID string
	Quantity  int
	IsSold    bool
}

// ReserveAndDecrementTx checks availability and takes one unit in a single
// statement. The WHERE guard carries the whole invariant: if another
// transaction got the last unit first, zero rows match and the caller gets
// ErrVariantUnavailable.
func (s *InventoryService) ReserveAndDecrementTx(tx *sql.Tx, variantID string) (*DecrementResult, error) {
	var res DecrementResult
	err := tx.QueryRow(`
		UPDATE variants
		SET quantity = quantity - 1,
		    is_available = quantity - 1 > 0,
		    is_sold = quantity - 1 <= 0,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND is_available = true AND quantity > 0
		RETURNING listing_id, quantity, is_sold`,
		variantID).Scan(&res.ListingID, &res.Quantity, &res.IsSold)
	if err == sql.ErrNoRows {
		return nil, ErrVariantUnavailable
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

package services

import (
	"context"
	"database/sql"
	"log"

	"github.com/tradepost/backend/internal/audit"
	"github.com/tradepost/backend/internal/models"
)

// EscrowService holds cash committed inside a trade. A hold debits the
// buyer's available balance without crediting anyone; release moves the held
// amount to the seller exactly once.
type EscrowService struct {
	db     *sql.DB
	ledger *LedgerService
	audit  *audit.Logger
}

func NewEscrowService(db *sql.DB, ledger *LedgerService) *EscrowService {
	return &EscrowService{
		db:     db,
		ledger: ledger,
		audit:  audit.NewLogger(),
	}
}

// HoldTx earmarks the offer's cash amount from the buyer inside the caller's
// transaction.
func (s *EscrowService) HoldTx(tx *sql.Tx, offer *models.TradeOffer) error {
	if offer.CashAmount <= 0 {
		return nil
	}

	account, err := s.ledger.LockAccountByUserTx(tx, offer.BuyerID)
	if err != nil {
		return err
	}

	if _, err := s.ledger.DebitTx(tx, account.ID, offer.CashAmount, models.EntryEscrowHold, offer.ID); err != nil {
		return err
	}

	_, err = tx.Exec(`
		UPDATE trade_offers
		SET escrow_amount = $1, updated_at = NOW()
		WHERE id = $2`, offer.CashAmount, offer.ID)
	if err != nil {
		return err
	}

	s.audit.LogOperation(offer.ID, account.ID, "ESCROW_HOLD", "escrow funded")
	return nil
}

// Release credits the held amount to the seller. Idempotent: the
// escrow_released flag is checked under a row lock before any credit, so a
// second call never double-credits.
func (s *EscrowService) Release(ctx context.Context, offerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var offer models.TradeOffer
	err = tx.QueryRow(`
		SELECT id, buyer_id, seller_id, escrow_amount, escrow_released
		FROM trade_offers
		WHERE id = $1
		FOR UPDATE`, offerID).Scan(&offer.ID, &offer.BuyerID, &offer.SellerID, &offer.EscrowAmount, &offer.EscrowReleased)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if offer.EscrowReleased {
		log.Printf("[ESCROW] Release for offer %s already done, skipping", offerID)
		return nil
	}

	if offer.EscrowAmount > 0 {
		account, err := s.ledger.LockAccountByUserTx(tx, offer.SellerID)
		if err != nil {
			return err
		}
		if _, err := s.ledger.CreditTx(tx, account.ID, offer.EscrowAmount, models.EntryEscrowRelease, offer.ID); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`
		UPDATE trade_offers
		SET escrow_released = true, updated_at = NOW()
		WHERE id = $1`, offerID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.audit.LogOperation(offerID, offer.SellerID, "ESCROW_RELEASE", "escrow released to seller")
	return nil
}

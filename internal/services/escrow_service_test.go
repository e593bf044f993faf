package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/tradepost/backend/internal/models"
)

func TestEscrowService_HoldTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEscrowService(db, NewLedgerService(db))

	t.Run("debits the buyer and records the hold", func(t *testing.T) {
		offer := &models.TradeOffer{ID: "offer1", BuyerID: "buyer1", SellerID: "seller1", CashAmount: 3000}

		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT id, available_balance, pending_balance, version, updated_at").
			WithArgs("buyer1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "available_balance", "pending_balance", "version", "updated_at"}).
				AddRow("acct-buyer", 5000, 0, 1, time.Now()))
		expectNoPriorEntry(mock, "offer1", models.EntryEscrowHold, models.EntryStatusCompleted)
		expectLockAccount(mock, "acct-buyer", 5000, 0, 1)
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-buyer", models.EntryEscrowHold, int64(-3000), int64(2000), "offer1", models.EntryStatusCompleted, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(2000), sqlmock.AnyArg(), "acct-buyer", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE trade_offers").
			WithArgs(int64(3000), "offer1").
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, service.HoldTx(tx, offer))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pure item swap holds nothing", func(t *testing.T) {
		offer := &models.TradeOffer{ID: "offer2", BuyerID: "buyer1", SellerID: "seller1", CashAmount: 0}

		mock.ExpectBegin()
		tx, _ := db.Begin()

		assert.NoError(t, service.HoldTx(tx, offer))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds", func(t *testing.T) {
		offer := &models.TradeOffer{ID: "offer3", BuyerID: "buyer1", SellerID: "seller1", CashAmount: 9000}

		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT id, available_balance, pending_balance, version, updated_at").
			WithArgs("buyer1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "available_balance", "pending_balance", "version", "updated_at"}).
				AddRow("acct-buyer", 5000, 0, 1, time.Now()))
		expectNoPriorEntry(mock, "offer3", models.EntryEscrowHold, models.EntryStatusCompleted)
		expectLockAccount(mock, "acct-buyer", 5000, 0, 1)

		assert.ErrorIs(t, service.HoldTx(tx, offer), ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEscrowService_Release(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEscrowService(db, NewLedgerService(db))

	expectOfferLock := func(offerID string, escrowAmount int64, released bool) {
		mock.ExpectQuery("SELECT id, buyer_id, seller_id, escrow_amount, escrow_released").
			WithArgs(offerID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "buyer_id", "seller_id", "escrow_amount", "escrow_released"}).
				AddRow(offerID, "buyer1", "seller1", escrowAmount, released))
	}

	t.Run("credits the seller once", func(t *testing.T) {
		mock.ExpectBegin()
		expectOfferLock("offer1", 3000, false)
		mock.ExpectQuery("SELECT id, available_balance, pending_balance, version, updated_at").
			WithArgs("seller1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "available_balance", "pending_balance", "version", "updated_at"}).
				AddRow("acct-seller", 1000, 0, 4, time.Now()))
		expectNoPriorEntry(mock, "offer1", models.EntryEscrowRelease, models.EntryStatusCompleted)
		expectLockAccount(mock, "acct-seller", 1000, 0, 4)
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-seller", models.EntryEscrowRelease, int64(3000), int64(4000), "offer1", models.EntryStatusCompleted, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(4000), sqlmock.AnyArg(), "acct-seller", 4).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE trade_offers").
			WithArgs("offer1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		assert.NoError(t, service.Release(context.Background(), "offer1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second release is a no-op", func(t *testing.T) {
		mock.ExpectBegin()
		expectOfferLock("offer1", 3000, true)
		mock.ExpectRollback()

		assert.NoError(t, service.Release(context.Background(), "offer1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero escrow still flips the flag", func(t *testing.T) {
		mock.ExpectBegin()
		expectOfferLock("offer2", 0, false)
		mock.ExpectExec("UPDATE trade_offers").
			WithArgs("offer2").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		assert.NoError(t, service.Release(context.Background(), "offer2"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing offer", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, buyer_id, seller_id, escrow_amount, escrow_released").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		assert.ErrorIs(t, service.Release(context.Background(), "ghost"), ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/tradepost/backend/internal/models"
)

func TestPurchaseService_Purchase(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewPurchaseService(db, nil, NewLedgerService(db), NewInventoryService(db), NewBundleService(db))

	expectNoExistingOrder := func(orderID string) {
		mock.ExpectQuery("SELECT id, buyer_id, seller_id, listing_id, total_amount").
			WithArgs(orderID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
	}
	expectListing := func(listingID, sellerID, status string, isBundle bool) {
		mock.ExpectQuery("SELECT id, seller_id, status, is_bundle").
			WithArgs(listingID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "status", "is_bundle"}).
				AddRow(listingID, sellerID, status, isBundle))
	}
	expectVariant := func(variantID, listingID string, price int64, quantity int) {
		mock.ExpectQuery("SELECT id, listing_id, price, quantity, is_available, is_sold").
			WithArgs(variantID, listingID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "listing_id", "price", "quantity", "is_available", "is_sold"}).
				AddRow(variantID, listingID, price, quantity, true, false))
	}
	expectAccountByUser := func(userID, accountID string, available, pending int64, version int) {
		mock.ExpectQuery("SELECT id, available_balance, pending_balance, version, updated_at").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "available_balance", "pending_balance", "version", "updated_at"}).
				AddRow(accountID, available, pending, version, time.Now()))
	}

	t.Run("successful purchase", func(t *testing.T) {
		// Variant at 100.00 plus 5.00 shipping: buyer pays 105.00, the
		// seller's pending balance grows by 99.75 after the 5% fee.
		req := &PurchaseRequest{ListingID: "listing1", VariantID: "variant1", ShippingAddress: "1 Main St"}
		orderID := "order1"

		mock.ExpectBegin()
		expectNoExistingOrder(orderID)
		expectListing("listing1", "seller1", models.ListingActive, false)
		expectVariant("variant1", "listing1", 10000, 3)

		// Buyer debit
		expectAccountByUser("buyer1", "acct-buyer", 20000, 0, 1)
		expectNoPriorEntry(mock, orderID, models.EntryPurchase, models.EntryStatusCompleted)
		expectLockAccount(mock, "acct-buyer", 20000, 0, 1)
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-buyer", models.EntryPurchase, int64(-10500), int64(9500), orderID, models.EntryStatusCompleted, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(9500), sqlmock.AnyArg(), "acct-buyer", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Stock decrement leaves two units
		mock.ExpectQuery("UPDATE variants").
			WithArgs("variant1").
			WillReturnRows(sqlmock.NewRows([]string{"listing_id", "quantity", "is_sold"}).
				AddRow("listing1", 2, false))

		mock.ExpectExec("INSERT INTO orders").
			WithArgs(orderID, "buyer1", "seller1", "listing1", int64(10500), int64(500), int64(525), "1 Main St", models.OrderCompleted, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO order_items").
			WithArgs(orderID, "variant1", int64(10000)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Seller settlement into pending balance
		expectAccountByUser("seller1", "acct-seller", 0, 0, 2)
		expectNoPriorEntry(mock, orderID, models.EntrySettlement, models.EntryStatusPending)
		expectLockAccount(mock, "acct-seller", 0, 0, 2)
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-seller", models.EntrySettlement, int64(9975), int64(9975), orderID, models.EntryStatusPending, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(9975), sqlmock.AnyArg(), "acct-seller", 2).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		order, replayed, err := service.Purchase(context.Background(), "buyer1", orderID, req)
		assert.NoError(t, err)
		assert.False(t, replayed)
		assert.Equal(t, int64(10500), order.TotalAmount)
		assert.Equal(t, int64(525), order.PlatformFee)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate order replays without side effects", func(t *testing.T) {
		req := &PurchaseRequest{ListingID: "listing1", VariantID: "variant1", ShippingAddress: "1 Main St"}
		orderID := "order1"

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, buyer_id, seller_id, listing_id, total_amount").
			WithArgs(orderID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "buyer_id", "seller_id", "listing_id", "total_amount", "shipping_cost", "platform_fee", "shipping_address", "status", "created_at"}).
				AddRow(orderID, "buyer1", "seller1", "listing1", 10500, 500, 525, "1 Main St", models.OrderCompleted, time.Now()))
		mock.ExpectRollback()

		order, replayed, err := service.Purchase(context.Background(), "buyer1", orderID, req)
		assert.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, int64(10500), order.TotalAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("multi-variant listing requires a variant id", func(t *testing.T) {
		req := &PurchaseRequest{ListingID: "listing2", ShippingAddress: "1 Main St"}

		mock.ExpectBegin()
		expectNoExistingOrder("order2")
		expectListing("listing2", "seller1", models.ListingActive, true)
		mock.ExpectQuery("SELECT COUNT").
			WithArgs("listing2").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectRollback()

		_, _, err := service.Purchase(context.Background(), "buyer1", "order2", req)
		assert.ErrorIs(t, err, ErrVariantRequired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive listing", func(t *testing.T) {
		req := &PurchaseRequest{ListingID: "listing3", VariantID: "variant3", ShippingAddress: "1 Main St"}

		mock.ExpectBegin()
		expectNoExistingOrder("order3")
		expectListing("listing3", "seller1", models.ListingSold, false)
		mock.ExpectRollback()

		_, _, err := service.Purchase(context.Background(), "buyer1", "order3", req)
		assert.ErrorIs(t, err, ErrListingNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds", func(t *testing.T) {
		req := &PurchaseRequest{ListingID: "listing1", VariantID: "variant1", ShippingAddress: "1 Main St"}
		orderID := "order4"

		mock.ExpectBegin()
		expectNoExistingOrder(orderID)
		expectListing("listing1", "seller1", models.ListingActive, false)
		expectVariant("variant1", "listing1", 10000, 3)
		expectAccountByUser("buyer1", "acct-buyer", 1000, 0, 1)
		expectNoPriorEntry(mock, orderID, models.EntryPurchase, models.EntryStatusCompleted)
		expectLockAccount(mock, "acct-buyer", 1000, 0, 1)
		mock.ExpectRollback()

		_, _, err := service.Purchase(context.Background(), "buyer1", orderID, req)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sold-out variant rolls the debit back", func(t *testing.T) {
		req := &PurchaseRequest{ListingID: "listing1", VariantID: "variant1", ShippingAddress: "1 Main St"}
		orderID := "order5"

		mock.ExpectBegin()
		expectNoExistingOrder(orderID)
		expectListing("listing1", "seller1", models.ListingActive, false)
		expectVariant("variant1", "listing1", 10000, 1)
		expectAccountByUser("buyer1", "acct-buyer", 20000, 0, 1)
		expectNoPriorEntry(mock, orderID, models.EntryPurchase, models.EntryStatusCompleted)
		expectLockAccount(mock, "acct-buyer", 20000, 0, 1)
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-buyer", models.EntryPurchase, int64(-10500), int64(9500), orderID, models.EntryStatusCompleted, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(9500), sqlmock.AnyArg(), "acct-buyer", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Another buyer got the last unit first
		mock.ExpectQuery("UPDATE variants").
			WithArgs("variant1").
			WillReturnRows(sqlmock.NewRows([]string{"listing_id", "quantity", "is_sold"}))
		mock.ExpectRollback()

		_, _, err := service.Purchase(context.Background(), "buyer1", orderID, req)
		assert.ErrorIs(t, err, ErrVariantUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestInventoryService_ReserveAndDecrementTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewInventoryService(db)

	t.Run("successful decrement", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("UPDATE variants").
			WithArgs("variant1").
			WillReturnRows(sqlmock.NewRows([]string{"listing_id", "quantity", "is_sold"}).
				AddRow("listing1", 2, false))

		res, err := service.ReserveAndDecrementTx(tx, "variant1")
		assert.NoError(t, err)
		assert.Equal(t, "listing1", res.ListingID)
		assert.Equal(t, 2, res.Quantity)
		assert.False(t, res.IsSold)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("last unit flips is_sold", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("UPDATE variants").
			WithArgs("variant2").
			WillReturnRows(sqlmock.NewRows([]string{"listing_id", "quantity", "is_sold"}).
				AddRow("listing1", 0, true))

		res, err := service.ReserveAndDecrementTx(tx, "variant2")
		assert.NoError(t, err)
		assert.Equal(t, 0, res.Quantity)
		assert.True(t, res.IsSold)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unavailable variant", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		// Guard matched nothing: already sold or out of stock
		mock.ExpectQuery("UPDATE variants").
			WithArgs("variant3").
			WillReturnRows(sqlmock.NewRows([]string{"listing_id", "quantity", "is_sold"}))

		_, err := service.ReserveAndDecrementTx(tx, "variant3")
		assert.ErrorIs(t, err, ErrVariantUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

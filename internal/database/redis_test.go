package database

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestEnqueue(t *testing.T) {
	t.Run("pushes the marshaled payload", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		payload := map[string]string{"event": "order_completed", "order_id": "order1"}

		mock.ExpectRPush("notification_queue", []byte(`{"event":"order_completed","order_id":"order1"}`)).SetVal(1)

		err := Enqueue(context.Background(), rdb, "notification_queue", payload)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil client is a no-op", func(t *testing.T) {
		err := Enqueue(context.Background(), nil, "notification_queue", map[string]string{"k": "v"})
		assert.NoError(t, err)
	})

	t.Run("unmarshalable payload", func(t *testing.T) {
		rdb, _ := redismock.NewClientMock()

		err := Enqueue(context.Background(), rdb, "notification_queue", make(chan int))
		assert.Error(t, err)
	})
}

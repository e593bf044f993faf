package services

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/tradepost/backend/internal/models"
)

type MockPayoutRail struct {
	mock.Mock
}

func (m *MockPayoutRail) SendCredit(ctx context.Context, withdrawal *models.Withdrawal) error {
	args := m.Called(ctx, withdrawal)
	return args.Error(0)
}

type MockFairnessScorer struct {
	mock.Mock
}

func (m *MockFairnessScorer) Score(ctx context.Context, offer *models.TradeOffer) (float64, error) {
	args := m.Called(ctx, offer)
	return args.Get(0).(float64), args.Error(1)
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"github.com/tradepost/backend/internal/models"
)

// FairnessScorer produces an advisory score for how balanced a trade offer
// is. Purely informational: scoring failures never block a negotiation.
type FairnessScorer interface {
	Score(ctx context.Context, offer *models.TradeOffer) (float64, error)
}

type HTTPFairnessScorer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPFairnessScorer() *HTTPFairnessScorer {
	viper.SetDefault("fairness.url", "http://localhost:9091/score")
	return &HTTPFairnessScorer{
		baseURL: viper.GetString("fairness.url"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (f *HTTPFairnessScorer) Score(ctx context.Context, offer *models.TradeOffer) (float64, error) {
	payload, err := json.Marshal(map[string]any{
		"cash_amount":       offer.CashAmount,
		"target_variant_id": offer.TargetVariantID,
		"items":             offer.Items,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fairness scorer returned status %d", resp.StatusCode)
	}

	var result struct {
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, err
	}
	return result.Score, nil
}

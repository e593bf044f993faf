package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/tradepost/backend/internal/audit"
	"github.com/tradepost/backend/internal/database"
	"github.com/tradepost/backend/internal/models"
)

const tradeStatsQueue = "trade_stats_queue"

// NegotiationService runs the trade-offer state machine: create, counter,
// accept, reject, expire, ship, complete. Expiry itself is swept by an
// external collaborator (cmd/sweeper); the engine is stateless between
// requests.
type NegotiationService struct {
	db        *sql.DB
	redis     *redis.Client
	escrow    *EscrowService
	scorer    FairnessScorer
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewNegotiationService(db *sql.DB, rdb *redis.Client, escrow *EscrowService, scorer FairnessScorer) *NegotiationService {
	return &NegotiationService{
		db:        db,
		redis:     rdb,
		escrow:    escrow,
		scorer:    scorer,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

type CreateOfferRequest struct {
	TargetVariantID string             `json:"target_variant_id" validate:"required"`
	CashAmount      int64              `json:"cash_amount" validate:"gte=0"`
	TradeItems      []models.TradeItem `json:"trade_items,omitempty" validate:"omitempty,max=10,dive"`
	Notes           string             `json:"notes,omitempty" validate:"max=500"`
}

type CounterOfferRequest struct {
	CashAmount *int64             `json:"cash_amount,omitempty" validate:"omitempty,gte=0"`
	TradeItems []models.TradeItem `json:"trade_items,omitempty" validate:"omitempty,max=10,dive"`
	Notes      string             `json:"notes,omitempty" validate:"max=500"`
}

type CompleteTradeRequest struct {
	Action string `json:"action" validate:"required,oneof=mark_shipped mark_received"`
}

// CreateOffer opens a negotiation on a variant
// @Summary Create a trade offer
// @Tags trades
// @Accept json
// @Produce json
// @Param offer body CreateOfferRequest true "Offer data"
// @Success 201 {object} object{offer_id=string}
// @Failure 400 {object} ErrorResponse
// @Router /trades [post]
func (s *NegotiationService) CreateOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateOfferRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	offer, err := s.openOffer(r.Context(), userID, &req)
	if err != nil {
		log.Printf("[TRADE] Offer creation by %s failed: %v", userID, err)
		SendDomainError(w, err)
		return
	}

	go s.attachFairnessScore(offer)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"offer_id":  offer.ID,
		"expiry_at": offer.ExpiryAt,
	})
}

func (s *NegotiationService) openOffer(ctx context.Context, buyerID string, req *CreateOfferRequest) (*models.TradeOffer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var sellerID string
	err = tx.QueryRow(`
		SELECT l.seller_id
		FROM variants v
		JOIN listings l ON l.id = v.listing_id
		WHERE v.id = $1`, req.TargetVariantID).Scan(&sellerID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if sellerID == buyerID {
		return nil, ErrNotAuthorized
	}

	now := time.Now()
	offer := &models.TradeOffer{
		ID:               uuid.New().String(),
		BuyerID:          buyerID,
		SellerID:         sellerID,
		TargetVariantID:  req.TargetVariantID,
		CashAmount:       req.CashAmount,
		Status:           models.OfferPending,
		NegotiationRound: 1,
		ProposedBy:       buyerID,
		Notes:            req.Notes,
		ExpiryAt:         now.Add(models.OfferTTL),
		Items:            req.TradeItems,
		CreatedAt:        now,
	}
	if err := s.insertOffer(tx, offer); err != nil {
		return nil, err
	}
	if err := s.appendLog(tx, offer.ID, buyerID, "create", ""); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log.Printf("[TRADE] Offer %s opened: buyer=%s seller=%s cash=%d", offer.ID, buyerID, sellerID, offer.CashAmount)
	return offer, nil
}

// CounterOffer replaces a pending offer with a new round
// @Summary Counter a pending trade offer
// @Description Marks the original countered and opens a fresh pending round with a 48h expiry
// @Tags trades
// @Accept json
// @Produce json
// @Param offerId path string true "Offer ID"
// @Param counter body CounterOfferRequest true "Counter data"
// @Success 201 {object} object{counter_offer_id=string}
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /trades/{offerId}/counter [post]
func (s *NegotiationService) CounterOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CounterOfferRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	counter, err := s.counter(r.Context(), userID, chi.URLParam(r, "offerId"), &req)
	if err != nil {
		log.Printf("[TRADE] Counter by %s failed: %v", userID, err)
		SendDomainError(w, err)
		return
	}

	go s.attachFairnessScore(counter)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"counter_offer_id":  counter.ID,
		"negotiation_round": counter.NegotiationRound,
		"expiry_at":         counter.ExpiryAt,
	})
}

func (s *NegotiationService) counter(ctx context.Context, actorID, originalID string, req *CounterOfferRequest) (*models.TradeOffer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	original, err := s.lockOffer(tx, originalID)
	if err != nil {
		return nil, err
	}
	if !original.IsParty(actorID) {
		return nil, ErrNotAuthorized
	}
	now := time.Now()
	if original.Status != models.OfferPending || original.Expired(now) {
		return nil, ErrStateConflict
	}

	// The countered row is terminal; the chain keeps exactly one pending
	// offer at a time.
	if _, err := tx.Exec(`
		UPDATE trade_offers
		SET status = $1, updated_at = NOW()
		WHERE id = $2`, models.OfferCountered, originalID); err != nil {
		return nil, err
	}

	cash := original.CashAmount
	if req.CashAmount != nil {
		cash = *req.CashAmount
	}

	child := &models.TradeOffer{
		ID:               uuid.New().String(),
		BuyerID:          original.BuyerID,
		SellerID:         original.SellerID,
		TargetVariantID:  original.TargetVariantID,
		CashAmount:       cash,
		Status:           models.OfferPending,
		NegotiationRound: original.NegotiationRound + 1,
		ParentOfferID:    &original.ID,
		ProposedBy:       actorID,
		Notes:            req.Notes,
		ExpiryAt:         now.Add(models.OfferTTL),
		Items:            req.TradeItems,
		CreatedAt:        now,
	}
	if err := s.insertOffer(tx, child); err != nil {
		return nil, err
	}
	if err := s.appendLog(tx, child.ID, actorID, "counter", fmt.Sprintf("round %d, parent %s", child.NegotiationRound, originalID)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	log.Printf("[TRADE] Offer %s countered by %s: new offer %s round %d", originalID, actorID, child.ID, child.NegotiationRound)
	return child, nil
}

// AcceptOffer accepts a pending offer
// @Summary Accept a pending trade offer
// @Description Only the non-proposing party may accept; escrow is funded and a completion record cut
// @Tags trades
// @Produce json
// @Param offerId path string true "Offer ID"
// @Success 200 {object} object{status=string}
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /trades/{offerId}/accept [post]
func (s *NegotiationService) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	if err := s.accept(r.Context(), userID, chi.URLParam(r, "offerId")); err != nil {
		log.Printf("[TRADE] Accept by %s failed: %v", userID, err)
		SendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": models.OfferAccepted})
}

func (s *NegotiationService) accept(ctx context.Context, actorID, offerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	offer, err := s.lockOffer(tx, offerID)
	if err != nil {
		return err
	}
	if actorID != offer.Counterparty(offer.ProposedBy) {
		return ErrNotAuthorized
	}
	now := time.Now()
	if offer.Status != models.OfferPending || offer.Expired(now) {
		return ErrStateConflict
	}

	if _, err := tx.Exec(`
		UPDATE trade_offers
		SET status = $1, updated_at = NOW()
		WHERE id = $2`, models.OfferAccepted, offerID); err != nil {
		return err
	}

	if err := s.escrow.HoldTx(tx, offer); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO trade_completions (offer_id, buyer_id, seller_id, cash_amount, accepted_at)
		VALUES ($1, $2, $3, $4, $5)`,
		offer.ID, offer.BuyerID, offer.SellerID, offer.CashAmount, now); err != nil {
		return err
	}

	if err := s.appendLog(tx, offerID, actorID, "accept", ""); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.audit.LogOperation(offerID, actorID, "TRADE_ACCEPT", "offer accepted, escrow funded")
	return nil
}

// RejectOffer rejects a pending offer
// @Summary Reject a pending trade offer
// @Tags trades
// @Produce json
// @Param offerId path string true "Offer ID"
// @Success 200 {object} object{status=string}
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /trades/{offerId}/reject [post]
func (s *NegotiationService) RejectOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	if err := s.transitionPending(r.Context(), userID, chi.URLParam(r, "offerId"), models.OfferRejected); err != nil {
		log.Printf("[TRADE] Reject by %s failed: %v", userID, err)
		SendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": models.OfferRejected})
}

// transitionPending moves a pending offer to a terminal status on behalf of
// the receiving (non-proposing) party.
func (s *NegotiationService) transitionPending(ctx context.Context, actorID, offerID, target string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	offer, err := s.lockOffer(tx, offerID)
	if err != nil {
		return err
	}
	if actorID != offer.Counterparty(offer.ProposedBy) {
		return ErrNotAuthorized
	}
	if offer.Status != models.OfferPending || offer.Expired(time.Now()) {
		return ErrStateConflict
	}

	if _, err := tx.Exec(`
		UPDATE trade_offers
		SET status = $1, updated_at = NOW()
		WHERE id = $2`, target, offerID); err != nil {
		return err
	}
	if err := s.appendLog(tx, offerID, actorID, target, ""); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteTrade handles the shipped/received follow-on actions
// @Summary Advance an accepted trade to shipped or completed
// @Description mark_shipped by the seller, mark_received by the buyer; completion releases escrow
// @Tags trades
// @Accept json
// @Produce json
// @Param tradeId path string true "Trade ID"
// @Param action body CompleteTradeRequest true "Action"
// @Success 200 {object} object{success=bool,status=string}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /trades/{tradeId}/complete [post]
func (s *NegotiationService) CompleteTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CompleteTradeRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	status, err := s.completeStep(r.Context(), userID, chi.URLParam(r, "tradeId"), req.Action)
	if err != nil {
		log.Printf("[TRADE] %s by %s failed: %v", req.Action, userID, err)
		SendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"status":  status,
	})
}

func (s *NegotiationService) completeStep(ctx context.Context, actorID, offerID, action string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	offer, err := s.lockOffer(tx, offerID)
	if err != nil {
		return "", err
	}

	var target string
	switch action {
	case "mark_shipped":
		if actorID != offer.SellerID {
			return "", ErrNotAuthorized
		}
		if offer.Status != models.OfferAccepted {
			return "", ErrStateConflict
		}
		target = models.OfferShipped
		if _, err := tx.Exec(`
			UPDATE trade_completions
			SET shipped_at = NOW()
			WHERE offer_id = $1`, offerID); err != nil {
			return "", err
		}
	case "mark_received":
		if actorID != offer.BuyerID {
			return "", ErrNotAuthorized
		}
		if offer.Status != models.OfferShipped {
			return "", ErrStateConflict
		}
		target = models.OfferCompleted
		if _, err := tx.Exec(`
			UPDATE trade_completions
			SET completed_at = NOW()
			WHERE offer_id = $1`, offerID); err != nil {
			return "", err
		}
	default:
		return "", ErrStateConflict
	}

	if _, err := tx.Exec(`
		UPDATE trade_offers
		SET status = $1, updated_at = NOW()
		WHERE id = $2`, target, offerID); err != nil {
		return "", err
	}
	if err := s.appendLog(tx, offerID, actorID, action, ""); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	if target == models.OfferCompleted {
		if err := s.escrow.Release(ctx, offerID); err != nil {
			// The release is idempotent; a retry or support sweep can
			// finish it without double-crediting.
			log.Printf("[TRADE] Escrow release for %s failed: %v", offerID, err)
		}
		s.enqueueCompletion(ctx, offer)
	}

	return target, nil
}

// ExpireDueOffers flips every pending offer whose window has passed. Invoked
// by the external periodic sweep, never by request handlers.
func (s *NegotiationService) ExpireDueOffers(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE trade_offers
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expiry_at < NOW()`,
		models.OfferExpired, models.OfferPending)
	if err != nil {
		return 0, err
	}
	expired, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		log.Printf("[TRADE] Expired %d stale offers", expired)
	}
	return expired, nil
}

// GetOffer retrieves a trade offer
// @Summary Get trade offer by ID
// @Tags trades
// @Produce json
// @Param offerId path string true "Offer ID"
// @Success 200 {object} models.TradeOffer
// @Failure 404 {object} ErrorResponse
// @Router /trades/{offerId} [get]
func (s *NegotiationService) GetOffer(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("userID").(string)

	var offer models.TradeOffer
	err := s.db.QueryRowContext(r.Context(), `
		SELECT id, buyer_id, seller_id, target_variant_id, cash_amount, status, negotiation_round,
		       parent_offer_id, proposed_by, notes, fairness_score, expiry_at, escrow_amount, escrow_released,
		       created_at, updated_at
		FROM trade_offers
		WHERE id = $1`, chi.URLParam(r, "offerId")).Scan(
		&offer.ID, &offer.BuyerID, &offer.SellerID, &offer.TargetVariantID, &offer.CashAmount,
		&offer.Status, &offer.NegotiationRound, &offer.ParentOfferID, &offer.ProposedBy, &offer.Notes,
		&offer.FairnessScore, &offer.ExpiryAt, &offer.EscrowAmount, &offer.EscrowReleased,
		&offer.CreatedAt, &offer.UpdatedAt)
	if err == sql.ErrNoRows {
		SendDomainError(w, ErrNotFound)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch offer", http.StatusInternalServerError, nil)
		return
	}
	if !offer.IsParty(userID) {
		SendDomainError(w, ErrNotAuthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offer)
}

func (s *NegotiationService) lockOffer(tx *sql.Tx, offerID string) (*models.TradeOffer, error) {
	var offer models.TradeOffer
	err := tx.QueryRow(`
		SELECT id, buyer_id, seller_id, target_variant_id, cash_amount, status, negotiation_round,
		       parent_offer_id, proposed_by, expiry_at, escrow_amount, escrow_released
		FROM trade_offers
		WHERE id = $1
		FOR UPDATE`, offerID).Scan(
		&offer.ID, &offer.BuyerID, &offer.SellerID, &offer.TargetVariantID, &offer.CashAmount,
		&offer.Status, &offer.NegotiationRound, &offer.ParentOfferID, &offer.ProposedBy,
		&offer.ExpiryAt, &offer.EscrowAmount, &offer.EscrowReleased)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (s *NegotiationService) insertOffer(tx *sql.Tx, offer *models.TradeOffer) error {
	_, err := tx.Exec(`
		INSERT INTO trade_offers
		(id, buyer_id, seller_id, target_variant_id, cash_amount, status, negotiation_round, parent_offer_id, proposed_by, notes, expiry_at, escrow_amount, escrow_released, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, false, $12, $12)`,
		offer.ID, offer.BuyerID, offer.SellerID, offer.TargetVariantID, offer.CashAmount,
		offer.Status, offer.NegotiationRound, offer.ParentOfferID, offer.ProposedBy, offer.Notes,
		offer.ExpiryAt, offer.CreatedAt)
	if err != nil {
		return err
	}
	for _, item := range offer.Items {
		if _, err := tx.Exec(`
			INSERT INTO trade_offer_items (offer_id, kind, variant_id, description)
			VALUES ($1, $2, $3, $4)`,
			offer.ID, item.Kind, nullable(item.VariantID), item.Description); err != nil {
			return err
		}
	}
	return nil
}

func (s *NegotiationService) appendLog(tx *sql.Tx, offerID, actorID, action, details string) error {
	_, err := tx.Exec(`
		INSERT INTO trade_negotiation_log (offer_id, actor_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		offerID, actorID, action, details)
	return err
}

func (s *NegotiationService) attachFairnessScore(offer *models.TradeOffer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	score, err := s.scorer.Score(ctx, offer)
	if err != nil {
		log.Printf("[TRADE] Fairness scoring for %s skipped: %v", offer.ID, err)
		return
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE trade_offers
		SET fairness_score = $1
		WHERE id = $2`, score, offer.ID); err != nil {
		log.Printf("[TRADE] Failed to store fairness score for %s: %v", offer.ID, err)
	}
}

func (s *NegotiationService) enqueueCompletion(ctx context.Context, offer *models.TradeOffer) {
	// Trade statistics and badge eligibility are recomputed by external
	// collaborators; failures here never roll back the completion.
	if err := database.Enqueue(ctx, s.redis, tradeStatsQueue, map[string]any{
		"offer_id": offer.ID,
		"parties":  []string{offer.BuyerID, offer.SellerID},
	}); err != nil {
		log.Printf("[TRADE] Failed to queue stats recompute for %s: %v", offer.ID, err)
	}
	if err := database.Enqueue(ctx, s.redis, notificationQueue, map[string]string{
		"event":    "trade_completed",
		"offer_id": offer.ID,
	}); err != nil {
		log.Printf("[TRADE] Failed to queue notification for %s: %v", offer.ID, err)
	}
	go func() {
		log.Printf("Notification: Trade %s completed for %s and %s", offer.ID, offer.BuyerID, offer.SellerID)
	}()
}

package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradepost/backend/internal/audit"
	"github.com/tradepost/backend/internal/database"
	"github.com/tradepost/backend/internal/models"
)

var (
	destAccountRegex  = regexp.MustCompile(`^[0-9]{10,20}$`)
	destBankCodeRegex = regexp.MustCompile(`^[0-9A-Za-z]{3,6}$`)
)

// WithdrawalService moves funds out to the external payout rail. The ledger
// debit commits before the rail call; a rail failure is compensated with a
// reversal credit so funds are never left debited with no outbound transfer.
type WithdrawalService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	rail      PayoutRail
	audit     *audit.Logger
	validator *ValidationHelper
}

type WithdrawalRequest struct {
	Amount              float64 `json:"amount" validate:"required,gt=0"` // major units
	DestinationBankCode string  `json:"destination_bank_code" validate:"required"`
	DestinationAccount  string  `json:"destination_account" validate:"required"`
}

func NewWithdrawalService(db *sql.DB, rdb *redis.Client, ledger *LedgerService, rail PayoutRail) *WithdrawalService {
	return &WithdrawalService{
		db:        db,
		redis:     rdb,
		ledger:    ledger,
		rail:      rail,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// CreateWithdrawal handles a cash-out request
// @Summary Withdraw funds to a bank account
// @Description Debit the ledger and submit a credit transfer to the payout rail
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param withdrawal body WithdrawalRequest true "Withdrawal data"
// @Success 202 {object} object{payout_id=string,status=string}
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /withdrawals [post]
func (s *WithdrawalService) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req WithdrawalRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Amount < 1 || req.Amount > 10000 {
		SendDomainError(w, ErrInvalidAmount)
		return
	}

	if !destAccountRegex.MatchString(req.DestinationAccount) || !destBankCodeRegex.MatchString(req.DestinationBankCode) {
		SendDomainError(w, ErrInvalidDestination)
		return
	}

	withdrawal, err := s.Withdraw(r.Context(), userID, &req)
	if err != nil {
		log.Printf("[WITHDRAWAL] Withdrawal for user %s failed: %v", userID, err)
		SendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"payout_id": withdrawal.ID,
		"status":    withdrawal.Status,
	})
}

// Withdraw debits the seller's account first and then hands the payout to the rail.
// The withdrawal stays PENDING until the rail confirms asynchronously.
func (s *WithdrawalService) Withdraw(ctx context.Context, userID string, req *WithdrawalRequest) (*models.Withdrawal, error) {
	amount := decimal.NewFromFloat(req.Amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	payoutID := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.ledger.LockAccountByUserTx(tx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.DebitTx(tx, account.ID, amount, models.EntryWithdrawal, payoutID); err != nil {
		return nil, err
	}

	withdrawal := &models.Withdrawal{
		ID:                  payoutID,
		AccountID:           account.ID,
		Amount:              amount,
		DestinationBankCode: req.DestinationBankCode,
		DestinationAccount:  req.DestinationAccount,
		Status:              models.WithdrawalPending,
		CreatedAt:           time.Now(),
	}
	_, err = tx.Exec(`
		INSERT INTO withdrawals (id, account_id, amount, destination_bank_code, destination_account, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		withdrawal.ID, withdrawal.AccountID, withdrawal.Amount, withdrawal.DestinationBankCode,
		withdrawal.DestinationAccount, withdrawal.Status, withdrawal.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if err := s.rail.SendCredit(ctx, withdrawal); err != nil {
		s.audit.LogError(payoutID, account.ID, err)
		if compErr := s.compensate(ctx, withdrawal); compErr != nil {
			// The reversal credit is idempotent; a later retry (or the
			// rail callback) can still make the account whole.
			log.Printf("[WITHDRAWAL] Compensation for %s failed: %v", payoutID, compErr)
		}
		return nil, err
	}

	s.audit.LogOperation(payoutID, account.ID, "WITHDRAWAL_SUBMITTED", withdrawal.DestinationBankCode)
	return withdrawal, nil
}

// compensate re-credits the account and marks the withdrawal failed.
func (s *WithdrawalService) compensate(ctx context.Context, withdrawal *models.Withdrawal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := s.ledger.CreditTx(tx, withdrawal.AccountID, withdrawal.Amount, models.EntryReversal, withdrawal.ID); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE withdrawals
		SET status = $1, updated_at = NOW()
		WHERE id = $2`,
		models.WithdrawalFailed, withdrawal.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("[WITHDRAWAL] Withdrawal %s reversed", withdrawal.ID)
	return nil
}

// RailCallbackRequest is the asynchronous status report from the payout rail,
// keyed by the pacs.008 end-to-end id (our payout id).
type RailCallbackRequest struct {
	PayoutID   string `json:"payout_id" validate:"required"`
	StatusCode string `json:"status_code" validate:"required,oneof=ACSC ACCC RJCT PDNG"`
	Reason     string `json:"reason,omitempty" validate:"max=200"`
}

// RailCallback handles the rail's pacs.002-derived status report
// @Summary Payout rail status callback
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param report body RailCallbackRequest true "Status report"
// @Success 200 {object} object{status=string}
// @Failure 404 {object} ErrorResponse
// @Router /withdrawals/callback [post]
func (s *WithdrawalService) RailCallback(w http.ResponseWriter, r *http.Request) {
	var req RailCallbackRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	withdrawal, err := s.fetch(r.Context(), req.PayoutID)
	if err != nil {
		SendDomainError(w, err)
		return
	}

	status := WithdrawalStatusFromRailCode(req.StatusCode)
	switch status {
	case models.WithdrawalFailed:
		if err := s.compensate(r.Context(), withdrawal); err != nil {
			log.Printf("[WITHDRAWAL] Callback compensation for %s failed: %v", withdrawal.ID, err)
			SendErrorResponse(w, "Failed to process status report", http.StatusInternalServerError, nil)
			return
		}
	case models.WithdrawalCompleted:
		if _, err := s.db.ExecContext(r.Context(), `
			UPDATE withdrawals
			SET status = $1, updated_at = NOW()
			WHERE id = $2 AND status = $3`,
			models.WithdrawalCompleted, withdrawal.ID, models.WithdrawalPending); err != nil {
			SendErrorResponse(w, "Failed to process status report", http.StatusInternalServerError, nil)
			return
		}
	}

	if err := database.Enqueue(r.Context(), s.redis, notificationQueue, map[string]string{
		"event":     "withdrawal_" + status,
		"payout_id": withdrawal.ID,
	}); err != nil {
		log.Printf("[WITHDRAWAL] Failed to queue notification for %s: %v", withdrawal.ID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// GetWithdrawal retrieves a withdrawal by id
// @Summary Get withdrawal by ID
// @Tags withdrawals
// @Produce json
// @Param payoutId path string true "Payout ID"
// @Success 200 {object} models.Withdrawal
// @Failure 404 {object} ErrorResponse
// @Router /withdrawals/{payoutId} [get]
func (s *WithdrawalService) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawal, err := s.fetch(r.Context(), chi.URLParam(r, "payoutId"))
	if err != nil {
		SendDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(withdrawal)
}

func (s *WithdrawalService) fetch(ctx context.Context, payoutID string) (*models.Withdrawal, error) {
	var withdrawal models.Withdrawal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, amount, destination_bank_code, destination_account, status, created_at, updated_at
		FROM withdrawals
		WHERE id = $1`, payoutID).Scan(
		&withdrawal.ID, &withdrawal.AccountID, &withdrawal.Amount, &withdrawal.DestinationBankCode,
		&withdrawal.DestinationAccount, &withdrawal.Status, &withdrawal.CreatedAt, &withdrawal.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &withdrawal, nil
}

package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tradepost/backend/internal/audit"
	"github.com/tradepost/backend/internal/models"
)

// LedgerService is the append-only record of balance-affecting events. Every
// balance mutation goes through it: one ledger entry plus the account update,
// in the caller's transaction, with the account row locked for the duration.
type LedgerService struct {
	db    *sql.DB
	audit *audit.Logger
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:    db,
		audit: audit.NewLogger(),
	}
}

// DebitTx removes amount from the account's available balance. Fails with
// ErrInsufficientFunds when the balance cannot cover it. Idempotent: a
// completed entry for the same (relatedID, entryType) pair is returned as-is
// instead of being duplicated.
func (s *LedgerService) DebitTx(tx *sql.Tx, accountID string, amount int64, entryType, relatedID string) (*models.LedgerEntry, error) {
	if existing, err := s.findCompletedEntry(tx, relatedID, entryType); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	if account.AvailableBalance < amount {
		return nil, ErrInsufficientFunds
	}

	newBalance := account.AvailableBalance - amount
	entry, err := s.appendEntry(tx, accountID, entryType, -amount, newBalance, relatedID)
	if err != nil {
		return nil, err
	}

	if err := s.updateAvailableBalance(tx, accountID, newBalance, account.Version); err != nil {
		return nil, err
	}

	s.audit.LogEntry(relatedID, accountID, entryType, -amount, newBalance)
	return entry, nil
}

// CreditTx adds amount to the account's available balance. Same idempotency
// contract as DebitTx.
func (s *LedgerService) CreditTx(tx *sql.Tx, accountID string, amount int64, entryType, relatedID string) (*models.LedgerEntry, error) {
	if existing, err := s.findCompletedEntry(tx, relatedID, entryType); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	newBalance := account.AvailableBalance + amount
	entry, err := s.appendEntry(tx, accountID, entryType, amount, newBalance, relatedID)
	if err != nil {
		return nil, err
	}

	if err := s.updateAvailableBalance(tx, accountID, newBalance, account.Version); err != nil {
		return nil, err
	}

	s.audit.LogEntry(relatedID, accountID, entryType, amount, newBalance)
	return entry, nil
}

// CreditPendingTx adds amount to the account's pending balance. Used for
// seller settlement: funds are earmarked but not spendable until an external
// delivery process promotes them. The entry stays in status pending.
func (s *LedgerService) CreditPendingTx(tx *sql.Tx, accountID string, amount int64, entryType, relatedID string) (*models.LedgerEntry, error) {
	if existing, err := s.findPendingEntry(tx, relatedID, entryType); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	newPending := account.PendingBalance + amount

	entry := &models.LedgerEntry{
		AccountID:      accountID,
		EntryType:      entryType,
		Amount:         amount,
		BalanceAfter:   newPending,
		RelatedOrderID: relatedID,
		Status:         models.EntryStatusPending,
		CreatedAt:      time.Now(),
	}
	err = tx.QueryRow(`
		INSERT INTO ledger_entries (account_id, entry_type, amount, balance_after, related_order_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		accountID, entryType, amount, newPending, nullable(relatedID), models.EntryStatusPending, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return nil, err
	}

	result, err := tx.Exec(`
		UPDATE accounts 
		SET pending_balance = $1, version = version + 1, updated_at = $2 
		WHERE id = $3 AND version = $4`,
		newPending, time.Now(), accountID, account.Version)
	if err != nil {
		return nil, err
	}
	if err := requireRowsAffected(result, accountID); err != nil {
		return nil, err
	}

	s.audit.LogEntry(relatedID, accountID, entryType, amount, newPending)
	return entry, nil
}

func (s *LedgerService) findCompletedEntry(tx *sql.Tx, relatedID, entryType string) (*models.LedgerEntry, error) {
	return s.findEntry(tx, relatedID, entryType, models.EntryStatusCompleted)
}

func (s *LedgerService) findPendingEntry(tx *sql.Tx, relatedID, entryType string) (*models.LedgerEntry, error) {
	return s.findEntry(tx, relatedID, entryType, models.EntryStatusPending)
}

func (s *LedgerService) findEntry(tx *sql.Tx, relatedID, entryType, status string) (*models.LedgerEntry, error) {
	if relatedID == "" {
		return nil, nil
	}
	entry := &models.LedgerEntry{RelatedOrderID: relatedID, EntryType: entryType, Status: status}
	err := tx.QueryRow(`
		SELECT id, account_id, amount, balance_after, created_at 
		FROM ledger_entries 
		WHERE related_order_id = $1 AND entry_type = $2 AND status = $3`,
		relatedID, entryType, status).Scan(&entry.ID, &entry.AccountID, &entry.Amount, &entry.BalanceAfter, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, available_balance, pending_balance, version, updated_at 
		FROM accounts 
		WHERE id = $1 
		FOR UPDATE`, accountID).Scan(&account.ID, &account.AvailableBalance, &account.PendingBalance, &account.Version, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &account, err
}

// LockAccountByUserTx locks and returns the account owned by userID.
func (s *LedgerService) LockAccountByUserTx(tx *sql.Tx, userID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, available_balance, pending_balance, version, updated_at 
		FROM accounts 
		WHERE user_id = $1 
		FOR UPDATE`, userID).Scan(&account.ID, &account.AvailableBalance, &account.PendingBalance, &account.Version, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &account, err
}

func (s *LedgerService) appendEntry(tx *sql.Tx, accountID, entryType string, amount, balanceAfter int64, relatedID string) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		AccountID:      accountID,
		EntryType:      entryType,
		Amount:         amount,
		BalanceAfter:   balanceAfter,
		RelatedOrderID: relatedID,
		Status:         models.EntryStatusCompleted,
		CreatedAt:      time.Now(),
	}
	err := tx.QueryRow(`
		INSERT INTO ledger_entries (account_id, entry_type, amount, balance_after, related_order_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		accountID, entryType, amount, balanceAfter, nullable(relatedID), models.EntryStatusCompleted, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *LedgerService) updateAvailableBalance(tx *sql.Tx, accountID string, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts 
		SET available_balance = $1, version = version + 1, updated_at = $2 
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return err
	}
	return requireRowsAffected(result, accountID)
}

func requireRowsAffected(result sql.Result, accountID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

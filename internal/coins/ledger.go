package coins

import (
	"context"

	apperrors "github.com/insta-extractor/internal/errors"
	"github.com/insta-extractor/internal/logging"
)

// BalanceStore applies balance changes in single conditional statements.
// Debit clamps at zero; both return the balance after the change.
type BalanceStore interface {
	GetCoins(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, amount int64) (int64, error)
	Credit(ctx context.Context, userID string, amount int64) (int64, error)
}

// Ledger is the only path through which user balances change
type Ledger struct {
	store BalanceStore
}

// NewLedger creates a ledger over a balance store
func NewLedger(store BalanceStore) *Ledger {
	return &Ledger{store: store}
}

// GetUserCoins returns the current balance of a user
func (l *Ledger) GetUserCoins(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, apperrors.NewInvalidParameterError("user_id", "cannot be empty")
	}
	return l.store.GetCoins(ctx, userID)
}

// DeductCoins removes amount from a user's balance, flooring at zero
func (l *Ledger) DeductCoins(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, apperrors.NewInvalidParameterError("amount", "cannot be negative")
	}

	balance, err := l.store.Debit(ctx, userID, amount)
	if err != nil {
		return 0, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id": userID,
		"amount":  amount,
		"balance": balance,
	}).Debug("coins deducted")
	return balance, nil
}

// Refund adds amount back to a user's balance
func (l *Ledger) Refund(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, apperrors.NewInvalidParameterError("amount", "cannot be negative")
	}
	if amount == 0 {
		return l.store.GetCoins(ctx, userID)
	}

	balance, err := l.store.Credit(ctx, userID, amount)
	if err != nil {
		return 0, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id": userID,
		"amount":  amount,
		"balance": balance,
	}).Info("coins refunded")
	return balance, nil
}

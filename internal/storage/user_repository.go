package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/insta-extractor/internal/errors"
	"github.com/insta-extractor/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepository handles user rows and their coin balances.
// Balance changes are single conditional statements so concurrent debits and
// credits on the same user never overwrite each other.
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Coins < 0 {
		return apperrors.NewInvalidParameterError("coins", "cannot be negative")
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO users (id, email, coins, is_active, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := r.db.Pool().Exec(ctx, query,
		user.ID,
		user.Email,
		user.Coins,
		user.IsActive,
		user.IsAdmin,
		user.CreatedAt,
	); err != nil {
		return apperrors.NewDatabaseError("create user", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, email, coins, is_active, is_admin, created_at
		FROM users
		WHERE id = $1
	`

	var user models.User
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Coins,
		&user.IsActive,
		&user.IsAdmin,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("user", id)
		}
		return nil, apperrors.NewDatabaseError("get user", err)
	}
	return &user, nil
}

// GetCoins returns the current balance of a user
func (r *UserRepository) GetCoins(ctx context.Context, userID string) (int64, error) {
	var coins int64
	err := r.db.Pool().QueryRow(ctx, `SELECT coins FROM users WHERE id = $1`, userID).Scan(&coins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.NewNotFoundError("user", userID)
		}
		return 0, apperrors.NewDatabaseError("get coins", err)
	}
	return coins, nil
}

// Debit subtracts amount from the balance, flooring at zero
func (r *UserRepository) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	return debit(ctx, r.db.Pool(), userID, amount)
}

// Credit adds amount to the balance
func (r *UserRepository) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	query := `
		UPDATE users
		SET coins = coins + $2
		WHERE id = $1
		RETURNING coins
	`

	var coins int64
	if err := r.db.Pool().QueryRow(ctx, query, userID, amount).Scan(&coins); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.NewUpdateFailedError("user coins", userID)
		}
		return 0, apperrors.NewDatabaseError("credit coins", err)
	}
	return coins, nil
}

func debit(ctx context.Context, q querier, userID string, amount int64) (int64, error) {
	query := `
		UPDATE users
		SET coins = GREATEST(coins - $2, 0)
		WHERE id = $1
		RETURNING coins
	`

	var coins int64
	if err := q.QueryRow(ctx, query, userID, amount).Scan(&coins); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.NewUpdateFailedError("user coins", userID)
		}
		return 0, apperrors.NewDatabaseError("debit coins", err)
	}
	return coins, nil
}

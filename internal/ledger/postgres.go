package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists balances in Postgres. The conditional debit
// keeps the non-negative invariant even if a second engine instance
// ever shares the database.
type PostgresStore struct {
	pool        *pgxpool.Pool
	signupBonus int64
}

// NewPostgresStore wraps an existing pgx pool.
func NewPostgresStore(pool *pgxpool.Pool, signupBonus int64) *PostgresStore {
	return &PostgresStore{pool: pool, signupBonus: signupBonus}
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    user_id TEXT PRIMARY KEY,
    balance BIGINT NOT NULL CHECK (balance >= 0)
);

CREATE TABLE IF NOT EXISTS reconciliation_flags (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    reason TEXT NOT NULL,
    flagged_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the ledger tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, balance) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, s.signupBonus)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) ApplyDebit(ctx context.Context, userID string, amount int64) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`UPDATE accounts SET balance = balance - $2 WHERE user_id = $1 AND balance >= $2 RETURNING balance`,
		userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientFunds
	}
	if err != nil {
		return 0, fmt.Errorf("apply debit: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) ApplyCredit(ctx context.Context, userID string, amount int64) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (user_id, balance) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance
		 RETURNING balance`,
		userID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("apply credit: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) FlagForReview(ctx context.Context, userID, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reconciliation_flags (user_id, reason) VALUES ($1, $2)`,
		userID, reason)
	if err != nil {
		return fmt.Errorf("insert reconciliation flag: %w", err)
	}
	return nil
}

package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgx used by the store, satisfied by *pgxpool.Pool and
// *pgx.Conn alike.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is the production CreditStore. The conditional UPDATE in
// Debit is what keeps concurrent debits from overdrawing.
type PostgresStore struct {
	db DB
}

var _ CreditStore = (*PostgresStore)(nil)

// NewPostgresStore creates a store over an open connection or pool. The
// schema is managed separately by Migrate.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CanAfford(ctx context.Context, userID string, units int64) (bool, error) {
	var credits int64
	err := s.db.QueryRow(ctx,
		`SELECT credits FROM profiles WHERE user_id = $1`, userID).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("billing: query balance: %w", err)
	}
	return credits >= units, nil
}

func (s *PostgresStore) Debit(ctx context.Context, userID string, units int64) (*Profile, error) {
	var p Profile
	err := s.db.QueryRow(ctx,
		`UPDATE profiles
		    SET credits = credits - $2, updated_at = now()
		  WHERE user_id = $1 AND credits >= $2
		 RETURNING user_id, credits`, userID, units).Scan(&p.UserID, &p.Credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInsufficientFunds
	}
	if err != nil {
		return nil, fmt.Errorf("billing: debit: %w", err)
	}
	return &p, nil
}

// Grant adds units to a balance, creating the profile if it does not exist.
// Used by the top-up webhook and by local seeding.
func (s *PostgresStore) Grant(ctx context.Context, userID string, units int64) (*Profile, error) {
	var p Profile
	err := s.db.QueryRow(ctx,
		`INSERT INTO profiles (user_id, credits)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id)
		 DO UPDATE SET credits = profiles.credits + EXCLUDED.credits, updated_at = now()
		 RETURNING user_id, credits`, userID, units).Scan(&p.UserID, &p.Credits)
	if err != nil {
		return nil, fmt.Errorf("billing: grant: %w", err)
	}
	return &p, nil
}

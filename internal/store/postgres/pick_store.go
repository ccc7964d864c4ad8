package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/taper/internal/domain"
)

// PickStore implements domain.PickStore using PostgreSQL. Rows are keyed by
// (user_id, market_id); the last write wins.
type PickStore struct {
	pool *pgxpool.Pool
}

// NewPickStore creates a new PickStore backed by the given connection pool.
func NewPickStore(pool *pgxpool.Pool) *PickStore {
	return &PickStore{pool: pool}
}

// Load returns the user's stored picks. Rows with an unknown side are
// skipped.
func (s *PickStore) Load(ctx context.Context, userID string) ([]domain.RemotePick, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, pick_side FROM picks WHERE user_id = $1 ORDER BY market_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load picks %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.RemotePick
	for rows.Next() {
		var r pickRow
		if err := rows.Scan(&r.MarketID, &r.Side); err != nil {
			return nil, fmt.Errorf("postgres: scan pick: %w", err)
		}
		if p, ok := r.toDomain(); ok {
			out = append(out, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load picks rows: %w", err)
	}
	return out, nil
}

// Upsert stores side for (userID, marketID).
func (s *PickStore) Upsert(ctx context.Context, userID, marketID string, side domain.Side) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO picks (user_id, market_id, pick_side, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, market_id) DO UPDATE SET
			pick_side  = EXCLUDED.pick_side,
			updated_at = NOW()`,
		userID, marketID, string(side),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert pick %s/%s: %w", userID, marketID, err)
	}
	return nil
}

// Delete removes one pick. Deleting a missing pick is not an error.
func (s *PickStore) Delete(ctx context.Context, userID, marketID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM picks WHERE user_id = $1 AND market_id = $2`, userID, marketID); err != nil {
		return fmt.Errorf("postgres: delete pick %s/%s: %w", userID, marketID, err)
	}
	return nil
}

// DeleteAll removes every pick of the user.
func (s *PickStore) DeleteAll(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM picks WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("postgres: delete picks %s: %w", userID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PickStore = (*PickStore)(nil)

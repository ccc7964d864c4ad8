package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/scoring"
)

// MarketStore implements domain.MarketStore and domain.ResultStore using
// PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const upsertMarketSQL = `
	INSERT INTO markets (
		id, meet_id, gender, swimmer_name, event_name, time_label,
		target_time, result, result_time, status,
		pb, seed, votes_over, votes_under, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		CAST($7::text AS NUMERIC), $8, CAST($9::text AS NUMERIC), $10,
		$11, $12, $13, $14, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		meet_id      = EXCLUDED.meet_id,
		gender       = EXCLUDED.gender,
		swimmer_name = EXCLUDED.swimmer_name,
		event_name   = EXCLUDED.event_name,
		time_label   = EXCLUDED.time_label,
		target_time  = EXCLUDED.target_time,
		result       = EXCLUDED.result,
		result_time  = EXCLUDED.result_time,
		status       = EXCLUDED.status,
		pb           = EXCLUDED.pb,
		seed         = EXCLUDED.seed,
		votes_over   = EXCLUDED.votes_over,
		votes_under  = EXCLUDED.votes_under,
		updated_at   = NOW()`

func marketArgs(m domain.Market) []any {
	target, resultTime, status := marketParams(m)
	var result *string
	if m.IsSettled() {
		result = m.Result
	}
	return []any{
		m.ID, m.MeetID, string(m.Gender), m.Swimmer, m.Event, m.TimeLabel,
		target, result, resultTime, status,
		nullable(m.PB), nullable(m.Seed), m.VotesOver, m.VotesUnder,
	}
}

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	if _, err := s.pool.Exec(ctx, upsertMarketSQL, marketArgs(m)...); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// UpsertBatch inserts or updates multiple markets in a single batch operation.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(upsertMarketSQL, marketArgs(m)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

const marketCols = `id, meet_id, gender, swimmer_name, event_name, time_label,
	result, pb, seed, votes_over, votes_under`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var r marketRow
	err := row.Scan(
		&r.ID, &r.MeetID, &r.Gender, &r.Swimmer, &r.Event, &r.TimeLabel,
		&r.Result, &r.PB, &r.Seed, &r.VotesOver, &r.VotesUnder,
	)
	if err != nil {
		return domain.Market{}, err
	}
	return r.toDomain()
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets matching filter ordered by meet and id.
func (s *MarketStore) List(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error) {
	var (
		where []string
		args  []any
	)
	if filter.MeetID != "" {
		args = append(args, filter.MeetID)
		where = append(where, fmt.Sprintf("meet_id = $%d", len(args)))
	}
	if filter.Gender != "" {
		args = append(args, string(filter.Gender))
		where = append(where, fmt.Sprintf("gender = $%d", len(args)))
	}

	query := `SELECT ` + marketCols + ` FROM markets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY meet_id, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// SetResult records the official time for a market and marks it settled.
func (s *MarketStore) SetResult(ctx context.Context, marketID, result string) error {
	sec, err := scoring.Seconds(result)
	if err != nil {
		return fmt.Errorf("postgres: set result %s: %w", marketID, err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE markets
		SET result = $2, result_time = CAST($3::text AS NUMERIC), status = $4, updated_at = NOW()
		WHERE id = $1`,
		marketID, result, sec.StringFixed(2), string(domain.MarketStatusSettled),
	)
	if err != nil {
		return fmt.Errorf("postgres: set result %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.MarketStore = (*MarketStore)(nil)
	_ domain.ResultStore = (*MarketStore)(nil)
)

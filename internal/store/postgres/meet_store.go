package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/taper/internal/domain"
)

// MeetStore implements domain.MeetStore using PostgreSQL.
type MeetStore struct {
	pool *pgxpool.Pool
}

// NewMeetStore creates a new MeetStore backed by the given connection pool.
func NewMeetStore(pool *pgxpool.Pool) *MeetStore {
	return &MeetStore{pool: pool}
}

const upsertMeetSQL = `
	INSERT INTO meets (id, name, category, league_tag, year, genders, lock_time, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	ON CONFLICT (id) DO UPDATE SET
		name       = EXCLUDED.name,
		category   = EXCLUDED.category,
		league_tag = EXCLUDED.league_tag,
		year       = EXCLUDED.year,
		genders    = EXCLUDED.genders,
		lock_time  = EXCLUDED.lock_time,
		updated_at = NOW()`

func meetArgs(m domain.Meet) []any {
	genders := make([]string, 0, len(m.Genders))
	for _, g := range m.Genders {
		genders = append(genders, string(g))
	}
	return []any{m.ID, m.Name, string(m.Category), m.LeagueTag, m.Year, genders, m.LockTime}
}

// Upsert inserts or updates a single meet.
func (s *MeetStore) Upsert(ctx context.Context, m domain.Meet) error {
	if _, err := s.pool.Exec(ctx, upsertMeetSQL, meetArgs(m)...); err != nil {
		return fmt.Errorf("postgres: upsert meet %s: %w", m.ID, err)
	}
	return nil
}

// UpsertBatch inserts or updates multiple meets in a single batch operation.
func (s *MeetStore) UpsertBatch(ctx context.Context, meets []domain.Meet) error {
	if len(meets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range meets {
		batch.Queue(upsertMeetSQL, meetArgs(m)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range meets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert meet batch item %d: %w", i, err)
		}
	}
	return nil
}

const meetCols = `id, name, category, league_tag, year, genders, lock_time`

func scanMeet(row pgx.Row) (domain.Meet, error) {
	var r meetRow
	if err := row.Scan(&r.ID, &r.Name, &r.Category, &r.LeagueTag, &r.Year, &r.Genders, &r.LockTime); err != nil {
		return domain.Meet{}, err
	}
	return r.toDomain()
}

// GetByID retrieves a meet by its primary key.
func (s *MeetStore) GetByID(ctx context.Context, id string) (domain.Meet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+meetCols+` FROM meets WHERE id = $1`, id)
	m, err := scanMeet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Meet{}, domain.ErrNotFound
		}
		return domain.Meet{}, fmt.Errorf("postgres: get meet %s: %w", id, err)
	}
	return m, nil
}

// List returns every meet ordered by id.
func (s *MeetStore) List(ctx context.Context) ([]domain.Meet, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+meetCols+` FROM meets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list meets: %w", err)
	}
	defer rows.Close()

	var meets []domain.Meet
	for rows.Next() {
		m, err := scanMeet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan meet: %w", err)
		}
		meets = append(meets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list meets rows: %w", err)
	}
	return meets, nil
}

// Compile-time interface check.
var _ domain.MeetStore = (*MeetStore)(nil)

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BlacklistRepository records which companies each actor already contacted.
type BlacklistRepository struct {
	pool *pgxpool.Pool
}

// NewBlacklistRepository creates a new blacklist repository.
func NewBlacklistRepository(pool *pgxpool.Pool) *BlacklistRepository {
	return &BlacklistRepository{pool: pool}
}

// Sirens lists the sirens contacted by actorID.
func (r *BlacklistRepository) Sirens(ctx context.Context, actorID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT siren FROM user_blacklist WHERE actor_id = $1`, actorID)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan blacklist: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Add blacklists sirens for actorID in one statement. Pairs already present
// are ignored, so repeated calls are safe.
func (r *BlacklistRepository) Add(ctx context.Context, actorID string, sirens []string) (int, error) {
	if len(sirens) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO user_blacklist (actor_id, siren)
		SELECT $1, s FROM unnest($2::text[]) AS s
		ON CONFLICT (actor_id, siren) DO NOTHING
	`, actorID, sirens)
	if err != nil {
		return 0, fmt.Errorf("add to blacklist: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Count returns the number of companies actorID contacted.
func (r *BlacklistRepository) Count(ctx context.Context, actorID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_blacklist WHERE actor_id = $1`, actorID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count blacklist: %w", err)
	}
	return n, nil
}

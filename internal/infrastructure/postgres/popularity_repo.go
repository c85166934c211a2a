package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tokenscout/analytics-service/internal/domain"
)

const pgFKViolation = "23503"

// PopularityRepo maintains two deliberately independent counter spaces:
// the interaction-log score on learned_tokens (clamped at the cap) and the
// search/click counters on token_popularity. Every mutation is a single
// atomic statement; there are no read-modify-write pairs here.
type PopularityRepo struct {
	pool *pgxpool.Pool
}

func NewPopularityRepo(pool *pgxpool.Pool) *PopularityRepo {
	return &PopularityRepo{pool: pool}
}

// LogInteraction inserts one interaction row, then bumps the clamped score.
// The parent learned_tokens row is created best-effort with placeholders if
// missing. A foreign-key race on the log insert (parent deleted between the
// ensure step and the insert) is reported as logged=false, not an error.
func (r *PopularityRepo) LogInteraction(ctx context.Context, in domain.Interaction) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO learned_tokens (address, name, symbol, popularity_score, created_at, updated_at)
		VALUES ($1, 'Unknown Token', 'UNKNOWN', 0, NOW(), NOW())
		ON CONFLICT (address) DO NOTHING
	`, in.Address)
	if err != nil {
		return false, err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO token_interactions (address, kind, session_id, query_text, result_position, occurred_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NOW())
	`, in.Address, string(in.Kind), in.SessionID, in.QueryText, in.ResultPosition)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgFKViolation {
			return false, nil
		}
		return false, err
	}

	if delta := in.Kind.ScoreDelta(); delta > 0 {
		_, err = r.pool.Exec(ctx, `
			UPDATE learned_tokens
			SET popularity_score = LEAST($2, popularity_score + $3),
			    updated_at = NOW()
			WHERE address = $1
		`, in.Address, domain.ScoreCap, delta)
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// UpsertPopularity increments search/click counters and conditionally bumps
// the last-seen timestamps, creating the row on first reference. Placeholder
// name/symbol never overwrite learned values.
func (r *PopularityRepo) UpsertPopularity(ctx context.Context, u domain.PopularityUpdate) error {
	name := u.Name
	if name == "" {
		name = "Unknown Token"
	}
	symbol := u.Symbol
	if symbol == "" {
		symbol = "UNKNOWN"
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO token_popularity (address, name, symbol, search_count, click_count, last_searched_at, last_clicked_at, updated_at)
		VALUES ($1, $2, $3,
			CASE WHEN $4 THEN 1 ELSE 0 END,
			CASE WHEN $5 THEN 1 ELSE 0 END,
			CASE WHEN $4 THEN NOW() END,
			CASE WHEN $5 THEN NOW() END,
			NOW())
		ON CONFLICT (address) DO UPDATE SET
			search_count = token_popularity.search_count + CASE WHEN $4 THEN 1 ELSE 0 END,
			click_count = token_popularity.click_count + CASE WHEN $5 THEN 1 ELSE 0 END,
			last_searched_at = CASE WHEN $4 THEN NOW() ELSE token_popularity.last_searched_at END,
			last_clicked_at = CASE WHEN $5 THEN NOW() ELSE token_popularity.last_clicked_at END,
			updated_at = NOW()
	`, u.Address, name, symbol, u.AppearedInResults, u.WasClicked)
	return err
}

func (r *PopularityRepo) GetPopularity(ctx context.Context, address string) (domain.TokenPopularity, error) {
	var p domain.TokenPopularity
	err := r.pool.QueryRow(ctx, `
		SELECT address, search_count, click_count, last_searched_at, last_clicked_at, updated_at
		FROM token_popularity
		WHERE address = $1
	`, address).Scan(&p.Address, &p.SearchCount, &p.ClickCount, &p.LastSearchedAt, &p.LastClickedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TokenPopularity{}, domain.ErrNotFound
		}
		return domain.TokenPopularity{}, err
	}
	return p, nil
}

package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tokenscout/analytics-service/internal/domain"
)

// EventRepo owns the append-only search/click event tables. Rows are written
// once and only ever leave through the retention purge.
type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

func (r *EventRepo) InsertSearch(ctx context.Context, e domain.SearchEvent) error {
	// A zero-result search carries a nil slice, which pgx would encode as SQL
	// NULL against the NOT NULL column.
	addrs := e.ResultAddresses
	if addrs == nil {
		addrs = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO search_events (session_id, query, result_addresses, result_count, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.SessionID, e.Query, addrs, e.ResultCount, e.OccurredAt)
	return err
}

func (r *EventRepo) InsertClick(ctx context.Context, e domain.ClickEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO click_events (session_id, query, clicked_address, result_rank, result_score, time_to_click_ms, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.SessionID, e.Query, e.ClickedAddress, e.ResultRank, e.ResultScore, e.TimeToClickMs, e.OccurredAt)
	return err
}

// PurgeOlderThan deletes events past the retention horizon from both tables
// and reports the total rows removed.
func (r *EventRepo) PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-horizon)

	var total int64
	res, err := r.pool.Exec(ctx, `DELETE FROM search_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	total += res.RowsAffected()

	res, err = r.pool.Exec(ctx, `DELETE FROM click_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return total, err
	}
	total += res.RowsAffected()
	return total, nil
}

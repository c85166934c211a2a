package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tokenscout/analytics-service/internal/domain"
)

// TrendingRepo maintains the materialized trending_searches aggregate and the
// velocity ranking over raw interaction timestamps.
type TrendingRepo struct {
	pool *pgxpool.Pool
}

func NewTrendingRepo(pool *pgxpool.Pool) *TrendingRepo {
	return &TrendingRepo{pool: pool}
}

// LogSearch is the upsert-with-increment path: first log creates the row,
// later logs bump the counter and advance updated_at while created_at stays.
// Empty symbol/name never clobber previously learned values.
func (r *TrendingRepo) LogSearch(ctx context.Context, address string, assetType domain.AssetType, symbol, name string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO trending_searches (address, asset_type, symbol, name, search_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, NOW(), NOW())
		ON CONFLICT (address) DO UPDATE SET
			search_count = trending_searches.search_count + 1,
			symbol = COALESCE(NULLIF(EXCLUDED.symbol, ''), trending_searches.symbol),
			name = COALESCE(NULLIF(EXCLUDED.name, ''), trending_searches.name),
			updated_at = NOW()
	`, address, string(assetType), symbol, name)
	return err
}

// List is the fast path: the materialized aggregate ordered by search_count,
// most recently active first on ties.
func (r *TrendingRepo) List(ctx context.Context, assetType domain.AssetType, limit int) ([]domain.TrendingEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT address, asset_type, symbol, name, search_count, created_at, updated_at
		FROM trending_searches
		WHERE $1 = 'ALL' OR asset_type = $1
		ORDER BY search_count DESC, updated_at DESC
		LIMIT $2
	`, string(assetType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TrendingEntry
	for rows.Next() {
		var e domain.TrendingEntry
		if err := rows.Scan(&e.Address, &e.AssetType, &e.Symbol, &e.Name, &e.SearchCount, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListByVelocity ranks by acceleration: trailing 24h search count against
// the preceding 24h-to-48h count, scaled to a percentage. Only search
// interactions within the 7-day horizon contribute; clicks and selects feed
// the score path, not this ranking.
func (r *TrendingRepo) ListByVelocity(ctx context.Context, assetType domain.AssetType, limit int) ([]domain.VelocityEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			t.address, t.asset_type, t.symbol, t.name,
			COUNT(*) FILTER (WHERE i.occurred_at >= NOW() - INTERVAL '24 hours') AS recent_count,
			COUNT(*) FILTER (WHERE i.occurred_at < NOW() - INTERVAL '24 hours'
				AND i.occurred_at >= NOW() - INTERVAL '48 hours') AS previous_count,
			COUNT(*) AS total_searches,
			CASE
				WHEN COUNT(*) FILTER (WHERE i.occurred_at < NOW() - INTERVAL '24 hours'
					AND i.occurred_at >= NOW() - INTERVAL '48 hours') = 0 THEN 0
				ELSE (COUNT(*) FILTER (WHERE i.occurred_at >= NOW() - INTERVAL '24 hours'))::float
					/ (COUNT(*) FILTER (WHERE i.occurred_at < NOW() - INTERVAL '24 hours'
						AND i.occurred_at >= NOW() - INTERVAL '48 hours')) * 100
			END AS velocity_score
		FROM trending_searches t
		JOIN token_interactions i
			ON i.address = t.address
			AND i.kind = 'search'
			AND i.occurred_at >= NOW() - INTERVAL '7 days'
		WHERE $1 = 'ALL' OR t.asset_type = $1
		GROUP BY t.address, t.asset_type, t.symbol, t.name
		ORDER BY velocity_score DESC, total_searches DESC
		LIMIT $2
	`, string(assetType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.VelocityEntry
	for rows.Next() {
		var e domain.VelocityEntry
		if err := rows.Scan(&e.Address, &e.AssetType, &e.Symbol, &e.Name, &e.RecentCount, &e.PreviousCount, &e.TotalSearches, &e.VelocityScore); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

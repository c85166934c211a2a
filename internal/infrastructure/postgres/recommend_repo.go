package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tokenscout/analytics-service/internal/domain"
)

// RecommendRepo reads historical events on each call. Nothing is
// precomputed; every query is bounded by a time-window predicate and a LIMIT
// so it stays index-backed under the request deadline.
type RecommendRepo struct {
	pool *pgxpool.Pool
}

func NewRecommendRepo(pool *pgxpool.Pool) *RecommendRepo {
	return &RecommendRepo{pool: pool}
}

// SimilarQueries finds distinct historical queries whose pg_trgm similarity
// to the input clears the threshold, inside the recency window.
func (r *RecommendRepo) SimilarQueries(ctx context.Context, query string, window time.Duration, threshold float64, max int) ([]string, error) {
	cutoff := time.Now().UTC().Add(-window)
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT query
		FROM search_events
		WHERE occurred_at >= $1
		  AND similarity(query, $2) >= $3
		LIMIT $4
	`, cutoff, query, threshold, max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// ClickCounts aggregates click frequency per address across the candidate
// queries, most clicked first.
func (r *RecommendRepo) ClickCounts(ctx context.Context, queries []string, window time.Duration, limit int) ([]domain.ClickCount, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	cutoff := time.Now().UTC().Add(-window)
	rows, err := r.pool.Query(ctx, `
		SELECT clicked_address, COUNT(*) AS clicks
		FROM click_events
		WHERE query = ANY($1)
		  AND occurred_at >= $2
		GROUP BY clicked_address
		ORDER BY clicks DESC
		LIMIT $3
	`, queries, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []domain.ClickCount
	for rows.Next() {
		var c domain.ClickCount
		if err := rows.Scan(&c.Address, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// AssetInfo resolves addresses against the known_assets side table. Unmapped
// addresses are simply absent from the result; the caller substitutes
// placeholders.
func (r *RecommendRepo) AssetInfo(ctx context.Context, addresses []string) (map[string]domain.AssetInfo, error) {
	if len(addresses) == 0 {
		return map[string]domain.AssetInfo{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT address, asset_type, name, symbol
		FROM known_assets
		WHERE address = ANY($1)
	`, addresses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	info := make(map[string]domain.AssetInfo, len(addresses))
	for rows.Next() {
		var a domain.AssetInfo
		if err := rows.Scan(&a.Address, &a.AssetType, &a.Name, &a.Symbol); err != nil {
			return nil, err
		}
		info[a.Address] = a
	}
	return info, rows.Err()
}

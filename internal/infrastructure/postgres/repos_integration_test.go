//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokenscout/analytics-service/internal/domain"
	"github.com/tokenscout/analytics-service/internal/infrastructure/postgres"
)

const (
	itSession = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	itAddrA   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	itAddrB   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	itAddrC   = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func TestLogInteraction_ScoreClampsAtCap(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool := setupPool(t)
	repo := postgres.NewPopularityRepo(pool)

	// 30 concurrent selects contribute 150 points; the score must stop at 100
	// with no lost updates below the cap.
	n := 30
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.LogInteraction(ctx, domain.Interaction{
				Address:   itAddrA,
				Kind:      domain.InteractionSelect,
				SessionID: itSession,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var score int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT popularity_score FROM learned_tokens WHERE address = $1`, itAddrA).Scan(&score))
	assert.Equal(t, domain.ScoreCap, score)

	var logged int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM token_interactions WHERE address = $1`, itAddrA).Scan(&logged))
	assert.Equal(t, n, logged, "every interaction must be logged even past the cap")
}

func TestLogInteraction_NoLostUpdatesBelowCap(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool := setupPool(t)
	repo := postgres.NewPopularityRepo(pool)

	// 10 concurrent selects stay under the cap: the score must be exactly 50
	n := 10
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.LogInteraction(ctx, domain.Interaction{Address: itAddrB, Kind: domain.InteractionSelect})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var score int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT popularity_score FROM learned_tokens WHERE address = $1`, itAddrB).Scan(&score))
	assert.Equal(t, n*domain.ScoreDeltaSelect, score)
}

func TestLogInteraction_SearchCarriesNoScore(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t)
	repo := postgres.NewPopularityRepo(pool)

	logged, err := repo.LogInteraction(ctx, domain.Interaction{Address: itAddrA, Kind: domain.InteractionSearch})
	require.NoError(t, err)
	assert.True(t, logged)

	var score int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT popularity_score FROM learned_tokens WHERE address = $1`, itAddrA).Scan(&score))
	assert.Equal(t, 0, score)
}

func TestUpsertPopularity_Counters(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t)
	repo := postgres.NewPopularityRepo(pool)

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.UpsertPopularity(ctx, domain.PopularityUpdate{
			Address: itAddrB, Name: "Beta", Symbol: "BETA", AppearedInResults: true,
		}))
	}
	require.NoError(t, repo.UpsertPopularity(ctx, domain.PopularityUpdate{
		Address: itAddrB, WasClicked: true,
	}))

	p, err := repo.GetPopularity(ctx, itAddrB)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.SearchCount)
	assert.Equal(t, int64(1), p.ClickCount)
	assert.InDelta(t, 0.5, p.CTR(), 1e-9)
	require.NotNil(t, p.LastSearchedAt)
	require.NotNil(t, p.LastClickedAt)
}

func TestGetPopularity_Unknown(t *testing.T) {
	pool := setupPool(t)
	repo := postgres.NewPopularityRepo(pool)

	_, err := repo.GetPopularity(context.Background(), itAddrC)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTrendingLogSearch_Idempotent(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t)
	repo := postgres.NewTrendingRepo(pool)

	require.NoError(t, repo.LogSearch(ctx, itAddrA, domain.AssetToken, "ALPHA", "Alpha"))

	var createdAt, updatedAt time.Time
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT created_at, updated_at FROM trending_searches WHERE address = $1`, itAddrA).
		Scan(&createdAt, &updatedAt))

	// a repeat log with empty metadata increments the counter without
	// clobbering symbol/name or created_at
	require.NoError(t, repo.LogSearch(ctx, itAddrA, domain.AssetToken, "", ""))

	entries, err := repo.List(ctx, domain.AssetToken, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].SearchCount)
	assert.Equal(t, "ALPHA", entries[0].Symbol)
	assert.Equal(t, "Alpha", entries[0].Name)
	assert.True(t, entries[0].CreatedAt.Equal(createdAt))
	assert.True(t, entries[0].UpdatedAt.After(updatedAt) || entries[0].UpdatedAt.Equal(updatedAt))
}

func TestTrendingList_TypeFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t)
	repo := postgres.NewTrendingRepo(pool)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.LogSearch(ctx, itAddrA, domain.AssetToken, "ALPHA", "Alpha"))
	}
	require.NoError(t, repo.LogSearch(ctx, itAddrB, domain.AssetToken, "BETA", "Beta"))
	require.NoError(t, repo.LogSearch(ctx, itAddrC, domain.AssetNFT, "PUNK", "Punk"))

	tokens, err := repo.List(ctx, domain.AssetToken, 10)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, itAddrA, tokens[0].Address, "highest search_count first")

	all, err := repo.List(ctx, domain.AssetAll, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestVelocityRanking(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t)
	trending := postgres.NewTrendingRepo(pool)
	popularity := postgres.NewPopularityRepo(pool)

	require.NoError(t, trending.LogSearch(ctx, itAddrA, domain.AssetToken, "ALPHA", "Alpha"))
	require.NoError(t, trending.LogSearch(ctx, itAddrB, domain.AssetToken, "BETA", "Beta"))

	// A: 4 searches in the last 24h, 1 in the window before it
	for i := 0; i < 4; i++ {
		_, err := popularity.LogInteraction(ctx, domain.Interaction{Address: itAddrA, Kind: domain.InteractionSearch})
		require.NoError(t, err)
	}
	// clicks feed the score path only, never the velocity windows
	_, err := popularity.LogInteraction(ctx, domain.Interaction{Address: itAddrA, Kind: domain.InteractionClick})
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO token_interactions (address, kind, occurred_at) VALUES ($1, 'search', NOW() - INTERVAL '30 hours')`,
		itAddrA)
	require.NoError(t, err)

	// B: all activity in the previous window only
	_, err = pool.Exec(ctx, `INSERT INTO learned_tokens (address, name, symbol) VALUES ($1, 'Beta', 'BETA')
		ON CONFLICT (address) DO NOTHING`, itAddrB)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO token_interactions (address, kind, occurred_at)
		 SELECT $1, 'search', NOW() - INTERVAL '30 hours' FROM generate_series(1, 3)`,
		itAddrB)
	require.NoError(t, err)

	entries, err := trending.ListByVelocity(ctx, domain.AssetToken, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, itAddrA, entries[0].Address, "accelerating asset ranks first")
	assert.Equal(t, int64(4), entries[0].RecentCount)
	assert.Equal(t, int64(1), entries[0].PreviousCount)
	assert.Greater(t, entries[0].VelocityScore, entries[1].VelocityScore)
}

func TestEventInsertAndPurge(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t)
	repo := postgres.NewEventRepo(pool)

	require.NoError(t, repo.InsertSearch(ctx, domain.SearchEvent{
		SessionID:       itSession,
		Query:           "alpha token",
		ResultAddresses: []string{itAddrA},
		ResultCount:     1,
		OccurredAt:      time.Now().UTC(),
	}))
	require.NoError(t, repo.InsertClick(ctx, domain.ClickEvent{
		SessionID:      itSession,
		Query:          "alpha token",
		ClickedAddress: itAddrA,
		ResultRank:     0,
		OccurredAt:     time.Now().UTC(),
	}))

	// backdate a pair of events past the retention horizon
	_, err := pool.Exec(ctx,
		`INSERT INTO search_events (session_id, query, occurred_at) VALUES ($1, 'old', NOW() - INTERVAL '100 days')`,
		itSession)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO click_events (session_id, query, clicked_address, result_rank, occurred_at)
		 VALUES ($1, 'old', $2, 0, NOW() - INTERVAL '100 days')`, itSession, itAddrA)
	require.NoError(t, err)

	purged, err := repo.PurgeOlderThan(ctx, domain.EventRetention)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	var remaining int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM search_events`).Scan(&remaining))
	assert.Equal(t, 1, remaining)
}

func TestInsertSearch_NoResults(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t)
	repo := postgres.NewEventRepo(pool)

	// a search that matched nothing still has to be recorded
	require.NoError(t, repo.InsertSearch(ctx, domain.SearchEvent{
		SessionID:  itSession,
		Query:      "no such token",
		OccurredAt: time.Now().UTC(),
	}))

	var addrs []string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT result_addresses FROM search_events WHERE query = $1`, "no such token").Scan(&addrs))
	assert.Empty(t, addrs)
}

func TestRecommendPipeline(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(t)
	events := postgres.NewEventRepo(pool)
	recommend := postgres.NewRecommendRepo(pool)

	now := time.Now().UTC()
	for _, q := range []string{"dogecoin", "doge coin", "dogcoin"} {
		require.NoError(t, events.InsertSearch(ctx, domain.SearchEvent{
			SessionID: itSession, Query: q, ResultCount: 1, OccurredAt: now,
		}))
	}
	// unrelated query must not pass the similarity threshold
	require.NoError(t, events.InsertSearch(ctx, domain.SearchEvent{
		SessionID: itSession, Query: "uniswap governance", ResultCount: 1, OccurredAt: now,
	}))

	queries, err := recommend.SimilarQueries(ctx, "doge", domain.RecommendWindow, domain.SimilarThreshold, domain.MaxPeerQueries)
	require.NoError(t, err)
	assert.Contains(t, queries, "dogecoin")
	assert.NotContains(t, queries, "uniswap governance")

	for i := 0; i < 3; i++ {
		require.NoError(t, events.InsertClick(ctx, domain.ClickEvent{
			SessionID: itSession, Query: "dogecoin", ClickedAddress: itAddrA, ResultRank: 0, OccurredAt: now,
		}))
	}
	require.NoError(t, events.InsertClick(ctx, domain.ClickEvent{
		SessionID: itSession, Query: "doge coin", ClickedAddress: itAddrB, ResultRank: 1, OccurredAt: now,
	}))

	// a click whose query never had a search event is a valid row; it just
	// falls outside the candidate set
	require.NoError(t, events.InsertClick(ctx, domain.ClickEvent{
		SessionID: itSession, Query: "orphaned click query", ClickedAddress: itAddrC, ResultRank: 0, OccurredAt: now,
	}))

	counts, err := recommend.ClickCounts(ctx, queries, domain.RecommendWindow, 10)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, itAddrA, counts[0].Address)
	assert.Equal(t, int64(3), counts[0].Count)

	_, err = pool.Exec(ctx,
		`INSERT INTO known_assets (address, asset_type, name, symbol) VALUES ($1, 'TOKEN', 'Dogecoin', 'DOGE')`,
		itAddrA)
	require.NoError(t, err)

	info, err := recommend.AssetInfo(ctx, []string{itAddrA, itAddrB})
	require.NoError(t, err)
	require.Contains(t, info, itAddrA)
	assert.Equal(t, domain.AssetToken, info[itAddrA].AssetType)
	assert.NotContains(t, info, itAddrB)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tokenscout/analytics-service/internal/cache"
	"github.com/tokenscout/analytics-service/internal/domain"
	"github.com/tokenscout/analytics-service/internal/pkg/logger"
	"github.com/tokenscout/analytics-service/internal/validate"
)

// Frequency above which a recommendation is called out as popular.
const popularReasonThreshold = 10

const (
	ReasonPopular   = "popular with similar-query searchers"
	ReasonFrequent  = "frequently clicked result"
	MaxTrendingSize = 100
	MaxPeerResults  = 20
)

// StatsSource is the upstream seam for network health.
type StatsSource interface {
	NetworkStats(ctx context.Context) (domain.NetworkStats, error)
}

// Pinger reports storage connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type AnalyticsService struct {
	events     domain.EventRepository
	popularity domain.PopularityRepository
	trending   domain.TrendingRepository
	recommend  domain.RecommendRepository
	results    *cache.Cache
	stats      StatsSource
	db         Pinger

	trendingTTL time.Duration
	netStatsTTL time.Duration
}

type Deps struct {
	Events     domain.EventRepository
	Popularity domain.PopularityRepository
	Trending   domain.TrendingRepository
	Recommend  domain.RecommendRepository
	Results    *cache.Cache
	Stats      StatsSource
	DB         Pinger

	TrendingTTL time.Duration
	NetStatsTTL time.Duration
}

func New(d Deps) *AnalyticsService {
	if d.TrendingTTL == 0 {
		d.TrendingTTL = 5 * time.Minute
	}
	if d.NetStatsTTL == 0 {
		d.NetStatsTTL = 10 * time.Second
	}
	return &AnalyticsService{
		events:      d.Events,
		popularity:  d.Popularity,
		trending:    d.Trending,
		recommend:   d.Recommend,
		results:     d.Results,
		stats:       d.Stats,
		db:          d.DB,
		trendingTTL: d.TrendingTTL,
		netStatsTTL: d.NetStatsTTL,
	}
}

// RecordSearch validates and appends one search event, then bumps the
// popularity counters for every result address. The event insert is the
// critical write; counter updates are derived state and must not fail the
// recording.
func (s *AnalyticsService) RecordSearch(ctx context.Context, e domain.SearchEvent) error {
	if err := validate.SessionID(e.SessionID); err != nil {
		return err
	}
	if err := validate.Query(e.Query); err != nil {
		return err
	}
	if err := validate.ResultAddresses(e.ResultAddresses); err != nil {
		return err
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	if err := s.events.InsertSearch(ctx, e); err != nil {
		return err
	}

	for _, addr := range e.ResultAddresses {
		if err := s.popularity.UpsertPopularity(ctx, domain.PopularityUpdate{
			Address:           addr,
			AppearedInResults: true,
		}); err != nil {
			logger.WithCtx(ctx).Warn().Err(err).Str("address", addr).Msg("popularity counter update failed")
		}
	}
	return nil
}

// RecordClick validates and appends one click event, then bumps the clicked
// token's counters.
func (s *AnalyticsService) RecordClick(ctx context.Context, e domain.ClickEvent) error {
	if err := validate.SessionID(e.SessionID); err != nil {
		return err
	}
	if err := validate.Query(e.Query); err != nil {
		return err
	}
	if err := validate.Address(e.ClickedAddress); err != nil {
		return err
	}
	if err := validate.ResultRank(e.ResultRank); err != nil {
		return err
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	if err := s.events.InsertClick(ctx, e); err != nil {
		return err
	}

	if err := s.popularity.UpsertPopularity(ctx, domain.PopularityUpdate{
		Address:    e.ClickedAddress,
		WasClicked: true,
	}); err != nil {
		logger.WithCtx(ctx).Warn().Err(err).Str("address", e.ClickedAddress).Msg("popularity counter update failed")
	}
	return nil
}

// ApplyInteraction feeds the learned-token score path. Returns logged=false
// when the log insert lost the ensure-step race, which callers treat as a
// non-fatal outcome.
func (s *AnalyticsService) ApplyInteraction(ctx context.Context, in domain.Interaction) (bool, error) {
	if err := validate.Address(in.Address); err != nil {
		return false, err
	}
	if !in.Kind.Valid() {
		return false, domain.NewValidationError("kind", "must be one of search, click, select")
	}
	if in.SessionID != "" {
		if err := validate.SessionID(in.SessionID); err != nil {
			return false, err
		}
	}
	return s.popularity.LogInteraction(ctx, in)
}

// UpsertPopularity is the public counter-upsert path behind POST
// /trending/popularity. It is a distinct counter space from the interaction
// score and must not be merged with it.
func (s *AnalyticsService) UpsertPopularity(ctx context.Context, u domain.PopularityUpdate) error {
	if err := validate.Address(u.Address); err != nil {
		return err
	}
	return s.popularity.UpsertPopularity(ctx, u)
}

// GetPopularity reads the per-token counters. Counters are a soft feature:
// an unknown address and a storage failure both come back as zeros.
func (s *AnalyticsService) GetPopularity(ctx context.Context, address string) (domain.TokenPopularity, error) {
	if err := validate.Address(address); err != nil {
		return domain.TokenPopularity{}, err
	}
	p, err := s.popularity.GetPopularity(ctx, address)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.WithCtx(ctx).Warn().Err(err).Str("address", address).Msg("popularity read failed, serving zeros")
		}
		return domain.TokenPopularity{Address: address}, nil
	}
	return p, nil
}

// LogTrendingSearch upserts the materialized trending counter for an asset.
func (s *AnalyticsService) LogTrendingSearch(ctx context.Context, address string, assetType domain.AssetType, symbol, name string) error {
	if err := validate.Address(address); err != nil {
		return err
	}
	if assetType != domain.AssetToken && assetType != domain.AssetNFT {
		return domain.NewValidationError("asset_type", "must be TOKEN or NFT")
	}
	return s.trending.LogSearch(ctx, address, assetType, symbol, name)
}

// TrendingResult is the cached ranked list. Empty assets with cached=false
// is also the soft-failure shape; callers must read it as "no trend data".
type TrendingResult struct {
	Assets  []domain.TrendingEntry `json:"assets"`
	Cached  bool                   `json:"cached"`
	StaleAt time.Time              `json:"stale_at"`
}

// GetTrending serves the fast-path ranking through the result cache.
// Storage failures never propagate: trending is a soft feature.
func (s *AnalyticsService) GetTrending(ctx context.Context, assetType domain.AssetType, limit int) TrendingResult {
	assetType = normalizeAssetType(assetType)
	limit = clampLimit(limit, MaxTrendingSize)

	key := fmt.Sprintf("trending:%s:%d", assetType, limit)
	res, err := s.results.Do(key, s.trendingTTL, func() (any, error) {
		entries, err := s.trending.List(ctx, assetType, limit)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []domain.TrendingEntry{}
		}
		return entries, nil
	})
	if err != nil {
		logger.WithCtx(ctx).Warn().Err(err).Msg("trending read failed, serving empty")
		return TrendingResult{Assets: []domain.TrendingEntry{}}
	}
	return TrendingResult{
		Assets:  res.Value.([]domain.TrendingEntry),
		Cached:  res.Cached,
		StaleAt: res.StaleAt,
	}
}

// VelocityResult mirrors TrendingResult for the velocity ranking path.
type VelocityResult struct {
	Assets  []domain.VelocityEntry `json:"assets"`
	Cached  bool                   `json:"cached"`
	StaleAt time.Time              `json:"stale_at"`
}

// GetTrendingVelocity is the alternate ranking: acceleration over the last
// two 24h windows, bounded to the 7-day horizon. Also soft-failing.
func (s *AnalyticsService) GetTrendingVelocity(ctx context.Context, assetType domain.AssetType, limit int) VelocityResult {
	assetType = normalizeAssetType(assetType)
	limit = clampLimit(limit, MaxTrendingSize)

	key := fmt.Sprintf("trending:velocity:%s:%d", assetType, limit)
	res, err := s.results.Do(key, s.trendingTTL, func() (any, error) {
		entries, err := s.trending.ListByVelocity(ctx, assetType, limit)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []domain.VelocityEntry{}
		}
		return entries, nil
	})
	if err != nil {
		logger.WithCtx(ctx).Warn().Err(err).Msg("velocity trending read failed, serving empty")
		return VelocityResult{Assets: []domain.VelocityEntry{}}
	}
	return VelocityResult{
		Assets:  res.Value.([]domain.VelocityEntry),
		Cached:  res.Cached,
		StaleAt: res.StaleAt,
	}
}

// GetPeerRecommendations runs the collaborative-filtering query: queries
// similar to the input, clicks after those queries, frequencies normalized
// into relative-popularity shares.
func (s *AnalyticsService) GetPeerRecommendations(ctx context.Context, query string, assetType domain.AssetType, limit int) ([]domain.Recommendation, error) {
	if err := validate.Query(query); err != nil {
		return nil, err
	}
	if assetType != domain.AssetToken && assetType != domain.AssetNFT {
		return nil, domain.NewValidationError("asset_type", "must be TOKEN or NFT")
	}
	limit = clampLimit(limit, MaxPeerResults)

	queries, err := s.recommend.SimilarQueries(ctx, query, domain.RecommendWindow, domain.SimilarThreshold, domain.MaxPeerQueries)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return []domain.Recommendation{}, nil
	}

	counts, err := s.recommend.ClickCounts(ctx, queries, domain.RecommendWindow, limit)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return []domain.Recommendation{}, nil
	}

	addrs := make([]string, 0, len(counts))
	for _, c := range counts {
		addrs = append(addrs, c.Address)
	}
	info, err := s.recommend.AssetInfo(ctx, addrs)
	if err != nil {
		return nil, err
	}

	// Mapped candidates of the wrong type are dropped; unmapped candidates
	// stay with placeholders.
	kept := counts[:0]
	for _, c := range counts {
		if a, ok := info[c.Address]; ok && a.AssetType != assetType {
			continue
		}
		kept = append(kept, c)
	}

	var sum int64
	for _, c := range kept {
		sum += c.Count
	}
	if sum == 0 {
		return []domain.Recommendation{}, nil
	}

	recs := make([]domain.Recommendation, 0, len(kept))
	for _, c := range kept {
		name, symbol := "Unknown Token", "UNKNOWN"
		if a, ok := info[c.Address]; ok {
			name, symbol = a.Name, a.Symbol
		}
		reason := ReasonFrequent
		if c.Count > popularReasonThreshold {
			reason = ReasonPopular
		}
		recs = append(recs, domain.Recommendation{
			Address: c.Address,
			Name:    name,
			Symbol:  symbol,
			Score:   float64(c.Count) / float64(sum),
			Reason:  reason,
		})
	}
	return recs, nil
}

// NetworkStats serves cached upstream chain health. Any upstream failure is
// absorbed into zeroed stats.
func (s *AnalyticsService) NetworkStats(ctx context.Context) (domain.NetworkStats, bool) {
	if s.stats == nil {
		return domain.NetworkStats{}, false
	}
	res, err := s.results.Do("netstats", s.netStatsTTL, func() (any, error) {
		st, err := s.stats.NetworkStats(ctx)
		if err != nil {
			return nil, err
		}
		return st, nil
	})
	if err != nil {
		logger.WithCtx(ctx).Warn().Err(err).Msg("network stats fetch failed, serving zeros")
		return domain.NetworkStats{}, false
	}
	return res.Value.(domain.NetworkStats), res.Cached
}

// Health reports storage connectivity.
func (s *AnalyticsService) Health(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func normalizeAssetType(t domain.AssetType) domain.AssetType {
	switch t {
	case domain.AssetToken, domain.AssetNFT:
		return t
	default:
		return domain.AssetAll
	}
}

func clampLimit(n, max int) int {
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

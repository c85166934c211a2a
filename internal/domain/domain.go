package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type AssetType string

const (
	AssetToken AssetType = "TOKEN"
	AssetNFT   AssetType = "NFT"
	AssetAll   AssetType = "ALL"
)

type InteractionKind string

const (
	InteractionSearch InteractionKind = "search"
	InteractionClick  InteractionKind = "click"
	InteractionSelect InteractionKind = "select"
)

// Popularity score deltas per interaction kind. Searches are tracked but
// carry no score weight.
const (
	ScoreDeltaClick  = 3
	ScoreDeltaSelect = 5
	ScoreCap         = 100
)

// Retention and query windows.
const (
	EventRetention   = 90 * 24 * time.Hour
	TrendingHorizon  = 7 * 24 * time.Hour
	RecommendWindow  = 30 * 24 * time.Hour
	VelocityWindow   = 24 * time.Hour
	MaxPeerQueries   = 100
	SimilarThreshold = 0.3
)

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrNotFound  = errors.New("not found")
)

// ValidationError marks malformed input. Surfaced as 400, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SearchEvent is an immutable search record. Written once, purged after the
// retention horizon.
type SearchEvent struct {
	SessionID       string    `json:"session_id"`
	Query           string    `json:"query"`
	ResultAddresses []string  `json:"result_addresses"`
	ResultCount     int       `json:"result_count"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// ClickEvent is linked to a SearchEvent by (session_id, query) co-occurrence.
// That relationship is a lookup index, not a foreign key.
type ClickEvent struct {
	SessionID      string    `json:"session_id"`
	Query          string    `json:"query"`
	ClickedAddress string    `json:"clicked_address"`
	ResultRank     int       `json:"result_rank"`
	ResultScore    float64   `json:"result_score"`
	TimeToClickMs  int64     `json:"time_to_click_ms"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Interaction feeds the learned-token score path. This counter space is
// independent from TokenPopularity and must stay that way.
type Interaction struct {
	Address        string
	Kind           InteractionKind
	SessionID      string
	QueryText      string
	ResultPosition *int
}

// ScoreDelta returns the clamped-score contribution of the interaction kind.
func (k InteractionKind) ScoreDelta() int {
	switch k {
	case InteractionClick:
		return ScoreDeltaClick
	case InteractionSelect:
		return ScoreDeltaSelect
	default:
		return 0
	}
}

func (k InteractionKind) Valid() bool {
	switch k {
	case InteractionSearch, InteractionClick, InteractionSelect:
		return true
	}
	return false
}

// PopularityUpdate drives the counter upsert on token_popularity.
type PopularityUpdate struct {
	Address           string
	Name              string
	Symbol            string
	AppearedInResults bool
	WasClicked        bool
}

// TokenPopularity is the per-token aggregate. click_count <= search_count is
// an eventual relationship, not an invariant: the counters move independently.
type TokenPopularity struct {
	Address        string     `json:"address"`
	SearchCount    int64      `json:"search_count"`
	ClickCount     int64      `json:"click_count"`
	LastSearchedAt *time.Time `json:"last_searched_at,omitempty"`
	LastClickedAt  *time.Time `json:"last_clicked_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CTR is derived at read time so it cannot drift against the counters.
func (p TokenPopularity) CTR() float64 {
	if p.SearchCount == 0 {
		return 0
	}
	return float64(p.ClickCount) / float64(p.SearchCount)
}

// TrendingEntry is the materialized fast-path row, one per address.
type TrendingEntry struct {
	Address     string    `json:"address"`
	AssetType   AssetType `json:"asset_type"`
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name"`
	SearchCount int64     `json:"search_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VelocityEntry carries the windowed counts for the velocity ranking path.
type VelocityEntry struct {
	Address       string    `json:"address"`
	AssetType     AssetType `json:"asset_type"`
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	RecentCount   int64     `json:"recent_count"`
	PreviousCount int64     `json:"previous_count"`
	TotalSearches int64     `json:"total_searches"`
	VelocityScore float64   `json:"velocity_score"`
}

// Recommendation is one peer-recommendation candidate. Score is a
// relative-popularity share across the returned set, not a probability over
// all clicks.
type Recommendation struct {
	Address string  `json:"address"`
	Name    string  `json:"name"`
	Symbol  string  `json:"symbol"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
}

// ClickCount is a clicked address with its frequency among similar queries.
type ClickCount struct {
	Address string
	Count   int64
}

// AssetInfo maps an address to its type and display metadata.
type AssetInfo struct {
	Address   string
	AssetType AssetType
	Name      string
	Symbol    string
}

// NetworkStats is derived from the upstream explorer; zeros on soft failure.
type NetworkStats struct {
	LatestBlock   int64   `json:"latest_block"`
	GasPriceGwei  float64 `json:"gas_price_gwei"`
	PeerCount     int64   `json:"peer_count"`
	SyncedPercent float64 `json:"synced_percent"`
}

// EventRepository owns the append-only event tables.
type EventRepository interface {
	InsertSearch(ctx context.Context, e SearchEvent) error
	InsertClick(ctx context.Context, e ClickEvent) error
	PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error)
}

// PopularityRepository owns learned_tokens/token_interactions and
// token_popularity. Both mutation paths are single-statement atomic upserts.
type PopularityRepository interface {
	// LogInteraction returns logged=false when the interaction row lost a
	// parent-row race; that is a tolerated outcome, not an error.
	LogInteraction(ctx context.Context, in Interaction) (logged bool, err error)
	UpsertPopularity(ctx context.Context, u PopularityUpdate) error
	GetPopularity(ctx context.Context, address string) (TokenPopularity, error)
}

type TrendingRepository interface {
	LogSearch(ctx context.Context, address string, assetType AssetType, symbol, name string) error
	List(ctx context.Context, assetType AssetType, limit int) ([]TrendingEntry, error)
	ListByVelocity(ctx context.Context, assetType AssetType, limit int) ([]VelocityEntry, error)
}

// RecommendRepository reads historical events on each call; every query is
// bounded by a time window and a LIMIT.
type RecommendRepository interface {
	SimilarQueries(ctx context.Context, query string, window time.Duration, threshold float64, max int) ([]string, error)
	ClickCounts(ctx context.Context, queries []string, window time.Duration, limit int) ([]ClickCount, error)
	AssetInfo(ctx context.Context, addresses []string) (map[string]AssetInfo, error)
}

// CacheRepository is the shared redis seam (rate limiting + liveness).
type CacheRepository interface {
	AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error)
	Ping(ctx context.Context) error
}

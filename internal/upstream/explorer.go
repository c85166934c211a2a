package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	appCtx "github.com/tokenscout/analytics-service/internal/pkg/context"
	"github.com/tokenscout/analytics-service/internal/domain"
	"github.com/tokenscout/analytics-service/internal/pkg/logger"
)

var (
	ErrTimeout     = errors.New("upstream timeout")
	ErrUnavailable = errors.New("upstream unavailable")
)

// StatusError carries a non-success upstream status so proxy callers can
// forward it as-is.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

type ClientConfig struct {
	BaseURL     string
	APIKey      string
	ReadTimeout time.Duration
}

func DefaultClientConfig(baseURL, apiKey string) ClientConfig {
	return ClientConfig{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		ReadTimeout: 2 * time.Second,
	}
}

// Client is the block-explorer API client. It injects the request id and API
// key, enforces a per-request timeout, and maps transport failures to the
// two upstream sentinels.
type Client struct {
	baseClient *http.Client
	config     ClientConfig
}

func NewClient(config ClientConfig) *Client {
	return &Client{
		baseClient: &http.Client{Timeout: 0},
		config:     config,
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ReadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if reqID := appCtx.GetRequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}
	if c.config.APIKey != "" {
		req.Header.Set("X-Api-Key", c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.baseClient.Do(req)
	if err != nil {
		logger.WithCtx(ctx).Warn().
			Err(err).
			Str("path", path).
			Dur("duration", time.Since(start)).
			Msg("explorer_request_failed")
		return c.mapError(err)
	}
	defer resp.Body.Close()

	logger.WithCtx(ctx).Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("explorer_request_completed")

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	return ErrUnavailable
}

// NetworkStats fetches live chain health. Callers on the soft path convert
// any failure here to zeroed stats.
func (c *Client) NetworkStats(ctx context.Context) (domain.NetworkStats, error) {
	var payload struct {
		LatestBlock   int64   `json:"latest_block"`
		GasPriceGwei  float64 `json:"gas_price_gwei"`
		PeerCount     int64   `json:"peer_count"`
		SyncedPercent float64 `json:"synced_percent"`
	}
	if err := c.get(ctx, "/api/v1/stats", &payload); err != nil {
		return domain.NetworkStats{}, err
	}
	return domain.NetworkStats{
		LatestBlock:   payload.LatestBlock,
		GasPriceGwei:  payload.GasPriceGwei,
		PeerCount:     payload.PeerCount,
		SyncedPercent: payload.SyncedPercent,
	}, nil
}

package upstream

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	appCtx "github.com/tokenscout/analytics-service/internal/pkg/context"
	"github.com/tokenscout/analytics-service/internal/pkg/logger"
)

// NewProxy creates a reverse proxy for the block-explorer API that rewrites
// paths and propagates the request id. Upstream status codes pass through
// untouched; only an unreachable upstream becomes a 502 here.
// targetHost: "https://explorer.example.com"
// stripPrefix: "/explorer"
// upstreamPrefix: "/api/v1"
func NewProxy(targetHost, stripPrefix, upstreamPrefix, apiKey string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(targetHost)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director

	proxy.Director = func(req *http.Request) {
		originalDirector(req)

		// Host header: upstream should see itself as the called host
		req.Host = target.Host

		// Path rewrite: /explorer/address/0xabc -> /api/v1/address/0xabc
		if strings.HasPrefix(req.URL.Path, stripPrefix) {
			req.URL.Path = upstreamPrefix + strings.TrimPrefix(req.URL.Path, stripPrefix)
		}

		if apiKey != "" {
			req.Header.Set("X-Api-Key", apiKey)
		}
		if reqID := appCtx.GetRequestID(req.Context()); reqID != "" {
			req.Header.Set("X-Request-Id", reqID)
		}
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		reqID := appCtx.GetRequestID(r.Context())

		logger.Logger.Error().
			Err(err).
			Str("target", targetHost).
			Str("request_id", reqID).
			Msg("upstream_proxy_error")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"code":"upstream_unavailable","message":"block explorer unreachable","request_id":"` + reqID + `"}}`))
	}

	return proxy, nil
}

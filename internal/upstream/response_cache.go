package upstream

import (
	"errors"
	"net/http"
	"time"

	"github.com/tokenscout/analytics-service/internal/cache"
)

// proxiedResponse is a captured upstream response, stored whole so a cache
// hit replays status, headers and body exactly.
type proxiedResponse struct {
	status int
	header http.Header
	body   []byte
}

var errSkipCache = errors.New("response not cacheable")

type bufferingWriter struct {
	status int
	header http.Header
	body   []byte
}

func newBufferingWriter() *bufferingWriter {
	return &bufferingWriter{header: make(http.Header)}
}

func (b *bufferingWriter) Header() http.Header { return b.header }

func (b *bufferingWriter) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferingWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	b.body = append(b.body, p...)
	return len(p), nil
}

func (b *bufferingWriter) snapshot() proxiedResponse {
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	return proxiedResponse{status: status, header: b.header.Clone(), body: b.body}
}

func writeProxied(w http.ResponseWriter, resp proxiedResponse, hit bool) {
	for k, vv := range resp.header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	if hit {
		w.Header().Set("X-Cache", "HIT")
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

// CacheReads wraps the explorer proxy so repeated GETs within the TTL are
// served from the per-instance result cache. Only 200 responses are stored;
// any other status, and any non-GET method, passes through untouched.
func CacheReads(next http.Handler, results *cache.Cache, ttl time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		key := "explorer:" + r.URL.RequestURI()
		var uncached *proxiedResponse
		res, err := results.Do(key, ttl, func() (any, error) {
			buf := newBufferingWriter()
			next.ServeHTTP(buf, r)
			resp := buf.snapshot()
			if resp.status != http.StatusOK {
				uncached = &resp
				return nil, errSkipCache
			}
			return resp, nil
		})
		// A fresh non-200 always wins over a stale cached 200.
		if uncached != nil {
			writeProxied(w, *uncached, false)
			return
		}
		if err != nil {
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
			return
		}
		writeProxied(w, res.Value.(proxiedResponse), res.Cached)
	})
}

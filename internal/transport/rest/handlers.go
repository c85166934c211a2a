package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/tokenscout/analytics-service/internal/domain"
	appCtx "github.com/tokenscout/analytics-service/internal/pkg/context"
	"github.com/tokenscout/analytics-service/internal/service"
	"github.com/tokenscout/analytics-service/internal/validate"
	"github.com/tokenscout/analytics-service/internal/transport/rest/response"
)

type Handler struct {
	svc *service.AnalyticsService
}

func NewHandler(svc *service.AnalyticsService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RecordSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID   string   `json:"session_id"`
		Query       string   `json:"query"`
		Results     []string `json:"results"`
		ResultCount int      `json:"result_count"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	err := h.svc.RecordSearch(r.Context(), domain.SearchEvent{
		SessionID:       req.SessionID,
		Query:           req.Query,
		ResultAddresses: req.Results,
		ResultCount:     req.ResultCount,
	})
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (h *Handler) RecordClick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID      string  `json:"session_id"`
		Query          string  `json:"query"`
		ClickedAddress string  `json:"clicked_address"`
		ResultRank     int     `json:"result_rank"`
		ResultScore    float64 `json:"result_score"`
		TimeToClickMs  int64   `json:"time_to_click_ms"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	err := h.svc.RecordClick(r.Context(), domain.ClickEvent{
		SessionID:      req.SessionID,
		Query:          req.Query,
		ClickedAddress: req.ClickedAddress,
		ResultRank:     req.ResultRank,
		ResultScore:    req.ResultScore,
		TimeToClickMs:  req.TimeToClickMs,
	})
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]bool{"accepted": true})
}

// GetTrending serves the ranked list. Never errors: storage failure comes
// back as an empty asset list, which callers read as "no trend data".
func (h *Handler) GetTrending(w http.ResponseWriter, r *http.Request) {
	assetType := domain.AssetType(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("type"))))
	limit := parseLimit(r.URL.Query().Get("limit"), 20, service.MaxTrendingSize)

	if wantsCaching(r) {
		w.Header().Set("Cache-Control", "public, max-age=300, stale-while-revalidate=600")
	}

	if strings.EqualFold(r.URL.Query().Get("sort"), "velocity") {
		response.Data(w, http.StatusOK, h.svc.GetTrendingVelocity(r.Context(), assetType, limit))
		return
	}
	response.Data(w, http.StatusOK, h.svc.GetTrending(r.Context(), assetType, limit))
}

func (h *Handler) LogTrendingSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		AssetType string `json:"asset_type"`
		Symbol    string `json:"symbol"`
		Name      string `json:"name"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	assetType := domain.AssetType(strings.ToUpper(strings.TrimSpace(req.AssetType)))
	if err := h.svc.LogTrendingSearch(r.Context(), req.Address, assetType, req.Symbol, req.Name); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]bool{"logged": true})
}

func (h *Handler) GetPopularity(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	p, err := h.svc.GetPopularity(r.Context(), address)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	if wantsCaching(r) {
		w.Header().Set("Cache-Control", "public, max-age=300, stale-while-revalidate=600")
	}
	response.Data(w, http.StatusOK, map[string]any{
		"address":          p.Address,
		"search_count":     p.SearchCount,
		"click_count":      p.ClickCount,
		"ctr":              p.CTR(),
		"last_searched_at": p.LastSearchedAt,
		"last_clicked_at":  p.LastClickedAt,
		"updated_at":       p.UpdatedAt,
	})
}

// UpdatePopularity serves both write paths behind POST /trending/popularity:
// an interaction (kind present) feeds the clamped learned-token score, the
// appeared/clicked flags feed the token_popularity counters. The two are
// separate counter spaces and either or both may be present in one request.
func (h *Handler) UpdatePopularity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address           string `json:"address"`
		Kind              string `json:"kind,omitempty"`
		SessionID         string `json:"session_id,omitempty"`
		QueryText         string `json:"query_text,omitempty"`
		ResultPosition    *int   `json:"result_position,omitempty"`
		Name              string `json:"name,omitempty"`
		Symbol            string `json:"symbol,omitempty"`
		AppearedInResults bool   `json:"appeared_in_results,omitempty"`
		WasClicked        bool   `json:"was_clicked,omitempty"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	// Reject a bad address even when the body carries no counter to move.
	if err := validate.Address(req.Address); err != nil {
		handleErr(w, r, err)
		return
	}

	logged := false
	if req.Kind != "" {
		var err error
		logged, err = h.svc.ApplyInteraction(r.Context(), domain.Interaction{
			Address:        req.Address,
			Kind:           domain.InteractionKind(strings.ToLower(req.Kind)),
			SessionID:      req.SessionID,
			QueryText:      req.QueryText,
			ResultPosition: req.ResultPosition,
		})
		if err != nil {
			handleErr(w, r, err)
			return
		}
	}

	if req.AppearedInResults || req.WasClicked {
		err := h.svc.UpsertPopularity(r.Context(), domain.PopularityUpdate{
			Address:           req.Address,
			Name:              req.Name,
			Symbol:            req.Symbol,
			AppearedInResults: req.AppearedInResults,
			WasClicked:        req.WasClicked,
		})
		if err != nil {
			handleErr(w, r, err)
			return
		}
	}

	response.Data(w, http.StatusOK, map[string]bool{"logged": logged})
}

func (h *Handler) GetPeerRecommendations(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	assetType := domain.AssetType(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("type"))))
	if assetType == "" {
		assetType = domain.AssetToken
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 10, service.MaxPeerResults)

	recs, err := h.svc.GetPeerRecommendations(r.Context(), query, assetType, limit)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"recommendations": recs})
}

func (h *Handler) NetworkStats(w http.ResponseWriter, r *http.Request) {
	stats, cached := h.svc.NetworkStats(r.Context())
	response.Data(w, http.StatusOK, map[string]any{
		"stats":  stats,
		"cached": cached,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.svc.Health(ctx); err != nil {
		fail(w, r, http.StatusServiceUnavailable, "storage.unavailable", "storage unreachable", nil)
		return
	}
	response.Data(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		fail(w, r, http.StatusBadRequest, "request.invalid", ve.Error(), map[string]string{
			ve.Field: ve.Reason,
		})
	default:
		// Do not leak internal details.
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}

func wantsCaching(r *http.Request) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("cache"))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func parseLimit(s string, def, max int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

// Package handler exposes the audit trail read API to back-office staff.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	audit "storefront/pkg/platform/audit"
	"storefront/pkg/platform/audit/policy"
	"storefront/pkg/platform/audit/service"
	"storefront/pkg/platform/httputil"
	"storefront/pkg/platform/sentinel"
	"storefront/pkg/requestcontext"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Service defines the audit read operations the handler needs.
type Service interface {
	ListFor(ctx context.Context, reader policy.Reader, filter audit.Filter) ([]audit.Record, error)
	Verify(ctx context.Context, id string) (bool, error)
}

// Handler wires audit read endpoints to the audit service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an audit handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the audit endpoints on the router. Callers mount it behind authentication.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/audit", h.HandleList)
	r.Get("/admin/audit/{id}/verify", h.HandleVerify)
}

// ListResponse is the body of GET /admin/audit.
type ListResponse struct {
	Records []audit.Record `json:"records"`
	Count   int            `json:"count"`
}

// VerifyResponse is the body of GET /admin/audit/{id}/verify.
type VerifyResponse struct {
	ID    string `json:"id"`
	Valid bool   `json:"valid"`
}

// HandleList handles GET /admin/audit. Records the caller may not read are omitted, never
// reported as forbidden.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info := requestcontext.FromContext(ctx)

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.service.ListFor(ctx, service.ReaderFromContext(ctx), filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit list failed",
			"request_id", info.RequestID,
			"actor_id", info.ActorID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	if records == nil {
		records = []audit.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Records: records, Count: len(records)})
}

// HandleVerify handles GET /admin/audit/{id}/verify. A record the caller may not read is
// reported as not found.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info := requestcontext.FromContext(ctx)
	id := chi.URLParam(r, "id")

	visible, err := h.service.ListFor(ctx, service.ReaderFromContext(ctx), audit.Filter{ID: id, Limit: 1})
	if err != nil {
		h.logger.ErrorContext(ctx, "audit lookup failed", "request_id", info.RequestID, "record_id", id, "error", err)
		httputil.WriteError(w, err)
		return
	}
	if len(visible) == 0 {
		httputil.WriteError(w, fmt.Errorf("audit record %s: %w", id, sentinel.ErrNotFound))
		return
	}

	valid, err := h.service.Verify(ctx, id)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			h.logger.ErrorContext(ctx, "audit verify failed", "request_id", info.RequestID, "record_id", id, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}
	if !valid {
		h.logger.WarnContext(ctx, "audit record failed integrity verification",
			"request_id", info.RequestID,
			"record_id", id,
			"actor_id", info.ActorID,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, VerifyResponse{ID: id, Valid: valid})
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		ActorID: strings.TrimSpace(q.Get("actor_id")),
		Limit:   defaultLimit,
	}

	if v := q.Get("entity"); v != "" {
		entity, err := audit.ParseEntity(v)
		if err != nil {
			return audit.Filter{}, fmt.Errorf("entity %q: %w", v, sentinel.ErrInvalidInput)
		}
		f.Entity = entity
	}
	if v := q.Get("action"); v != "" {
		action, err := audit.ParseAction(v)
		if err != nil {
			return audit.Filter{}, fmt.Errorf("action %q: %w", v, sentinel.ErrInvalidInput)
		}
		f.Action = action
	}

	var err error
	if f.CreatedFrom, err = parseTime(q.Get("from")); err != nil {
		return audit.Filter{}, fmt.Errorf("from: %w", err)
	}
	if f.CreatedTo, err = parseTime(q.Get("to")); err != nil {
		return audit.Filter{}, fmt.Errorf("to: %w", err)
	}
	if !f.CreatedFrom.IsZero() && !f.CreatedTo.IsZero() && !f.CreatedFrom.Before(f.CreatedTo) {
		return audit.Filter{}, fmt.Errorf("from must be before to: %w", sentinel.ErrInvalidInput)
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLimit {
			return audit.Filter{}, fmt.Errorf("limit must be between 1 and %d: %w", maxLimit, sentinel.ErrInvalidInput)
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 timestamp: %w", sentinel.ErrInvalidInput)
	}
	return t.UTC(), nil
}

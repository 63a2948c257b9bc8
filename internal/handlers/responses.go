package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mercado-field/api/internal/platform/auth"
	"github.com/mercado-field/api/internal/platform/httpx"
	"github.com/mercado-field/api/internal/platform/observability"
	"github.com/mercado-field/api/internal/services"
)

// serviceErrorStatus maps service sentinels to HTTP responses. Order matters: the first match wins.
var serviceErrorStatus = []struct {
	target error
	code   string
	status int
}{
	{services.ErrNotFound, "not_found", http.StatusNotFound},
	{services.ErrUnavailable, "product_unavailable", http.StatusConflict},
	{services.ErrInsufficientStock, "insufficient_stock", http.StatusConflict},
	{services.ErrInvalidState, "invalid_state", http.StatusConflict},
	{services.ErrInvalidArgument, "invalid_request", http.StatusBadRequest},
	{services.ErrEmptyCart, "empty_cart", http.StatusUnprocessableEntity},
	{services.ErrForbidden, "forbidden", http.StatusForbidden},
	{services.ErrConflict, "conflict", http.StatusConflict},
	{services.ErrRepositoryUnavailable, "service_unavailable", http.StatusServiceUnavailable},
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request cancelled or timed out", http.StatusServiceUnavailable))
		return
	}
	for _, m := range serviceErrorStatus {
		if errors.Is(err, m.target) {
			httpx.WriteError(ctx, w, httpx.NewError(m.code, err.Error(), m.status))
			return
		}
	}
	observability.FromContext(ctx).Error("unhandled service error", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
}

// requireIdentity writes 401 and returns false when the auth middleware left no identity on the request.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// decodeBody decodes the JSON body into dst, writing the error response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, limit int64) bool {
	err := httpx.DecodeJSON(w, r, dst, limit)
	if err == nil {
		return true
	}
	var httpErr httpx.Error
	if !errors.As(err, &httpErr) {
		httpErr = httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	}
	httpx.WriteError(r.Context(), w, httpErr)
	return false
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}

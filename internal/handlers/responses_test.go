package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mercado-field/api/internal/services"
)

func TestWriteServiceErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrNotFound, http.StatusNotFound, "not_found"},
		{services.ErrUnavailable, http.StatusConflict, "product_unavailable"},
		{services.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
		{services.ErrEmptyCart, http.StatusUnprocessableEntity, "empty_cart"},
		{services.ErrInvalidArgument, http.StatusBadRequest, "invalid_request"},
		{services.ErrInvalidState, http.StatusConflict, "invalid_state"},
		{services.ErrForbidden, http.StatusForbidden, "forbidden"},
		{services.ErrConflict, http.StatusConflict, "conflict"},
		{services.ErrRepositoryUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, "request_timeout"},
		{fmt.Errorf("wrapped: %w", services.ErrNotFound), http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		writeServiceError(context.Background(), rr, tc.err)
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
		if code := errorCode(t, rr); code != tc.code {
			t.Fatalf("%v: expected code %s, got %s", tc.err, tc.code, code)
		}
	}
}

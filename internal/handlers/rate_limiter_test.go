package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/services"
)

func TestWindowRateLimiter(t *testing.T) {
	now := fixedNow
	limiter := newWindowRateLimiter(2, time.Minute, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow("u1"); !ok {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	ok, wait := limiter.Allow("u1")
	if ok || wait != time.Minute {
		t.Fatalf("third call should wait a minute, got %v %s", ok, wait)
	}
	if ok, _ := limiter.Allow("u2"); !ok {
		t.Fatalf("keys must not share a window")
	}

	now = now.Add(time.Minute + time.Second)
	if ok, _ := limiter.Allow("u1"); !ok {
		t.Fatalf("window should have reset")
	}

	if newWindowRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("zero limit must disable the limiter")
	}
}

func TestOrderHandlers_CheckoutRateLimit(t *testing.T) {
	var calls int
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
			calls++
			return sampleOrder("ord_1", cmd.UserID, domain.OrderStatusPending), nil
		},
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			return sampleOrder(cmd.OrderID, cmd.RequesterID, domain.OrderStatusCancelled), nil
		},
	}
	now := fixedNow
	h := NewOrderHandlers(newAuthenticator(), svc, WithCheckoutRateLimit(1, 30*time.Second, func() time.Time { return now }))
	router := mount(h.Routes)

	if rr := doRequest(t, router, http.MethodPost, "/api/v1/x/", "u1", `{}`); rr.Code != http.StatusCreated {
		t.Fatalf("first checkout: expected 201, got %d", rr.Code)
	}
	rr := doRequest(t, router, http.MethodPost, "/api/v1/x/", "u1", `{}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second checkout: expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected Retry-After 30, got %q", got)
	}
	if code := errorCode(t, rr); code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %s", code)
	}
	if calls != 1 {
		t.Fatalf("limited checkout must not reach the service, got %d calls", calls)
	}

	if rr := doRequest(t, router, http.MethodPost, "/api/v1/x/", "u2", `{}`); rr.Code != http.StatusCreated {
		t.Fatalf("other buyer: expected 201, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodPost, "/api/v1/x/ord_1:cancel", "u1", ""); rr.Code != http.StatusOK {
		t.Fatalf("cancel is not rate limited, got %d", rr.Code)
	}
}

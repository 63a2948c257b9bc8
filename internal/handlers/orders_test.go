package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/platform/idempotency"
	"github.com/mercado-field/api/internal/services"
)

func TestOrderHandlers_CreateOrder(t *testing.T) {
	var got services.CreateOrderFromCartCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
			got = cmd
			return sampleOrder("ord_1", cmd.UserID, domain.OrderStatusPending), nil
		},
	}
	router := mount(NewOrderHandlers(newAuthenticator(), svc).Routes)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/x/", "u1", `{"paymentMethod":"PIX","freight":"5.00"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "u1" || got.PaymentMethod != "PIX" {
		t.Fatalf("unexpected command %+v", got)
	}
	if got.Freight == nil || got.Freight.String() != "5" {
		t.Fatalf("expected freight 5, got %v", got.Freight)
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/x/ord_1" {
		t.Fatalf("unexpected location %q", loc)
	}
	body := decodeBodyMap(t, rr)
	if body["total"] != "25.00" || body["status"] != "PENDING" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestOrderHandlers_CreateOrderErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "bad freight", body: `{"freight":"lots"}`, status: http.StatusBadRequest},
		{name: "empty cart", body: `{}`, err: services.ErrEmptyCart, status: http.StatusUnprocessableEntity},
		{name: "short stock", body: `{}`, err: services.ErrInsufficientStock, status: http.StatusConflict},
		{name: "store down", body: `{}`, err: services.ErrRepositoryUnavailable, status: http.StatusServiceUnavailable},
		{name: "unexpected", body: `{}`, err: fmt.Errorf("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderFromCartCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := mount(NewOrderHandlers(newAuthenticator(), svc).Routes)
			rr := doRequest(t, router, http.MethodPost, "/api/v1/x/", "u1", tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestOrderHandlers_CreateOrderIsIdempotent(t *testing.T) {
	var calls int
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
			calls++
			return sampleOrder(fmt.Sprintf("ord_%d", calls), cmd.UserID, domain.OrderStatusPending), nil
		},
	}
	handlers := NewOrderHandlers(newAuthenticator(), svc, WithOrderIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())))
	router := mount(handlers.Routes)

	send := func() map[string]any {
		req := doRequestWithHeader(t, router, http.MethodPost, "/api/v1/x/", "u1", `{}`, idempotency.DefaultHeader, "checkout-1")
		if req.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", req.Code)
		}
		return decodeBodyMap(t, req)
	}
	first := send()
	second := send()

	if calls != 1 {
		t.Fatalf("expected a single conversion, got %d", calls)
	}
	if first["id"] != second["id"] {
		t.Fatalf("expected replayed order %v, got %v", first["id"], second["id"])
	}
}

func TestOrderHandlers_ListOrders(t *testing.T) {
	var got services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			got = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder("ord_2", "u1", domain.OrderStatusConfirmed)},
				NextPageToken: "next",
			}, nil
		},
	}
	router := mount(NewOrderHandlers(newAuthenticator(), svc).Routes)

	rr := doRequest(t, router, http.MethodGet, "/api/v1/x/?pageSize=500&status=PENDING,CONFIRMED&status=PENDING", "u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.RequesterID != "u1" || got.IncludeAll {
		t.Fatalf("buyer must only see own orders: %+v", got)
	}
	if got.Pagination.PageSize != 100 {
		t.Fatalf("expected page size clamped to 100, got %d", got.Pagination.PageSize)
	}
	if len(got.Status) != 2 || got.Status[0] != domain.OrderStatusPending || got.Status[1] != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected status filter %v", got.Status)
	}
	if body := decodeBodyMap(t, rr); body["nextPageToken"] != "next" {
		t.Fatalf("expected next token, got %v", body["nextPageToken"])
	}

	rr = doRequest(t, router, http.MethodGet, "/api/v1/x/", "root:admin", "")
	if rr.Code != http.StatusOK || !got.IncludeAll {
		t.Fatalf("admin should list every order, got %d %+v", rr.Code, got)
	}
}

func TestOrderHandlers_ListOrdersRejectsBadQuery(t *testing.T) {
	router := mount(NewOrderHandlers(newAuthenticator(), &stubOrderService{}).Routes)

	for _, query := range []string{"?pageSize=abc", "?pageToken=!!!", "?status=LOST", "?status=pending"} {
		rr := doRequest(t, router, http.MethodGet, "/api/v1/x/"+query, "u1", "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestOrderHandlers_GetAndCancel(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(_ context.Context, q services.GetOrderQuery) (services.Order, error) {
			if q.RequesterID != "u1" {
				return services.Order{}, services.ErrForbidden
			}
			return sampleOrder(q.OrderID, "u1", domain.OrderStatusPending), nil
		},
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.OrderID != "ord_1" {
				t.Fatalf("unexpected order id %q", cmd.OrderID)
			}
			if cmd.RequesterID != "u1" {
				return services.Order{}, services.ErrForbidden
			}
			return sampleOrder(cmd.OrderID, "u1", domain.OrderStatusCancelled), nil
		},
	}
	router := mount(NewOrderHandlers(newAuthenticator(), svc).Routes)

	if rr := doRequest(t, router, http.MethodGet, "/api/v1/x/ord_1", "u1", ""); rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodGet, "/api/v1/x/ord_1", "u2", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("get other: expected 403, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodPost, "/api/v1/x/ord_1:cancel", "u2", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("cancel other: expected 403, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodPost, "/api/v1/x/ord_1:cancel", "root:admin", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("admin cancel of another buyer's order: expected 403, got %d", rr.Code)
	}
	rr := doRequest(t, router, http.MethodPost, "/api/v1/x/ord_1:cancel", "u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("buyer cancel: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBodyMap(t, rr); body["status"] != "CANCELLED" {
		t.Fatalf("expected cancelled, got %v", body["status"])
	}
}

func TestOrderHandlers_SetStatus(t *testing.T) {
	svc := &stubOrderService{
		statusFn: func(_ context.Context, cmd services.SetOrderStatusCommand) (services.Order, error) {
			if cmd.Status == "DELIVERED" {
				return services.Order{}, fmt.Errorf("%w: order is cancelled", services.ErrInvalidState)
			}
			return sampleOrder(cmd.OrderID, "u1", domain.OrderStatusInTransit), nil
		},
	}
	router := mount(NewOrderHandlers(newAuthenticator(), svc).Routes)

	if rr := doRequest(t, router, http.MethodPut, "/api/v1/x/ord_1/status", "u1", `{"status":"IN_TRANSIT"}`); rr.Code != http.StatusForbidden {
		t.Fatalf("buyer: expected 403, got %d", rr.Code)
	}
	rr := doRequest(t, router, http.MethodPut, "/api/v1/x/ord_1/status", "s1:seller", `{"status":"IN_TRANSIT"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("seller: expected 403, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "insufficient_role" {
		t.Fatalf("expected insufficient_role, got %s", code)
	}
	if rr := doRequest(t, router, http.MethodPut, "/api/v1/x/ord_1/status", "root:admin", `{"status":"IN_TRANSIT"}`); rr.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", rr.Code)
	}
	rr = doRequest(t, router, http.MethodPut, "/api/v1/x/ord_1/status", "root:admin", `{"status":"DELIVERED"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("terminal: expected 409, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "invalid_state" {
		t.Fatalf("expected invalid_state, got %s", code)
	}
}

func TestOrderHandlers_ListSales(t *testing.T) {
	var got services.SalesFilter
	svc := &stubOrderService{
		salesFn: func(_ context.Context, filter services.SalesFilter) (domain.CursorPage[services.Sale], error) {
			got = filter
			line := domain.OrderLine{ID: "oln_1", ProductID: "p1", SellerID: filter.SellerID, Quantity: 2,
				UnitPrice: decimal.RequireFromString("10"), Subtotal: decimal.RequireFromString("20")}
			return domain.CursorPage[services.Sale]{
				Items: []services.Sale{{
					OrderID:   "ord_1",
					BuyerID:   "u1",
					Status:    domain.OrderStatusPending,
					Lines:     []domain.OrderLine{line},
					Subtotal:  line.Subtotal,
					CreatedAt: fixedNow,
				}},
				NextPageToken: "next",
			}, nil
		},
	}
	router := mount(NewOrderHandlers(newAuthenticator(), svc).Routes)

	if rr := doRequest(t, router, http.MethodGet, "/api/v1/x/sales", "u1", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("buyer: expected 403, got %d", rr.Code)
	}

	rr := doRequest(t, router, http.MethodGet, "/api/v1/x/sales?pageSize=5", "s1:seller", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("seller: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.SellerID != "s1" || got.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter %+v", got)
	}
	body := decodeBodyMap(t, rr)
	items, _ := body["items"].([]any)
	if len(items) != 1 || body["nextPageToken"] != "next" {
		t.Fatalf("unexpected body %v", body)
	}
	if sale, _ := items[0].(map[string]any); sale["orderId"] != "ord_1" || sale["subtotal"] != "20.00" {
		t.Fatalf("unexpected sale %v", sale)
	}

	if rr := doRequest(t, router, http.MethodGet, "/api/v1/x/sales?sellerId=s2", "s1:seller", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("seller reading another seller: expected 403, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodGet, "/api/v1/x/sales?sellerId=s2", "root:admin", ""); rr.Code != http.StatusOK || got.SellerID != "s2" {
		t.Fatalf("admin: expected 200 for s2, got %d %+v", rr.Code, got)
	}
}

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mercado-field/api/internal/services"
)

func TestCartHandlers_GetCart(t *testing.T) {
	svc := &stubCartService{
		getFn: func(_ context.Context, userID string) (services.Cart, error) {
			if userID != "u1" {
				t.Fatalf("expected caller uid, got %s", userID)
			}
			return services.Cart{
				UserID: userID,
				Total:  decimal.RequireFromString("22.5"),
				Lines: []services.CartLine{
					{ID: "cl_1", ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("10"), CreatedAt: fixedNow},
					{ID: "cl_2", ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("2.5"), CreatedAt: fixedNow},
				},
			}, nil
		},
	}
	router := mount(NewCartHandlers(newAuthenticator(), svc).Routes)

	rr := doRequest(t, router, http.MethodGet, "/api/v1/x/", "u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBodyMap(t, rr)
	if body["total"] != "22.50" {
		t.Fatalf("expected total 22.50, got %v", body["total"])
	}
	if body["itemsCount"] != float64(2) {
		t.Fatalf("expected 2 items, got %v", body["itemsCount"])
	}
	if cc := rr.Header().Get("Cache-Control"); cc == "" {
		t.Fatal("expected no-store cache headers")
	}
}

func TestCartHandlers_RequiresAuthentication(t *testing.T) {
	router := mount(NewCartHandlers(newAuthenticator(), &stubCartService{}).Routes)

	rr := doRequest(t, router, http.MethodGet, "/api/v1/x/", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCartHandlers_AddItem(t *testing.T) {
	var got services.AddCartItemCommand
	svc := &stubCartService{
		addFn: func(_ context.Context, cmd services.AddCartItemCommand) (services.CartLine, error) {
			got = cmd
			return services.CartLine{ID: "cl_1", UserID: cmd.UserID, ProductID: cmd.ProductID, Quantity: cmd.Quantity, UnitPrice: decimal.RequireFromString("10")}, nil
		},
	}
	router := mount(NewCartHandlers(newAuthenticator(), svc).Routes)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/x/items", "u1", `{"productId":" p1 ","quantity":3}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "u1" || got.ProductID != "p1" || got.Quantity != 3 {
		t.Fatalf("unexpected command %+v", got)
	}
}

func TestCartHandlers_AddItemErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{name: "unknown field", body: `{"productId":"p1","qty":1}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "insufficient stock", body: `{"productId":"p1","quantity":9}`, err: fmt.Errorf("%w: only 2 left", services.ErrInsufficientStock), status: http.StatusConflict, code: "insufficient_stock"},
		{name: "inactive product", body: `{"productId":"p1","quantity":1}`, err: services.ErrUnavailable, status: http.StatusConflict, code: "product_unavailable"},
		{name: "missing product", body: `{"productId":"p9","quantity":1}`, err: services.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
		{name: "bad quantity", body: `{"productId":"p1","quantity":0}`, err: services.ErrInvalidArgument, status: http.StatusBadRequest, code: "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCartService{
				addFn: func(context.Context, services.AddCartItemCommand) (services.CartLine, error) {
					return services.CartLine{}, tc.err
				},
			}
			router := mount(NewCartHandlers(newAuthenticator(), svc).Routes)

			rr := doRequest(t, router, http.MethodPost, "/api/v1/x/items", "u1", tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, code)
			}
		})
	}
}

func TestCartHandlers_UpdateRemoveAndClear(t *testing.T) {
	var calls []string
	svc := &stubCartService{
		updateFn: func(_ context.Context, cmd services.UpdateCartLineCommand) (services.CartLine, error) {
			calls = append(calls, "update:"+cmd.LineID)
			return services.CartLine{ID: cmd.LineID, Quantity: cmd.Quantity}, nil
		},
		removeFn: func(_ context.Context, cmd services.RemoveCartLineCommand) error {
			calls = append(calls, "remove:"+cmd.LineID)
			return nil
		},
		clearFn: func(_ context.Context, userID string) error {
			calls = append(calls, "clear:"+userID)
			return nil
		},
	}
	router := mount(NewCartHandlers(newAuthenticator(), svc).Routes)

	if rr := doRequest(t, router, http.MethodPatch, "/api/v1/x/items/cl_1", "u1", `{"quantity":4}`); rr.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodDelete, "/api/v1/x/items/cl_1", "u1", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete line: expected 204, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodDelete, "/api/v1/x/", "u1", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("clear: expected 204, got %d", rr.Code)
	}

	want := []string{"update:cl_1", "remove:cl_1", "clear:u1"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Fatalf("expected calls %v, got %v", want, calls)
	}
}

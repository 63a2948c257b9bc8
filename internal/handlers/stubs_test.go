package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/platform/auth"
	"github.com/mercado-field/api/internal/services"
)

var fixedNow = time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)

// tokenVerifier accepts tokens of the form "uid" or "uid:role".
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, token string) (*firebaseauth.Token, error) {
	if token == "bad" {
		return nil, errors.New("token expired")
	}
	uid, role, _ := strings.Cut(token, ":")
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &firebaseauth.Token{UID: uid, Claims: claims}, nil
}

func newAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(tokenVerifier{})
}

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func doRequestWithHeader(t *testing.T, h http.Handler, method, path, token, body, header, value string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(header, value)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBodyMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := decodeBodyMap(t, rr)["error"].(string)
	return code
}

func mount(registrar func(chi.Router)) chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1/x", registrar)
	return r
}

type stubCartService struct {
	getFn    func(ctx context.Context, userID string) (services.Cart, error)
	addFn    func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartLine, error)
	updateFn func(ctx context.Context, cmd services.UpdateCartLineCommand) (services.CartLine, error)
	removeFn func(ctx context.Context, cmd services.RemoveCartLineCommand) error
	clearFn  func(ctx context.Context, userID string) error
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.Cart, error) {
	return s.getFn(ctx, userID)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.CartLine, error) {
	return s.addFn(ctx, cmd)
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, cmd services.UpdateCartLineCommand) (services.CartLine, error) {
	return s.updateFn(ctx, cmd)
}

func (s *stubCartService) RemoveLine(ctx context.Context, cmd services.RemoveCartLineCommand) error {
	return s.removeFn(ctx, cmd)
}

func (s *stubCartService) Clear(ctx context.Context, userID string) error {
	return s.clearFn(ctx, userID)
}

func (s *stubCartService) Total(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type stubOrderService struct {
	createFn func(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error)
	listFn   func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFn    func(ctx context.Context, query services.GetOrderQuery) (services.Order, error)
	statusFn func(ctx context.Context, cmd services.SetOrderStatusCommand) (services.Order, error)
	cancelFn func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
	salesFn  func(ctx context.Context, filter services.SalesFilter) (domain.CursorPage[services.Sale], error)
}

func (s *stubOrderService) CreateFromCart(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	return s.listFn(ctx, filter)
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.GetOrderQuery) (services.Order, error) {
	return s.getFn(ctx, query)
}

func (s *stubOrderService) SetStatus(ctx context.Context, cmd services.SetOrderStatusCommand) (services.Order, error) {
	return s.statusFn(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	return s.cancelFn(ctx, cmd)
}

func (s *stubOrderService) ListSales(ctx context.Context, filter services.SalesFilter) (domain.CursorPage[services.Sale], error) {
	return s.salesFn(ctx, filter)
}

type stubProductService struct {
	retireFn  func(ctx context.Context, cmd services.RetireProductCommand) (services.RetireProductResult, error)
	activeFn  func(ctx context.Context, cmd services.SetProductActiveCommand) (services.Product, error)
	restockFn func(ctx context.Context, cmd services.RestockProductCommand) (services.Product, error)
}

func (s *stubProductService) Retire(ctx context.Context, cmd services.RetireProductCommand) (services.RetireProductResult, error) {
	return s.retireFn(ctx, cmd)
}

func (s *stubProductService) SetActive(ctx context.Context, cmd services.SetProductActiveCommand) (services.Product, error) {
	return s.activeFn(ctx, cmd)
}

func (s *stubProductService) Restock(ctx context.Context, cmd services.RestockProductCommand) (services.Product, error) {
	return s.restockFn(ctx, cmd)
}

func sampleOrder(id, buyer string, status domain.OrderStatus) services.Order {
	return services.Order{
		ID:       id,
		BuyerID:  buyer,
		Status:   status,
		Subtotal: decimal.RequireFromString("20"),
		Freight:  decimal.RequireFromString("5"),
		Total:    decimal.RequireFromString("25"),
		Lines: []services.OrderLine{
			{ID: id + "_1", OrderID: id, ProductID: "p1", SellerID: "s1", Quantity: 2, UnitPrice: decimal.RequireFromString("10"), Subtotal: decimal.RequireFromString("20")},
		},
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
}

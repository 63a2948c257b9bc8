package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/platform/auth"
	"github.com/mercado-field/api/internal/platform/httpx"
	"github.com/mercado-field/api/internal/platform/pagination"
	"github.com/mercado-field/api/internal/services"
)

const maxOrderBodySize = 4 * 1024

// OrderHandlers exposes checkout and order lifecycle endpoints.
type OrderHandlers struct {
	authn      *auth.Authenticator
	orders     services.OrderService
	idempotent func(http.Handler) http.Handler
	checkout   rateLimiter
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithOrderIdempotency guards the mutating order routes with mw, typically idempotency.Middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) {
		h.idempotent = mw
	}
}

// WithCheckoutRateLimit caps order conversions per caller to limit within window. Non-positive values
// leave checkout unlimited.
func WithCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) OrderOption {
	return func(h *OrderHandlers) {
		h.checkout = newWindowRateLimiter(limit, window, clock)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/sales", h.listSales)
	r.Get("/{orderID}", h.getOrder)

	r.Group(func(mutating chi.Router) {
		if h.idempotent != nil {
			mutating.Use(h.idempotent)
		}
		mutating.Post("/", rateLimited(h.checkout, h.createOrder))
		mutating.Post("/{orderID}:cancel", h.cancelOrder)
	})
	r.Put("/{orderID}/status", h.setStatus)
}

type createOrderRequest struct {
	DeliveryAddress string  `json:"deliveryAddress"`
	PaymentMethod   string  `json:"paymentMethod"`
	Freight         *string `json:"freight"`
}

type setOrderStatusRequest struct {
	Status string `json:"status"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	BuyerID         string             `json:"buyerId"`
	Status          string             `json:"status"`
	Subtotal        string             `json:"subtotal"`
	Freight         string             `json:"freight"`
	Total           string             `json:"total"`
	DeliveryAddress string             `json:"deliveryAddress"`
	PaymentMethod   string             `json:"paymentMethod"`
	Lines           []orderLinePayload `json:"lines"`
	CreatedAt       string             `json:"createdAt,omitempty"`
	UpdatedAt       string             `json:"updatedAt,omitempty"`
}

type orderLinePayload struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	SellerID  string `json:"sellerId,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Subtotal  string `json:"subtotal"`
}

type orderListPayload struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type salePayload struct {
	OrderID   string             `json:"orderId"`
	BuyerID   string             `json:"buyerId"`
	Status    string             `json:"status"`
	Subtotal  string             `json:"subtotal"`
	Lines     []orderLinePayload `json:"lines"`
	CreatedAt string             `json:"createdAt,omitempty"`
}

type saleListPayload struct {
	Items         []salePayload `json:"items"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeBody(w, r, &req, maxOrderBodySize) {
		return
	}
	cmd := services.CreateOrderFromCartCommand{
		UserID:          identity.UID,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   req.PaymentMethod,
	}
	if req.Freight != nil {
		freight, err := decimal.NewFromString(strings.TrimSpace(*req.Freight))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "freight must be a decimal amount", http.StatusBadRequest))
			return
		}
		cmd.Freight = &freight
	}

	order, err := h.orders.CreateFromCart(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	statuses, err := parseStatusFilter(r.URL.Query()["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		RequesterID: identity.UID,
		IncludeAll:  identity.IsAdmin(),
		Status:      statuses,
		Pagination:  domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := orderListPayload{Items: make([]orderPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		payload.Items = append(payload.Items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

// listSales serves the caller's seller view. Admins may name another seller with ?sellerId=.
func (h *OrderHandlers) listSales(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if !identity.HasAnyRole(auth.RoleSeller, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "the sales view requires the seller role", http.StatusForbidden))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	sellerID := identity.UID
	if requested := strings.TrimSpace(r.URL.Query().Get("sellerId")); requested != "" && requested != sellerID {
		if !identity.IsAdmin() {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "sellers may only list their own sales", http.StatusForbidden))
			return
		}
		sellerID = requested
	}

	page, err := h.orders.ListSales(ctx, services.SalesFilter{
		SellerID:   sellerID,
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := saleListPayload{Items: make([]salePayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, sale := range page.Items {
		payload.Items = append(payload.Items, salePayload{
			OrderID:   sale.OrderID,
			BuyerID:   sale.BuyerID,
			Status:    string(sale.Status),
			Subtotal:  sale.Subtotal.StringFixed(2),
			Lines:     buildLinePayloads(sale.Lines),
			CreatedAt: formatTime(sale.CreatedAt),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID:     chi.URLParam(r, "orderID"),
		RequesterID: identity.UID,
		IncludeAll:  identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:     chi.URLParam(r, "orderID"),
		RequesterID: identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) setStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if !identity.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "order status changes require the admin role", http.StatusForbidden))
		return
	}

	var req setOrderStatusRequest
	if !decodeBody(w, r, &req, maxOrderBodySize) {
		return
	}
	order, err := h.orders.SetStatus(ctx, services.SetOrderStatusCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  req.Status,
		ActorID: identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

// parseStatusFilter accepts repeated and comma separated status values.
func parseStatusFilter(raw []string) ([]domain.OrderStatus, error) {
	var out []domain.OrderStatus
	seen := make(map[domain.OrderStatus]struct{})
	for _, value := range raw {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := domain.ParseOrderStatus(part)
			if !ok {
				return nil, fmt.Errorf("unknown order status %q", strings.TrimSpace(part))
			}
			if _, dup := seen[status]; dup {
				continue
			}
			seen[status] = struct{}{}
			out = append(out, status)
		}
	}
	return out, nil
}

func buildLinePayloads(src []domain.OrderLine) []orderLinePayload {
	lines := make([]orderLinePayload, 0, len(src))
	for _, line := range src {
		lines = append(lines, orderLinePayload{
			ID:        line.ID,
			ProductID: line.ProductID,
			SellerID:  line.SellerID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
			Subtotal:  line.Subtotal.StringFixed(2),
		})
	}
	return lines
}

func buildOrderPayload(order services.Order) orderPayload {
	return orderPayload{
		ID:              order.ID,
		BuyerID:         order.BuyerID,
		Status:          string(order.Status),
		Subtotal:        order.Subtotal.StringFixed(2),
		Freight:         order.Freight.StringFixed(2),
		Total:           order.Total.StringFixed(2),
		DeliveryAddress: order.DeliveryAddress,
		PaymentMethod:   order.PaymentMethod,
		Lines:           buildLinePayloads(order.Lines),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
}

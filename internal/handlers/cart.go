package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mercado-field/api/internal/platform/auth"
	"github.com/mercado-field/api/internal/platform/httpx"
	"github.com/mercado-field/api/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{lineID}", h.updateItem)
	r.Delete("/items/{lineID}", h.removeItem)
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type cartPayload struct {
	UserID     string            `json:"userId"`
	ItemsCount int               `json:"itemsCount"`
	Items      []cartItemPayload `json:"items"`
	Total      string            `json:"total"`
}

type cartItemPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	AddedAt   string `json:"addedAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req addCartItemRequest
	if !decodeBody(w, r, &req, maxCartBodySize) {
		return
	}
	line, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:    identity.UID,
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildCartItem(line))
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req updateCartItemRequest
	if !decodeBody(w, r, &req, maxCartBodySize) {
		return
	}
	line, err := h.carts.UpdateQuantity(ctx, services.UpdateCartLineCommand{
		UserID:   identity.UID,
		LineID:   chi.URLParam(r, "lineID"),
		Quantity: req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartItem(line))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	err := h.carts.RemoveLine(ctx, services.RemoveCartLineCommand{
		UserID: identity.UID,
		LineID: chi.URLParam(r, "lineID"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := h.carts.Clear(ctx, identity.UID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildCartPayload(cart services.Cart) cartPayload {
	items := make([]cartItemPayload, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		items = append(items, buildCartItem(line))
	}
	return cartPayload{
		UserID:     cart.UserID,
		ItemsCount: len(items),
		Items:      items,
		Total:      cart.Total.StringFixed(2),
	}
}

func buildCartItem(line services.CartLine) cartItemPayload {
	return cartItemPayload{
		ID:        line.ID,
		ProductID: line.ProductID,
		Quantity:  line.Quantity,
		UnitPrice: line.UnitPrice.StringFixed(2),
		AddedAt:   formatTime(line.CreatedAt),
		UpdatedAt: formatTime(line.UpdatedAt),
	}
}

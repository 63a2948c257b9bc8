package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mercado-field/api/internal/platform/auth"
	"github.com/mercado-field/api/internal/platform/httpx"
	"github.com/mercado-field/api/internal/services"
)

const maxProductBodySize = 1024

// ProductHandlers exposes the seller and admin product mutations: retire, activate and restock.
type ProductHandlers struct {
	authn    *auth.Authenticator
	products services.ProductService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(authn *auth.Authenticator, products services.ProductService) *ProductHandlers {
	return &ProductHandlers{authn: authn, products: products}
}

// Routes registers the /products endpoints. Only sellers and admins may call them; ownership is checked
// by the service.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleSeller, auth.RoleAdmin))
	}
	r.Delete("/{productID}", h.retireProduct)
	r.Put("/{productID}/active", h.setActive)
	r.Post("/{productID}/restock", h.restock)
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

type productPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Stock     int    `json:"stock"`
	Active    bool   `json:"active"`
	OwnerID   string `json:"ownerId,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type retirePayload struct {
	ProductID    string            `json:"productId"`
	Forced       bool              `json:"forced"`
	Purged       []string          `json:"purged"`
	Dependents   dependentsPayload `json:"dependents"`
	ImageDeleted bool              `json:"imageDeleted"`
}

type dependentsPayload struct {
	OrderLines       int      `json:"orderLines"`
	ActiveOrderLines int      `json:"activeOrderLines"`
	Purchases        int      `json:"purchases"`
	Sales            int      `json:"sales"`
	CartUserIDs      []string `json:"cartUserIds"`
}

func (h *ProductHandlers) retireProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		serviceUnavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	force := false
	if raw := strings.TrimSpace(r.URL.Query().Get("force")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "force must be a boolean", http.StatusBadRequest))
			return
		}
		force = parsed
	}

	result, err := h.products.Retire(ctx, services.RetireProductCommand{
		ProductID:  chi.URLParam(r, "productID"),
		Force:      force,
		ActorID:    identity.UID,
		Privileged: identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	purged := make([]string, 0, len(result.Purged))
	for _, kind := range result.Purged {
		purged = append(purged, string(kind))
	}
	cartUsers := result.Dependents.CartUserIDs
	if cartUsers == nil {
		cartUsers = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, retirePayload{
		ProductID: result.ProductID,
		Forced:    result.Forced,
		Purged:    purged,
		Dependents: dependentsPayload{
			OrderLines:       result.Dependents.OrderLines,
			ActiveOrderLines: result.Dependents.ActiveOrderLines,
			Purchases:        result.Dependents.Purchases,
			Sales:            result.Dependents.Sales,
			CartUserIDs:      cartUsers,
		},
		ImageDeleted: result.ImageDeleted,
	})
}

func (h *ProductHandlers) setActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		serviceUnavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req setActiveRequest
	if !decodeBody(w, r, &req, maxProductBodySize) {
		return
	}
	if req.Active == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "active is required", http.StatusBadRequest))
		return
	}

	product, err := h.products.SetActive(ctx, services.SetProductActiveCommand{
		ProductID:  chi.URLParam(r, "productID"),
		Active:     *req.Active,
		ActorID:    identity.UID,
		Privileged: identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) restock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		serviceUnavailable(ctx, w, "product")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req restockRequest
	if !decodeBody(w, r, &req, maxProductBodySize) {
		return
	}
	product, err := h.products.Restock(ctx, services.RestockProductCommand{
		ProductID:  chi.URLParam(r, "productID"),
		Quantity:   req.Quantity,
		ActorID:    identity.UID,
		Privileged: identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product))
}

func buildProductPayload(p services.Product) productPayload {
	return productPayload{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price.StringFixed(2),
		Stock:     p.Stock,
		Active:    p.Active,
		OwnerID:   p.OwnerID,
		UpdatedAt: formatTime(p.UpdatedAt),
	}
}

package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/platform/pagination"
	"github.com/mercado-field/api/internal/repositories"
)

// UserRepository reads users seeded through Store.PutUser.
type UserRepository struct{ store *Store }

func (r *UserRepository) Get(ctx context.Context, userID string) (domain.User, error) {
	defer r.store.lock(ctx)()
	user, ok := r.store.data.users[userID]
	if !ok {
		return domain.User{}, repositories.NotFound("users.get", "user %s not found", userID)
	}
	return user, nil
}

// ProductRepository stores products in memory.
type ProductRepository struct{ store *Store }

func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	defer r.store.lock(ctx)()
	product, ok := r.store.data.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewProductNotFoundError("products.get", productID, nil)
	}
	return product, nil
}

func (r *ProductRepository) GetMany(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	defer r.store.lock(ctx)()
	out := make([]domain.Product, 0, len(productIDs))
	for _, id := range productIDs {
		product, ok := r.store.data.products[id]
		if !ok {
			return nil, repositories.NewProductNotFoundError("products.get_many", id, nil)
		}
		out = append(out, product)
	}
	return out, nil
}

func (r *ProductRepository) Save(ctx context.Context, product domain.Product) error {
	defer r.store.lock(ctx)()
	if _, ok := r.store.data.products[product.ID]; !ok {
		return repositories.NewProductNotFoundError("products.save", product.ID, nil)
	}
	r.store.data.products[product.ID] = product
	return nil
}

func (r *ProductRepository) AdjustStock(ctx context.Context, productID string, delta int, now time.Time) (domain.Product, error) {
	defer r.store.lock(ctx)()
	product, ok := r.store.data.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewProductNotFoundError("products.adjust_stock", productID, nil)
	}
	if product.Stock+delta < 0 {
		return domain.Product{}, repositories.NewInsufficientStockError("products.adjust_stock", productID, product.Stock, -delta)
	}
	product.Stock += delta
	product.UpdatedAt = now
	r.store.data.products[productID] = product
	return product, nil
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	defer r.store.lock(ctx)()
	if _, ok := r.store.data.products[productID]; !ok {
		return repositories.NewProductNotFoundError("products.delete", productID, nil)
	}
	delete(r.store.data.products, productID)
	return nil
}

// CartRepository keeps cart lines grouped by user in insertion order.
type CartRepository struct{ store *Store }

func (r *CartRepository) ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error) {
	defer r.store.lock(ctx)()
	return slices.Clone(r.store.data.carts[userID]), nil
}

func (r *CartRepository) SaveLine(ctx context.Context, line domain.CartLine) error {
	defer r.store.lock(ctx)()
	lines := r.store.data.carts[line.UserID]
	for i, existing := range lines {
		if existing.ID == line.ID {
			lines[i] = line
			return nil
		}
		if existing.ProductID == line.ProductID {
			return repositories.NewError("carts.save_line", repositories.KindConflict,
				fmt.Errorf("user %s already holds product %s in line %s", line.UserID, line.ProductID, existing.ID))
		}
	}
	r.store.data.carts[line.UserID] = append(lines, line)
	return nil
}

func (r *CartRepository) DeleteLine(ctx context.Context, userID, lineID string) error {
	defer r.store.lock(ctx)()
	lines := r.store.data.carts[userID]
	idx := slices.IndexFunc(lines, func(l domain.CartLine) bool { return l.ID == lineID })
	if idx < 0 {
		return repositories.NotFound("carts.delete_line", "cart line %s not found", lineID)
	}
	r.store.data.carts[userID] = slices.Delete(lines, idx, idx+1)
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	defer r.store.lock(ctx)()
	delete(r.store.data.carts, userID)
	return nil
}

// OrderRepository stores orders with embedded lines.
type OrderRepository struct{ store *Store }

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	defer r.store.lock(ctx)()
	if _, exists := r.store.data.orders[order.ID]; exists {
		return repositories.NewError("orders.insert", repositories.KindConflict, fmt.Errorf("order %s already exists", order.ID))
	}
	order.Lines = slices.Clone(order.Lines)
	r.store.data.orders[order.ID] = order
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	defer r.store.lock(ctx)()
	order, ok := r.store.data.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NotFound("orders.get", "order %s not found", orderID)
	}
	order.Lines = slices.Clone(order.Lines)
	return order, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	defer r.store.lock(ctx)()
	order, ok := r.store.data.orders[orderID]
	if !ok {
		return repositories.NotFound("orders.update_status", "order %s not found", orderID)
	}
	order.Status = status
	order.UpdatedAt = updatedAt
	r.store.data.orders[orderID] = order
	return nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	buyerID := strings.TrimSpace(filter.BuyerID)
	return r.page(ctx, "orders.list", filter.Pagination, func(order domain.Order) bool {
		if buyerID != "" && order.BuyerID != buyerID {
			return false
		}
		return len(filter.Status) == 0 || slices.Contains(filter.Status, order.Status)
	})
}

func (r *OrderRepository) ListBySeller(ctx context.Context, filter repositories.SellerOrderFilter) (domain.CursorPage[domain.Order], error) {
	sellerID := strings.TrimSpace(filter.SellerID)
	if sellerID == "" {
		return domain.CursorPage[domain.Order]{}, repositories.NewError("orders.list_by_seller", repositories.KindUnknown, repositories.ErrSellerRequired)
	}
	return r.page(ctx, "orders.list_by_seller", filter.Pagination, func(order domain.Order) bool {
		return slices.ContainsFunc(order.Lines, func(l domain.OrderLine) bool { return l.SellerID == sellerID })
	})
}

func (r *OrderRepository) page(ctx context.Context, op string, p domain.Pagination, match func(domain.Order) bool) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(p.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, repositories.NewError(op, repositories.KindUnknown, err)
	}
	pageSize := pagination.Normalize(p.PageSize)

	defer r.store.lock(ctx)()
	matches := make([]domain.Order, 0)
	for _, order := range r.store.data.orders {
		if !match(order) || !cursor.Admits(order.CreatedAt, order.ID) {
			continue
		}
		order.Lines = slices.Clone(order.Lines)
		matches = append(matches, order)
	}
	slices.SortFunc(matches, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	page := domain.CursorPage[domain.Order]{}
	if len(matches) > pageSize {
		last := matches[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		matches = matches[:pageSize]
	}
	page.Items = matches
	return page, nil
}

// DependentRepository inspects every collection holding back-references to products.
type DependentRepository struct{ store *Store }

func (r *DependentRepository) Summarize(ctx context.Context, productID string) (domain.ProductDependents, error) {
	defer r.store.lock(ctx)()
	data := r.store.data

	var summary domain.ProductDependents
	for _, order := range data.orders {
		for _, line := range order.Lines {
			if line.ProductID != productID {
				continue
			}
			summary.OrderLines++
			if order.Status != domain.OrderStatusCancelled {
				summary.ActiveOrderLines++
			}
		}
	}
	for _, p := range data.purchases {
		if p.ProductID == productID {
			summary.Purchases++
		}
	}
	for _, s := range data.sales {
		if s.ProductID == productID {
			summary.Sales++
		}
	}
	for userID, lines := range data.carts {
		if slices.ContainsFunc(lines, func(l domain.CartLine) bool { return l.ProductID == productID }) {
			summary.CartUserIDs = append(summary.CartUserIDs, userID)
		}
	}
	slices.Sort(summary.CartUserIDs)
	return summary, nil
}

func (r *DependentRepository) Purge(ctx context.Context, productID string, kinds []domain.DependentKind) error {
	defer r.store.lock(ctx)()
	data := r.store.data

	for _, kind := range kinds {
		switch kind {
		case domain.DependentOrderLines:
			for id, order := range data.orders {
				kept := slices.DeleteFunc(slices.Clone(order.Lines), func(l domain.OrderLine) bool { return l.ProductID == productID })
				if len(kept) != len(order.Lines) {
					order.Lines = kept
					data.orders[id] = order
				}
			}
		case domain.DependentSales:
			deleteWhere(data.sales, func(s domain.Sale) bool { return s.ProductID == productID })
		case domain.DependentPurchases:
			deleteWhere(data.purchases, func(p domain.Purchase) bool { return p.ProductID == productID })
		case domain.DependentCartLines:
			for userID, lines := range data.carts {
				kept := slices.DeleteFunc(slices.Clone(lines), func(l domain.CartLine) bool { return l.ProductID == productID })
				if len(kept) == 0 {
					delete(data.carts, userID)
				} else {
					data.carts[userID] = kept
				}
			}
		case domain.DependentComments:
			deleteWhere(data.comments, func(c domain.Comment) bool { return c.ProductID == productID })
		case domain.DependentPromotions:
			deleteWhere(data.promotions, func(p domain.Promotion) bool { return p.ProductID == productID })
		default:
			return repositories.NewError("dependents.purge", repositories.KindUnknown, fmt.Errorf("unknown dependent kind %q", kind))
		}
	}
	return nil
}

func deleteWhere[T any](m map[string]T, match func(T) bool) {
	for id, v := range m {
		if match(v) {
			delete(m, id)
		}
	}
}

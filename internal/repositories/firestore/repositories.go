package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/platform/pagination"
	pfirestore "github.com/mercado-field/api/internal/platform/firestore"
	"github.com/mercado-field/api/internal/repositories"
)

var errProviderRequired = errors.New("firestore repository: provider is required")

// UserRepository reads the users collection.
type UserRepository struct {
	users *pfirestore.Collection[userDocument]
}

// NewUserRepository constructs a UserRepository backed by the provider.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errProviderRequired
	}
	return &UserRepository{users: pfirestore.NewCollection[userDocument](provider, usersCollection)}, nil
}

func (r *UserRepository) Get(ctx context.Context, userID string) (domain.User, error) {
	doc, err := r.users.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ProductRepository persists catalog products.
type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
}

// NewProductRepository constructs a ProductRepository backed by the provider.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errProviderRequired
	}
	return &ProductRepository{products: pfirestore.NewCollection[productDocument](provider, productsCollection)}, nil
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, productError("products.get", productID, err)
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *ProductRepository) GetMany(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	docs, err := r.products.GetAll(ctx, productIDs)
	if err != nil {
		return nil, productError("products.get_many", missingID(err, productIDs), err)
	}
	out := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		product, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, product)
	}
	return out, nil
}

func (r *ProductRepository) Save(ctx context.Context, product domain.Product) error {
	if _, err := r.products.Get(ctx, product.ID); err != nil {
		return productError("products.save", product.ID, err)
	}
	return r.products.Set(ctx, product.ID, newProductDocument(product))
}

// AdjustStock reads the product (served from memory when the transaction already read it) and writes the
// adjusted stock back. Run it inside a unit of work so concurrent adjustments are serialised.
func (r *ProductRepository) AdjustStock(ctx context.Context, productID string, delta int, now time.Time) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, productError("products.adjust_stock", productID, err)
	}
	if doc.Data.Stock+delta < 0 {
		return domain.Product{}, repositories.NewInsufficientStockError("products.adjust_stock", productID, doc.Data.Stock, -delta)
	}
	doc.Data.Stock += delta
	doc.Data.UpdatedAt = now.UTC()
	if err := r.products.Set(ctx, productID, doc.Data); err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(productID)
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	if _, err := r.products.Get(ctx, productID); err != nil {
		return productError("products.delete", productID, err)
	}
	return r.products.Delete(ctx, productID)
}

func productError(op, productID string, err error) error {
	if pfirestore.IsNotFound(err) {
		return repositories.NewProductNotFoundError(op, productID, err)
	}
	return err
}

// missingID guesses which id a batched read failed on so the not-found error names it.
func missingID(err error, ids []string) string {
	for _, id := range ids {
		if strings.Contains(err.Error(), id) {
			return id
		}
	}
	return strings.Join(ids, ",")
}

// CartRepository stores each user's cart as one document keyed by user id.
type CartRepository struct {
	carts *pfirestore.Collection[cartDocument]
	clock func() time.Time
}

// NewCartRepository constructs a CartRepository backed by the provider.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errProviderRequired
	}
	return &CartRepository{
		carts: pfirestore.NewCollection[cartDocument](provider, cartsCollection),
		clock: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *CartRepository) ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error) {
	doc, err := r.carts.Get(ctx, userID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return doc.Data.toDomain(userID)
}

func (r *CartRepository) SaveLine(ctx context.Context, line domain.CartLine) error {
	lines, err := r.ListByUser(ctx, line.UserID)
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range lines {
		if existing.ID == line.ID {
			lines[i] = line
			replaced = true
			break
		}
		if existing.ProductID == line.ProductID {
			return repositories.NewError("carts.save_line", repositories.KindConflict,
				fmt.Errorf("user %s already holds product %s in line %s", line.UserID, line.ProductID, existing.ID))
		}
	}
	if !replaced {
		lines = append(lines, line)
	}
	return r.carts.Set(ctx, line.UserID, newCartDocument(lines, r.clock()))
}

func (r *CartRepository) DeleteLine(ctx context.Context, userID, lineID string) error {
	lines, err := r.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(lines, func(l domain.CartLine) bool { return l.ID == lineID })
	if idx < 0 {
		return repositories.NotFound("carts.delete_line", "cart line %s not found", lineID)
	}
	lines = slices.Delete(lines, idx, idx+1)
	if len(lines) == 0 {
		return r.carts.Delete(ctx, userID)
	}
	return r.carts.Set(ctx, userID, newCartDocument(lines, r.clock()))
}

// Clear deletes the cart document without reading it.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	return r.carts.Delete(ctx, userID)
}

// OrderRepository persists orders with embedded lines.
type OrderRepository struct {
	orders *pfirestore.Collection[orderDocument]
}

// NewOrderRepository constructs an OrderRepository backed by the provider.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errProviderRequired
	}
	return &OrderRepository{orders: pfirestore.NewCollection[orderDocument](provider, ordersCollection)}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.orders.Create(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	doc.Data.Status = string(status)
	doc.Data.UpdatedAt = updatedAt.UTC()
	return r.orders.Set(ctx, orderID, doc.Data)
}

// List pages through orders newest first. The query needs a composite index on
// (buyerId, status, createdAt desc, __name__ desc).
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	buyerID := strings.TrimSpace(filter.BuyerID)
	return r.page(ctx, "orders.list", filter.Pagination, func(q firestore.Query) firestore.Query {
		if buyerID != "" {
			q = q.Where("buyerId", "==", buyerID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		return q
	})
}

// ListBySeller pages the orders whose sellerIds array holds the seller. Index: (sellerIds array,
// createdAt desc, __name__ desc).
func (r *OrderRepository) ListBySeller(ctx context.Context, filter repositories.SellerOrderFilter) (domain.CursorPage[domain.Order], error) {
	sellerID := strings.TrimSpace(filter.SellerID)
	if sellerID == "" {
		return domain.CursorPage[domain.Order]{}, repositories.NewError("orders.list_by_seller", repositories.KindUnknown, repositories.ErrSellerRequired)
	}
	return r.page(ctx, "orders.list_by_seller", filter.Pagination, func(q firestore.Query) firestore.Query {
		return q.Where("sellerIds", "array-contains", sellerID)
	})
}

func (r *OrderRepository) page(ctx context.Context, op string, p domain.Pagination, where func(firestore.Query) firestore.Query) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(p.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, repositories.NewError(op, repositories.KindUnknown, err)
	}
	pageSize := pagination.Normalize(p.PageSize)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = where(q).OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(docs))}
	for _, doc := range docs {
		order, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = append(page.Items, order)
	}
	if len(page.Items) > pageSize {
		last := page.Items[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		page.Items = page.Items[:pageSize]
	}
	return page, nil
}

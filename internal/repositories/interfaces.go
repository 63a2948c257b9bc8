package repositories

import (
	"context"
	"time"

	domain "github.com/mercado-field/api/internal/domain"
)

// Registry exposes the repositories backing the marketplace core.
type Registry interface {
	Users() UserRepository
	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Dependents() DependentRepository
	Health() HealthRepository
	UnitOfWork() UnitOfWork
	Close(ctx context.Context) error
}

// RepositoryError exposes semantic helpers so services can map persistence errors to domain errors.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork coordinates transactional boundaries across repositories. Repositories invoked with the
// context handed to fn participate in the same transaction. Nested calls join the outer transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository reads buyer profiles from the user directory.
type UserRepository interface {
	Get(ctx context.Context, userID string) (domain.User, error)
}

// ProductRepository persists catalog products. Reads made inside a unit of work lock the returned
// products until the unit of work finishes.
type ProductRepository interface {
	Get(ctx context.Context, productID string) (domain.Product, error)
	// GetMany returns the products in the order requested. A missing id yields a not-found error.
	GetMany(ctx context.Context, productIDs []string) ([]domain.Product, error)
	Save(ctx context.Context, product domain.Product) error
	// AdjustStock applies delta to the product stock and returns the updated product. The change is
	// rejected with a ProductError carrying ProductErrorInsufficientStock when stock would go negative.
	AdjustStock(ctx context.Context, productID string, delta int, now time.Time) (domain.Product, error)
	Delete(ctx context.Context, productID string) error
}

// CartRepository persists cart lines keyed by user.
type CartRepository interface {
	ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error)
	SaveLine(ctx context.Context, line domain.CartLine) error
	DeleteLine(ctx context.Context, userID string, lineID string) error
	Clear(ctx context.Context, userID string) error
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	BuyerID    string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// SellerOrderFilter selects the orders holding at least one line sold by SellerID.
type SellerOrderFilter struct {
	SellerID   string
	Pagination domain.Pagination
}

// OrderRepository persists orders together with their lines.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListBySeller pages orders containing the seller's lines in the same newest-first order as List.
	// Lines are returned whole; trimming them to the seller is the caller's concern.
	ListBySeller(ctx context.Context, filter SellerOrderFilter) (domain.CursorPage[domain.Order], error)
}

// DependentRepository inspects and purges the records that reference a product.
type DependentRepository interface {
	Summarize(ctx context.Context, productID string) (domain.ProductDependents, error)
	// Purge deletes every record of the given kinds referencing productID, in the order supplied.
	Purge(ctx context.Context, productID string, kinds []domain.DependentKind) error
}

// HealthRepository reports dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/mercado-field/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination        = domain.Pagination
	Cart              = domain.Cart
	CartLine          = domain.CartLine
	Order             = domain.Order
	OrderLine         = domain.OrderLine
	OrderStatus       = domain.OrderStatus
	Sale              = domain.Sale
	Product           = domain.Product
	ProductDependents = domain.ProductDependents
	DependentKind     = domain.DependentKind
)

// CartService manages per-user cart lines.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartLine, error)
	UpdateQuantity(ctx context.Context, cmd UpdateCartLineCommand) (CartLine, error)
	RemoveLine(ctx context.Context, cmd RemoveCartLineCommand) error
	Clear(ctx context.Context, userID string) error
	Total(ctx context.Context, userID string) (decimal.Decimal, error)
}

// OrderService converts carts into orders and drives the order lifecycle.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	ListSales(ctx context.Context, filter SalesFilter) (domain.CursorPage[Sale], error)
	SetStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// ProductService covers the product mutations owned by the core: retirement, activation and restocking.
type ProductService interface {
	Retire(ctx context.Context, cmd RetireProductCommand) (RetireProductResult, error)
	SetActive(ctx context.Context, cmd SetProductActiveCommand) (Product, error)
	Restock(ctx context.Context, cmd RestockProductCommand) (Product, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	BuyerID        string
	PreviousStatus string
	CurrentStatus  string
	Total          string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// FileDeleter removes stored files such as product images.
type FileDeleter interface {
	DeleteFile(ctx context.Context, name string) error
}

// CartCache stores computed cart read models. Implementations must treat a miss as (zero, false, nil).
type CartCache interface {
	Get(ctx context.Context, userID string) (Cart, bool, error)
	Set(ctx context.Context, cart Cart) error
	Invalidate(ctx context.Context, userIDs ...string) error
}

// AddCartItemCommand adds quantity units of a product, merging with an existing line.
type AddCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// UpdateCartLineCommand overwrites the quantity of a line owned by UserID.
type UpdateCartLineCommand struct {
	UserID   string
	LineID   string
	Quantity int
}

// RemoveCartLineCommand deletes a line owned by UserID.
type RemoveCartLineCommand struct {
	UserID string
	LineID string
}

// CreateOrderFromCartCommand converts the user's cart. Blank DeliveryAddress and PaymentMethod fall back to
// the buyer's profile address and the configured default label; a nil Freight means zero.
type CreateOrderFromCartCommand struct {
	UserID          string
	DeliveryAddress string
	PaymentMethod   string
	Freight         *decimal.Decimal
}

// OrderListFilter narrows ListOrders. Without IncludeAll only the requester's orders are returned.
type OrderListFilter struct {
	RequesterID string
	IncludeAll  bool
	Status      []OrderStatus
	Pagination  Pagination
}

// SalesFilter pages the orders holding SellerID's lines, newest first.
type SalesFilter struct {
	SellerID   string
	Pagination Pagination
}

// GetOrderQuery loads one order. Without IncludeAll the requester must be the buyer.
type GetOrderQuery struct {
	OrderID     string
	RequesterID string
	IncludeAll  bool
}

// SetOrderStatusCommand moves an order to the status named by the Status label.
type SetOrderStatusCommand struct {
	OrderID string
	Status  string
	ActorID string
}

// CancelOrderCommand cancels an order and restores its stock. RequesterID must be the buyer; staff
// cancel through SetStatus.
type CancelOrderCommand struct {
	OrderID     string
	RequesterID string
}

// RetireProductCommand deletes a product. Force purges transactional history instead of refusing.
type RetireProductCommand struct {
	ProductID  string
	Force      bool
	ActorID    string
	Privileged bool
}

// RetireProductResult reports what a retirement removed.
type RetireProductResult struct {
	ProductID    string
	Forced       bool
	Purged       []DependentKind
	Dependents   ProductDependents
	ImageDeleted bool
}

// SetProductActiveCommand toggles whether a product can be added to carts and ordered.
type SetProductActiveCommand struct {
	ProductID  string
	Active     bool
	ActorID    string
	Privileged bool
}

// RestockProductCommand adds Quantity units to the product stock.
type RestockProductCommand struct {
	ProductID  string
	Quantity   int
	ActorID    string
	Privileged bool
}

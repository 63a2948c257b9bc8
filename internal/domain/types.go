package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending is the state of every freshly converted order.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed indicates the seller accepted the order.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusInTransit indicates the order has been handed to a carrier.
	OrderStatusInTransit OrderStatus = "IN_TRANSIT"
	// OrderStatusDelivered is terminal.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled is terminal; its stock has been restored.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusInTransit,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// OrderStatuses lists the recognised statuses in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

// ParseOrderStatus matches a status label exactly; "pending" is not a status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	label := OrderStatus(strings.TrimSpace(raw))
	for _, status := range orderStatuses {
		if status == label {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no transition leaves the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// IsCancellable reports whether an order in this status may be cancelled.
func (s OrderStatus) IsCancellable() bool {
	return s == OrderStatusPending || s == OrderStatusConfirmed
}

// User is the subset of the user directory the core relies on.
type User struct {
	ID      string
	Name    string
	Email   string
	Address string
}

// Product is a catalog entry. The core mutates Stock and Active only.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Stock     int
	Active    bool
	OwnerID   string
	ImageName string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartLine is one (user, product) entry in a cart. UnitPrice is the price
// observed when the line was first created.
type CartLine struct {
	ID        string
	UserID    string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cart is a read model over a user's cart lines.
type Cart struct {
	UserID string
	Lines  []CartLine
	Total  decimal.Decimal
}

// Order is created atomically with its lines and afterwards only changes status.
type Order struct {
	ID              string
	BuyerID         string
	Status          OrderStatus
	Subtotal        decimal.Decimal
	Freight         decimal.Decimal
	Total           decimal.Decimal
	DeliveryAddress string
	PaymentMethod   string
	Lines           []OrderLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderLine is immutable once written.
type OrderLine struct {
	ID        string
	OrderID   string
	ProductID string
	SellerID  string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// Sale is one seller's share of an order: the lines that seller sold and their subtotal.
type Sale struct {
	OrderID   string
	BuyerID   string
	Status    OrderStatus
	Lines     []OrderLine
	Subtotal  decimal.Decimal
	CreatedAt time.Time
}

// Purchase is buyer-side transaction history referencing a product.
type Purchase struct {
	ID        string
	BuyerID   string
	ProductID string
	OrderID   string
	Quantity  int
	Total     decimal.Decimal
	Status    string
	CreatedAt time.Time
}

// Sale is seller-side transaction history referencing a product.
type Sale struct {
	ID        string
	SellerID  string
	BuyerID   string
	ProductID string
	OrderID   string
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
	CreatedAt time.Time
}

// Comment is a buyer review attached to a product.
type Comment struct {
	ID        string
	ProductID string
	AuthorID  string
	Body      string
	Rating    int
	CreatedAt time.Time
}

// Promotion is a time-boxed discount attached to a product.
type Promotion struct {
	ID        string
	ProductID string
	Percent   decimal.Decimal
	StartsAt  time.Time
	EndsAt    time.Time
}

// DependentKind names a collection holding back-references to a product.
type DependentKind string

const (
	DependentOrderLines DependentKind = "order_lines"
	DependentSales      DependentKind = "sales"
	DependentPurchases  DependentKind = "purchases"
	DependentCartLines  DependentKind = "cart_lines"
	DependentComments   DependentKind = "comments"
	DependentPromotions DependentKind = "promotions"
)

// ProductDependents summarises the transactional history referencing a product.
type ProductDependents struct {
	OrderLines       int
	ActiveOrderLines int
	Purchases        int
	Sales            int
	// CartUserIDs lists users holding the product in their cart.
	CartUserIDs []string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates a dependency misbehaves but requests can still be served.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a critical dependency is unavailable.
	HealthStatusError = "error"
)

// HealthCheck describes the outcome of one dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for readiness endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}

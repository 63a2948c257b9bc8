package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"

	orderIDPrefix     = "ord_"
	orderLineIDPrefix = "oln_"

	defaultPaymentMethod = "CASH"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Users                repositories.UserRepository
	Products             repositories.ProductRepository
	Carts                repositories.CartRepository
	Orders               repositories.OrderRepository
	UnitOfWork           repositories.UnitOfWork
	Cache                CartCache
	Events               OrderEventPublisher
	DefaultPaymentMethod string
	Clock                func() time.Time
	IDGenerator          func() string
	Logger               EventLogger
}

type orderService struct {
	users         repositories.UserRepository
	products      repositories.ProductRepository
	carts         repositories.CartRepository
	orders        repositories.OrderRepository
	unitOfWork    repositories.UnitOfWork
	cache         CartCache
	events        OrderEventPublisher
	paymentMethod string
	clock         func() time.Time
	newID         func() string
	logger        EventLogger
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Users == nil {
		return nil, errors.New("order service: user repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	paymentMethod := strings.TrimSpace(deps.DefaultPaymentMethod)
	if paymentMethod == "" {
		paymentMethod = defaultPaymentMethod
	}

	return &orderService{
		users:         deps.Users,
		products:      deps.Products,
		carts:         deps.Carts,
		orders:        deps.Orders,
		unitOfWork:    defaultUnitOfWork(deps.UnitOfWork),
		cache:         deps.Cache,
		events:        deps.Events,
		paymentMethod: paymentMethod,
		clock:         defaultClock(deps.Clock),
		newID:         defaultIDGenerator(deps.IDGenerator),
		logger:        defaultLogger(deps.Logger),
	}, nil
}

func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	freight := decimal.Zero
	if cmd.Freight != nil {
		if cmd.Freight.IsNegative() {
			return Order{}, fmt.Errorf("%w: freight must not be negative", ErrInvalidArgument)
		}
		freight = *cmd.Freight
	}

	now := s.clock()
	var order Order

	err := runInTx(ctx, s.unitOfWork, func(txCtx context.Context) error {
		user, err := s.users.Get(txCtx, userID)
		if err != nil {
			return mapRepositoryError(err)
		}
		lines, err := s.carts.ListByUser(txCtx, userID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if len(lines) == 0 {
			return fmt.Errorf("%w: user %s has no cart lines", ErrEmptyCart, userID)
		}

		ids := make([]string, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.ProductID)
		}
		// Reading through the unit of work locks the products until commit.
		products, err := s.products.GetMany(txCtx, ids)
		if err != nil {
			return mapRepositoryError(err)
		}

		// Validate every line before mutating anything.
		for i, line := range lines {
			product := products[i]
			if !product.Active {
				return fmt.Errorf("%w: product %s is inactive", ErrUnavailable, product.ID)
			}
			if product.Stock < line.Quantity {
				return fmt.Errorf("%w: product %s has %d units, %d requested", ErrInsufficientStock, product.ID, product.Stock, line.Quantity)
			}
		}

		order = Order{
			ID:              orderIDPrefix + s.newID(),
			BuyerID:         userID,
			Status:          domain.OrderStatusPending,
			Freight:         freight,
			DeliveryAddress: firstNonBlank(cmd.DeliveryAddress, user.Address),
			PaymentMethod:   firstNonBlank(cmd.PaymentMethod, s.paymentMethod),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		subtotal := decimal.Zero
		for i, line := range lines {
			product := products[i]
			lineSubtotal := product.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			subtotal = subtotal.Add(lineSubtotal)
			order.Lines = append(order.Lines, OrderLine{
				ID:        orderLineIDPrefix + s.newID(),
				OrderID:   order.ID,
				ProductID: product.ID,
				SellerID:  product.OwnerID,
				Quantity:  line.Quantity,
				UnitPrice: product.Price,
				Subtotal:  lineSubtotal,
			})
		}
		order.Subtotal = subtotal
		order.Total = subtotal.Add(freight)

		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		for _, line := range order.Lines {
			if _, err := s.products.AdjustStock(txCtx, line.ProductID, -line.Quantity, now); err != nil {
				return mapRepositoryError(err)
			}
		}
		return mapRepositoryError(s.carts.Clear(txCtx, userID))
	})
	if err != nil {
		return Order{}, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			s.logger(ctx, "cart.cache.invalidate.failed", map[string]any{"userId": userID, "error": err})
		}
	}
	s.logger(ctx, "order.created", map[string]any{"orderId": order.ID, "buyerId": userID, "lines": len(order.Lines), "total": order.Total.StringFixed(2)})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		BuyerID:       order.BuyerID,
		CurrentStatus: string(order.Status),
		Total:         order.Total.StringFixed(2),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata:      map[string]any{"lines": len(order.Lines), "paymentMethod": order.PaymentMethod},
	})
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	repoFilter := repositories.OrderListFilter{
		Status:     filter.Status,
		Pagination: filter.Pagination,
	}
	if !filter.IncludeAll {
		requester := strings.TrimSpace(filter.RequesterID)
		if requester == "" {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: requester id is required", ErrInvalidArgument)
		}
		repoFilter.BuyerID = requester
	}

	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

// ListSales pages the seller's view of orders. Each sale carries only that seller's lines, so other
// sellers' quantities and prices in a shared order are never exposed.
func (s *orderService) ListSales(ctx context.Context, filter SalesFilter) (domain.CursorPage[Sale], error) {
	sellerID := strings.TrimSpace(filter.SellerID)
	if sellerID == "" {
		return domain.CursorPage[Sale]{}, fmt.Errorf("%w: seller id is required", ErrInvalidArgument)
	}

	page, err := s.orders.ListBySeller(ctx, repositories.SellerOrderFilter{SellerID: sellerID, Pagination: filter.Pagination})
	if err != nil {
		return domain.CursorPage[Sale]{}, mapRepositoryError(err)
	}
	out := domain.CursorPage[Sale]{Items: make([]Sale, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		sale := Sale{
			OrderID:   order.ID,
			BuyerID:   order.BuyerID,
			Status:    order.Status,
			Subtotal:  decimal.Zero,
			CreatedAt: order.CreatedAt,
		}
		for _, line := range order.Lines {
			if line.SellerID != sellerID {
				continue
			}
			sale.Lines = append(sale.Lines, line)
			sale.Subtotal = sale.Subtotal.Add(line.Subtotal)
		}
		out.Items = append(out.Items, sale)
	}
	return out, nil
}

func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidArgument)
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if !query.IncludeAll && order.BuyerID != strings.TrimSpace(query.RequesterID) {
		return Order{}, fmt.Errorf("%w: order %s belongs to another buyer", ErrForbidden, orderID)
	}
	return order, nil
}

// SetStatus applies a status label. Jumps between the non-cancelled states are unrestricted; CANCELLED
// goes through the cancellation path so stock is restored.
func (s *orderService) SetStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidArgument)
	}

	now := s.clock()
	var (
		order      Order
		prevStatus OrderStatus
	)
	err := runInTx(ctx, s.unitOfWork, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.Get(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		prevStatus = order.Status

		target, ok := domain.ParseOrderStatus(cmd.Status)
		if !ok {
			return fmt.Errorf("%w: unknown status %q, expected one of %s", ErrInvalidState, cmd.Status, statusLabels())
		}
		if target == domain.OrderStatusCancelled {
			return s.cancelInTx(txCtx, &order, now)
		}
		if order.Status.IsTerminal() {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidState, orderID, order.Status)
		}
		if target == order.Status {
			return nil
		}
		if err := s.orders.UpdateStatus(txCtx, orderID, target, now); err != nil {
			return mapRepositoryError(err)
		}
		order.Status = target
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if prevStatus != order.Status {
		eventType := orderEventStatusChanged
		if order.Status == domain.OrderStatusCancelled {
			eventType = orderEventCancelled
		}
		s.publishEvent(ctx, OrderEvent{
			Type:           eventType,
			OrderID:        order.ID,
			BuyerID:        order.BuyerID,
			PreviousStatus: string(prevStatus),
			CurrentStatus:  string(order.Status),
			ActorID:        cmd.ActorID,
			OccurredAt:     now,
		})
	}
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidArgument)
	}

	now := s.clock()
	var (
		order      Order
		prevStatus OrderStatus
	)
	err := runInTx(ctx, s.unitOfWork, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.Get(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if order.BuyerID != strings.TrimSpace(cmd.RequesterID) {
			return fmt.Errorf("%w: only the buyer may cancel order %s", ErrForbidden, orderID)
		}
		prevStatus = order.Status
		return s.cancelInTx(txCtx, &order, now)
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.cancelled", map[string]any{"orderId": order.ID, "previousStatus": string(prevStatus)})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.RequesterID,
		OccurredAt:     now,
	})
	return order, nil
}

// cancelInTx restores stock for every line and marks the order cancelled. It must run inside a unit of work.
func (s *orderService) cancelInTx(ctx context.Context, order *Order, now time.Time) error {
	if !order.Status.IsCancellable() {
		return fmt.Errorf("%w: order %s is %s and cannot be cancelled", ErrInvalidState, order.ID, order.Status)
	}

	// Lines of one product are restored with a single adjustment.
	var productIDs []string
	restore := make(map[string]int)
	for _, line := range order.Lines {
		if _, seen := restore[line.ProductID]; !seen {
			productIDs = append(productIDs, line.ProductID)
		}
		restore[line.ProductID] += line.Quantity
	}
	if len(productIDs) > 0 {
		if _, err := s.products.GetMany(ctx, productIDs); err != nil {
			return mapRepositoryError(err)
		}
	}
	for _, productID := range productIDs {
		if _, err := s.products.AdjustStock(ctx, productID, restore[productID], now); err != nil {
			return mapRepositoryError(err)
		}
	}

	if err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled, now); err != nil {
		return mapRepositoryError(err)
	}
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = now
	return nil
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err,
			"status": event.CurrentStatus,
		})
	}
}

func statusLabels() string {
	labels := make([]string, 0, len(domain.OrderStatuses()))
	for _, status := range domain.OrderStatuses() {
		labels = append(labels, string(status))
	}
	return strings.Join(labels, ", ")
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

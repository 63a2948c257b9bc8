package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mercado-field/api/internal/repositories"
)

const cartLineIDPrefix = "cl_"

// CartServiceDeps bundles collaborators required to construct the cart service.
type CartServiceDeps struct {
	Users       repositories.UserRepository
	Products    repositories.ProductRepository
	Carts       repositories.CartRepository
	UnitOfWork  repositories.UnitOfWork
	Cache       CartCache
	Clock       func() time.Time
	IDGenerator func() string
	Logger      EventLogger
}

type cartService struct {
	users      repositories.UserRepository
	products   repositories.ProductRepository
	carts      repositories.CartRepository
	unitOfWork repositories.UnitOfWork
	cache      CartCache
	clock      func() time.Time
	newID      func() string
	logger     EventLogger
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Users == nil {
		return nil, errors.New("cart service: user repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	return &cartService{
		users:      deps.Users,
		products:   deps.Products,
		carts:      deps.Carts,
		unitOfWork: defaultUnitOfWork(deps.UnitOfWork),
		cache:      deps.Cache,
		clock:      defaultClock(deps.Clock),
		newID:      defaultIDGenerator(deps.IDGenerator),
		logger:     defaultLogger(deps.Logger),
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	if s.cache != nil {
		cart, ok, err := s.cache.Get(ctx, userID)
		switch {
		case err != nil:
			s.logger(ctx, "cart.cache.read.failed", map[string]any{"userId": userID, "error": err})
		case ok:
			// Lines come from the cache; the total is always re-priced against the catalog.
			total, err := s.liveTotal(ctx, cart.Lines)
			if err == nil {
				cart.Total = total
				return cart, nil
			}
			s.logger(ctx, "cart.cache.reprice.failed", map[string]any{"userId": userID, "error": err})
		}
	}

	var cart Cart
	err := runInTx(ctx, s.unitOfWork, func(txCtx context.Context) error {
		lines, err := s.carts.ListByUser(txCtx, userID)
		if err != nil {
			return err
		}
		total, err := s.liveTotal(txCtx, lines)
		if err != nil {
			return err
		}
		cart = Cart{UserID: userID, Lines: lines, Total: total}
		return nil
	})
	if err != nil {
		return Cart{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cart); err != nil {
			s.logger(ctx, "cart.cache.write.failed", map[string]any{"userId": userID, "error": err})
		}
	}
	return cart, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartLine, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	switch {
	case cmd.Quantity <= 0:
		return CartLine{}, fmt.Errorf("%w: quantity must be greater than zero", ErrInvalidArgument)
	case userID == "":
		return CartLine{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	case productID == "":
		return CartLine{}, fmt.Errorf("%w: product id is required", ErrInvalidArgument)
	}

	now := s.clock()
	var saved CartLine
	err := runInTx(ctx, s.unitOfWork, func(txCtx context.Context) error {
		if _, err := s.users.Get(txCtx, userID); err != nil {
			return mapRepositoryError(err)
		}
		product, err := s.products.Get(txCtx, productID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if !product.Active {
			return fmt.Errorf("%w: product %s is inactive", ErrUnavailable, productID)
		}
		lines, err := s.carts.ListByUser(txCtx, userID)
		if err != nil {
			return mapRepositoryError(err)
		}

		idx := slices.IndexFunc(lines, func(l CartLine) bool { return l.ProductID == productID })
		if idx >= 0 {
			// Merges keep the price captured when the line was created.
			saved = lines[idx]
			saved.Quantity += cmd.Quantity
			saved.UpdatedAt = now
		} else {
			saved = CartLine{
				ID:        cartLineIDPrefix + s.newID(),
				UserID:    userID,
				ProductID: productID,
				Quantity:  cmd.Quantity,
				UnitPrice: product.Price,
				CreatedAt: now,
				UpdatedAt: now,
			}
		}
		if saved.Quantity > product.Stock {
			return fmt.Errorf("%w: product %s has %d units, %d requested", ErrInsufficientStock, productID, product.Stock, saved.Quantity)
		}
		return mapRepositoryError(s.carts.SaveLine(txCtx, saved))
	})
	if err != nil {
		return CartLine{}, err
	}

	s.invalidate(ctx, userID)
	s.logger(ctx, "cart.item.added", map[string]any{"userId": userID, "productId": productID, "lineId": saved.ID, "quantity": saved.Quantity})
	return saved, nil
}

func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateCartLineCommand) (CartLine, error) {
	userID := strings.TrimSpace(cmd.UserID)
	lineID := strings.TrimSpace(cmd.LineID)
	switch {
	case cmd.Quantity <= 0:
		return CartLine{}, fmt.Errorf("%w: quantity must be greater than zero", ErrInvalidArgument)
	case userID == "" || lineID == "":
		return CartLine{}, fmt.Errorf("%w: user id and line id are required", ErrInvalidArgument)
	}

	var saved CartLine
	err := runInTx(ctx, s.unitOfWork, func(txCtx context.Context) error {
		lines, err := s.carts.ListByUser(txCtx, userID)
		if err != nil {
			return mapRepositoryError(err)
		}
		idx := slices.IndexFunc(lines, func(l CartLine) bool { return l.ID == lineID })
		if idx < 0 {
			return fmt.Errorf("%w: cart line %s", ErrNotFound, lineID)
		}
		saved = lines[idx]

		product, err := s.products.Get(txCtx, saved.ProductID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if cmd.Quantity > product.Stock {
			return fmt.Errorf("%w: product %s has %d units, %d requested", ErrInsufficientStock, product.ID, product.Stock, cmd.Quantity)
		}
		saved.Quantity = cmd.Quantity
		saved.UpdatedAt = s.clock()
		return mapRepositoryError(s.carts.SaveLine(txCtx, saved))
	})
	if err != nil {
		return CartLine{}, err
	}

	s.invalidate(ctx, userID)
	return saved, nil
}

func (s *cartService) RemoveLine(ctx context.Context, cmd RemoveCartLineCommand) error {
	userID := strings.TrimSpace(cmd.UserID)
	lineID := strings.TrimSpace(cmd.LineID)
	if userID == "" || lineID == "" {
		return fmt.Errorf("%w: user id and line id are required", ErrInvalidArgument)
	}

	err := runInTx(ctx, s.unitOfWork, func(txCtx context.Context) error {
		return mapRepositoryError(s.carts.DeleteLine(txCtx, userID, lineID))
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *cartService) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	err := runInTx(ctx, s.unitOfWork, func(txCtx context.Context) error {
		if _, err := s.users.Get(txCtx, userID); err != nil {
			return mapRepositoryError(err)
		}
		return mapRepositoryError(s.carts.Clear(txCtx, userID))
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *cartService) Total(ctx context.Context, userID string) (decimal.Decimal, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return decimal.Zero, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	var total decimal.Decimal
	err := runInTx(ctx, s.unitOfWork, func(txCtx context.Context) error {
		lines, err := s.carts.ListByUser(txCtx, userID)
		if err != nil {
			return err
		}
		total, err = s.liveTotal(txCtx, lines)
		return err
	})
	return total, err
}

// liveTotal prices lines at the current catalog price rather than the snapshot taken on add.
func (s *cartService) liveTotal(ctx context.Context, lines []CartLine) (decimal.Decimal, error) {
	if len(lines) == 0 {
		return decimal.Zero, nil
	}
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.products.GetMany(ctx, ids)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for i, line := range lines {
		total = total.Add(products[i].Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total, nil
}

func (s *cartService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger(ctx, "cart.cache.invalidate.failed", map[string]any{"userId": userID, "error": err})
	}
}

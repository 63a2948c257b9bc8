package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/mercado-field/api/internal/domain"
	"github.com/mercado-field/api/internal/repositories"
)

// ProductServiceDeps bundles collaborators required to construct the product service.
type ProductServiceDeps struct {
	Products   repositories.ProductRepository
	Dependents repositories.DependentRepository
	UnitOfWork repositories.UnitOfWork
	Files      FileDeleter
	Cache      CartCache
	Clock      func() time.Time
	Logger     EventLogger
}

type productService struct {
	products   repositories.ProductRepository
	dependents repositories.DependentRepository
	unitOfWork repositories.UnitOfWork
	files      FileDeleter
	cache      CartCache
	clock      func() time.Time
	logger     EventLogger
}

// NewProductService wires dependencies into a concrete ProductService implementation.
func NewProductService(deps ProductServiceDeps) (ProductService, error) {
	if deps.Products == nil {
		return nil, errors.New("product service: product repository is required")
	}
	if deps.Dependents == nil {
		return nil, errors.New("product service: dependent repository is required")
	}
	return &productService{
		products:   deps.Products,
		dependents: deps.Dependents,
		unitOfWork: defaultUnitOfWork(deps.UnitOfWork),
		files:      deps.Files,
		cache:      deps.Cache,
		clock:      defaultClock(deps.Clock),
		logger:     defaultLogger(deps.Logger),
	}, nil
}

// Retire deletes a product. Without Force it refuses while the product has live orders, purchases or
// sales; with Force it purges that history first. Cart lines, comments and promotions are always purged.
func (s *productService) Retire(ctx context.Context, cmd RetireProductCommand) (RetireProductResult, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return RetireProductResult{}, fmt.Errorf("%w: product id is required", ErrInvalidArgument)
	}

	var (
		product domain.Product
		result  = RetireProductResult{ProductID: productID, Forced: cmd.Force}
	)
	err := runInTx(ctx, s.unitOfWork, func(txCtx context.Context) error {
		var err error
		product, err = s.loadOwned(txCtx, productID, cmd.ActorID, cmd.Privileged)
		if err != nil {
			return err
		}

		summary, err := s.dependents.Summarize(txCtx, productID)
		if err != nil {
			return mapRepositoryError(err)
		}
		result.Dependents = summary

		var kinds []DependentKind
		if cmd.Force {
			kinds = []DependentKind{domain.DependentOrderLines, domain.DependentSales, domain.DependentPurchases}
		} else {
			switch {
			case summary.ActiveOrderLines > 0:
				return fmt.Errorf("%w: product %s is referenced by %d active order lines; deactivate it instead", ErrConflict, productID, summary.ActiveOrderLines)
			case summary.Purchases > 0:
				return fmt.Errorf("%w: product %s is referenced by %d purchases", ErrConflict, productID, summary.Purchases)
			case summary.Sales > 0:
				return fmt.Errorf("%w: product %s is referenced by %d sales", ErrConflict, productID, summary.Sales)
			}
			// Only lines of cancelled orders remain at this point.
			kinds = []DependentKind{domain.DependentOrderLines}
		}
		kinds = append(kinds, domain.DependentCartLines, domain.DependentComments, domain.DependentPromotions)

		if err := s.dependents.Purge(txCtx, productID, kinds); err != nil {
			return mapRepositoryError(err)
		}
		if err := s.products.Delete(txCtx, productID); err != nil {
			return mapRepositoryError(err)
		}
		result.Purged = kinds
		return nil
	})
	if err != nil {
		return RetireProductResult{}, err
	}

	if s.cache != nil && len(result.Dependents.CartUserIDs) > 0 {
		if err := s.cache.Invalidate(ctx, result.Dependents.CartUserIDs...); err != nil {
			s.logger(ctx, "cart.cache.invalidate.failed", map[string]any{"productId": productID, "error": err})
		}
	}
	if image := strings.TrimSpace(product.ImageName); image != "" && s.files != nil {
		if err := s.files.DeleteFile(ctx, image); err != nil {
			s.logger(ctx, "product.image.delete.failed", map[string]any{"productId": productID, "image": image, "error": err})
		} else {
			result.ImageDeleted = true
		}
	}

	s.logger(ctx, "product.retired", map[string]any{
		"productId":  productID,
		"force":      cmd.Force,
		"orderLines": result.Dependents.OrderLines,
		"purchases":  result.Dependents.Purchases,
		"sales":      result.Dependents.Sales,
	})
	return result, nil
}

func (s *productService) SetActive(ctx context.Context, cmd SetProductActiveCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInvalidArgument)
	}

	var product Product
	err := runInTx(ctx, s.unitOfWork, func(txCtx context.Context) error {
		var err error
		product, err = s.loadOwned(txCtx, productID, cmd.ActorID, cmd.Privileged)
		if err != nil {
			return err
		}
		if product.Active == cmd.Active {
			return nil
		}
		product.Active = cmd.Active
		product.UpdatedAt = s.clock()
		return mapRepositoryError(s.products.Save(txCtx, product))
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

func (s *productService) Restock(ctx context.Context, cmd RestockProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInvalidArgument)
	}
	if cmd.Quantity <= 0 {
		return Product{}, fmt.Errorf("%w: restock quantity must be greater than zero", ErrInvalidArgument)
	}

	var product Product
	err := runInTx(ctx, s.unitOfWork, func(txCtx context.Context) error {
		if _, err := s.loadOwned(txCtx, productID, cmd.ActorID, cmd.Privileged); err != nil {
			return err
		}
		var err error
		product, err = s.products.AdjustStock(txCtx, productID, cmd.Quantity, s.clock())
		return mapRepositoryError(err)
	})
	if err != nil {
		return Product{}, err
	}
	s.logger(ctx, "product.restocked", map[string]any{"productId": productID, "quantity": cmd.Quantity, "stock": product.Stock})
	return product, nil
}

// loadOwned fetches the product and checks ownership. Calls without an actor come from trusted code.
func (s *productService) loadOwned(ctx context.Context, productID, actorID string, privileged bool) (Product, error) {
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return Product{}, mapRepositoryError(err)
	}
	actorID = strings.TrimSpace(actorID)
	if !privileged && actorID != "" && product.OwnerID != actorID {
		return Product{}, fmt.Errorf("%w: product %s belongs to another seller", ErrForbidden, productID)
	}
	return product, nil
}

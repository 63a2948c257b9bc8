package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/mercado-field/api/internal/repositories"
)

var (
	// ErrNotFound indicates a referenced user, product, cart line or order does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable indicates the product is inactive.
	ErrUnavailable = errors.New("product unavailable")
	// ErrInsufficientStock indicates the requested quantity exceeds the product stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrEmptyCart indicates an order was requested from a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidArgument signals the caller provided invalid data.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState indicates the order status forbids the requested transition.
	ErrInvalidState = errors.New("invalid order state")
	// ErrForbidden indicates the requester does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict indicates the product still has transactional history.
	ErrConflict = errors.New("conflict")
	// ErrRepositoryUnavailable wraps transient persistence failures.
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)

// mapRepositoryError translates repository semantics into service sentinels. Context errors pass through.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if productErr, ok := repositories.IsInsufficientStock(err); ok {
		return fmt.Errorf("%w: product %s has %d units, %d requested", ErrInsufficientStock, productErr.ProductID, productErr.Available, productErr.Requested)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
		}
	}
	return err
}

// isServiceError reports whether err already carries one of the service sentinels.
func isServiceError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrUnavailable, ErrInsufficientStock, ErrEmptyCart, ErrInvalidArgument,
		ErrInvalidState, ErrForbidden, ErrConflict, ErrRepositoryUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

package repositories

import (
	"errors"
	"fmt"
)

// ErrSellerRequired rejects a seller listing without a seller id, which would otherwise match every order.
var ErrSellerRequired = errors.New("seller id is required")

// ErrorKind classifies persistence failures for backends without their own error type.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// Error implements RepositoryError for the memory and Postgres backends.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

// NewError annotates err with an operation name and a kind.
func NewError(op string, kind ErrorKind, err error) *Error {
	if err == nil {
		err = errors.New("repository error")
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// NotFound is shorthand for a missing record.
func NotFound(op, format string, args ...any) *Error {
	return NewError(op, KindNotFound, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// ProductErrorCode enumerates product mutation failures.
type ProductErrorCode string

const (
	// ProductErrorInsufficientStock indicates a stock adjustment would drive stock below zero.
	ProductErrorInsufficientStock ProductErrorCode = "product_insufficient_stock"
	// ProductErrorNotFound indicates the product record is missing.
	ProductErrorNotFound ProductErrorCode = "product_not_found"
)

// ProductError wraps product-specific failures with machine readable codes.
type ProductError struct {
	Op        string
	Code      ProductErrorCode
	ProductID string
	Available int
	Requested int
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *ProductError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *ProductError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound lets services treat a missing product like any other missing record.
func (e *ProductError) IsNotFound() bool    { return e != nil && e.Code == ProductErrorNotFound }
func (e *ProductError) IsConflict() bool    { return false }
func (e *ProductError) IsUnavailable() bool { return false }

// NewInsufficientStockError reports that available units cannot cover requested.
func NewInsufficientStockError(op, productID string, available, requested int) *ProductError {
	return &ProductError{
		Op:        op,
		Code:      ProductErrorInsufficientStock,
		ProductID: productID,
		Available: available,
		Requested: requested,
		Message:   fmt.Sprintf("insufficient stock for %s: available %d, requested %d", productID, available, requested),
	}
}

// NewProductNotFoundError reports a missing product.
func NewProductNotFoundError(op, productID string, err error) *ProductError {
	return &ProductError{
		Op:        op,
		Code:      ProductErrorNotFound,
		ProductID: productID,
		Message:   fmt.Sprintf("product %s not found", productID),
		Err:       err,
	}
}

// IsInsufficientStock reports whether err carries ProductErrorInsufficientStock.
func IsInsufficientStock(err error) (*ProductError, bool) {
	var productErr *ProductError
	if errors.As(err, &productErr) && productErr.Code == ProductErrorInsufficientStock {
		return productErr, true
	}
	return nil, false
}

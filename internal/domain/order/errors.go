package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrMissingAddress  = errors.New("address required")
	ErrMissingProduct  = errors.New("product id required")
	ErrUnknownAddress  = errors.New("address not found")
	ErrNonPositiveSum  = errors.New("order totals must be greater than 0")
	ErrPaymentSettled  = errors.New("order payment is already settled")
	ErrNoOnlinePayment = errors.New("order is not paid online")
)

// ProductNotFoundError indicates a line item references an unknown product.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InvalidPriceError indicates a line item has a negative price.
type InvalidPriceError struct {
	ProductID string
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("price must not be negative for product %s", e.ProductID)
}

// TotalsMismatchError indicates the submitted totals disagree with the line
// items.
type TotalsMismatchError struct {
	Field    string
	Got      string
	Computed string
}

func (e *TotalsMismatchError) Error() string {
	return fmt.Sprintf("%s %s does not match line items (%s)", e.Field, e.Got, e.Computed)
}

// invalid classifies a validation failure as InvalidOrderData.
func invalid(err error) error {
	return &apperr.Error{
		Kind:    apperr.KindValidation,
		Message: "invalid order data: " + err.Error(),
		Err:     err,
	}
}

func notFound() error {
	return &apperr.Error{
		Kind:    apperr.KindNotFound,
		Message: "order not found",
		Err:     ErrNotFound,
	}
}

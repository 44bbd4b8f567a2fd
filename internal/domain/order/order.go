package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/cloud-kitchen/internal/domain/payment"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusShipped       Status = "shipped"
	StatusDelivered     Status = "delivered"
	StatusCancelled     Status = "cancelled"
	StatusPaid          Status = "paid"
	StatusPaymentFailed Status = "payment_failed"
)

var (
	// ErrNotFound is returned for orders that do not exist or belong to
	// another user.
	ErrNotFound = errors.New("order not found")
	// ErrStatusConflict is returned when a conditional status update finds
	// the order in a status outside the allowed set.
	ErrStatusConflict = errors.New("order status does not allow transition")
	// ErrIntentAlreadySet is returned when attaching a payment intent to an
	// order that already references one.
	ErrIntentAlreadySet = errors.New("order already has a payment intent")
)

// Order is a placed order. Line items and totals are frozen at creation;
// only Status and PaymentIntentID change afterwards.
type Order struct {
	ID              string
	OwnerID         string
	Items           []LineItem
	TotalItems      int
	TotalPrice      decimal.Decimal
	AddressID       string
	PaymentMethod   payment.Method
	Status          Status
	PaymentIntentID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LineItem is a product snapshot at the time of ordering.
type LineItem struct {
	ProductID string
	Name      string
	Quantity  int
	Price     decimal.Decimal
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	// FindByID returns ErrNotFound when the order is missing or not owned by
	// ownerID.
	FindByID(ctx context.Context, id, ownerID string) (*Order, error)
	// ListByOwner returns the owner's orders, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]Order, error)
	// SetPaymentIntent attaches intentID if the order has none yet, returning
	// ErrIntentAlreadySet otherwise.
	SetPaymentIntent(ctx context.Context, id, ownerID, intentID string) error
	// UpdateStatusByIntent moves the order referencing intentID to status to
	// if its current status is one of from. Returns ErrNotFound when no order
	// references the intent and ErrStatusConflict when the status is not in
	// from.
	UpdateStatusByIntent(ctx context.Context, intentID string, to Status, from ...Status) (*Order, error)
}

// Publisher announces order lifecycle events to the kitchen.
type Publisher interface {
	OrderCreated(ctx context.Context, o *Order) error
	OrderStatusChanged(ctx context.Context, o *Order) error
}

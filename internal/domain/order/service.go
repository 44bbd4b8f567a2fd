package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/cloud-kitchen/internal/domain/address"
	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
	"github.com/xenking/cloud-kitchen/internal/domain/auth"
	"github.com/xenking/cloud-kitchen/internal/domain/payment"
	"github.com/xenking/cloud-kitchen/internal/domain/product"
)

// AddressLookup resolves an address owned by a user.
type AddressLookup interface {
	Get(ctx context.Context, ownerID, id string) (address.Address, error)
}

// CreateOrderRequest holds a validated-on-entry cart snapshot.
type CreateOrderRequest struct {
	Items         []LineItem
	TotalItems    int
	TotalPrice    decimal.Decimal
	AddressID     string
	PaymentMethod payment.Method
}

// PaymentRequirement tells the caller how to complete an online payment.
// Exactly one of ClientSecret or NeedsIntent is set.
type PaymentRequirement struct {
	ClientSecret string
	IntentID     string
	// NeedsIntent signals that the intent must be fetched or created through
	// EnsurePaymentIntent before the payment UI can be shown.
	NeedsIntent bool
}

// CreateOrderResult is returned by CreateOrder.
type CreateOrderResult struct {
	Order *Order
	// Payment is nil for methods that do not use the gateway.
	Payment *PaymentRequirement
}

// Config holds order service behaviour switches.
type Config struct {
	// EagerIntent creates the payment intent while placing the order instead
	// of waiting for EnsurePaymentIntent.
	EagerIntent bool
}

// Service is the order orchestrator.
type Service struct {
	products  product.Repository
	addresses AddressLookup
	orders    Repository
	gateway   payment.Gateway
	publisher Publisher
	cfg       Config

	now   func() time.Time
	newID func() string

	created    metric.Int64Counter
	reconciled metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithMeter records order metrics on m.
func WithMeter(m metric.Meter) Option {
	return func(s *Service) {
		s.initMetrics(m)
	}
}

// WithPublisher announces order events through p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	addresses AddressLookup,
	orders Repository,
	gateway payment.Gateway,
	cfg Config,
	opts ...Option,
) *Service {
	s := &Service{
		products:  products,
		addresses: addresses,
		orders:    orders,
		gateway:   gateway,
		cfg:       cfg,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	s.initMetrics(noop.NewMeterProvider().Meter(""))
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) initMetrics(m metric.Meter) {
	var err error
	if s.created, err = m.Int64Counter("kitchen.orders.created",
		metric.WithDescription("Orders placed"),
	); err != nil {
		s.created, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
	if s.reconciled, err = m.Int64Counter("kitchen.orders.reconciled",
		metric.WithDescription("Order status updates applied from payment webhooks"),
	); err != nil {
		s.reconciled, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
}

// validate checks the request without touching storage.
func validate(req CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}

	qty := 0
	sum := decimal.Zero
	for _, item := range req.Items {
		if item.ProductID == "" {
			return ErrMissingProduct
		}
		if item.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: item.ProductID}
		}
		if item.Price.IsNegative() {
			return &InvalidPriceError{ProductID: item.ProductID}
		}
		qty += item.Quantity
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	if req.TotalItems <= 0 || !req.TotalPrice.IsPositive() {
		return ErrNonPositiveSum
	}
	if req.TotalItems != qty {
		return &TotalsMismatchError{
			Field:    "totalItems",
			Got:      decimal.NewFromInt(int64(req.TotalItems)).String(),
			Computed: decimal.NewFromInt(int64(qty)).String(),
		}
	}
	if !req.TotalPrice.Equal(sum) {
		return &TotalsMismatchError{Field: "totalPrice", Got: req.TotalPrice.String(), Computed: sum.String()}
	}
	if req.AddressID == "" {
		return ErrMissingAddress
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = payment.MethodDefault
	}
	if _, err := payment.ParseMethod(string(req.PaymentMethod)); err != nil {
		return err
	}
	return nil
}

// CreateOrder validates req, persists a pending order with the submitted
// prices and, for gateway payments, reports how to obtain the client secret.
// Nothing is written when validation fails.
func (s *Service) CreateOrder(ctx context.Context, user auth.User, req CreateOrderRequest) (*CreateOrderResult, error) {
	if user.ID == "" {
		return nil, apperr.NotAuthenticated()
	}
	if err := validate(req); err != nil {
		return nil, invalid(err)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = payment.MethodDefault
	}

	if err := s.checkProducts(ctx, req.Items); err != nil {
		return nil, err
	}
	if _, err := s.addresses.Get(ctx, user.ID, req.AddressID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, invalid(ErrUnknownAddress)
		}
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:            s.newID(),
		OwnerID:       user.ID,
		Items:         append([]LineItem(nil), req.Items...),
		TotalItems:    req.TotalItems,
		TotalPrice:    req.TotalPrice,
		AddressID:     req.AddressID,
		PaymentMethod: req.PaymentMethod,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, apperr.Persistence("create order", err)
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("user_id", user.ID))
	lg.Info("Order created",
		zap.Int("total_items", o.TotalItems),
		zap.Stringer("total_price", o.TotalPrice),
		zap.String("payment_method", string(o.PaymentMethod)),
	)
	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(o.PaymentMethod))))
	s.publishCreated(ctx, o)

	result := &CreateOrderResult{Order: o}
	if !o.PaymentMethod.RequiresGateway() {
		return result, nil
	}

	result.Payment = &PaymentRequirement{NeedsIntent: true}
	if !s.cfg.EagerIntent {
		return result, nil
	}

	intent, err := s.attachIntent(ctx, o)
	if err != nil {
		// The order stays pending without an intent; the caller falls back to
		// EnsurePaymentIntent.
		lg.Warn("Eager payment intent failed", zap.Error(err))
		return result, nil
	}
	result.Payment = &PaymentRequirement{ClientSecret: intent.ClientSecret, IntentID: intent.ID}
	return result, nil
}

func (s *Service) checkProducts(ctx context.Context, items []LineItem) error {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return apperr.Persistence("get products", err)
	}

	known := make(map[string]struct{}, len(fetched))
	for _, p := range fetched {
		known[p.ID] = struct{}{}
	}
	for _, item := range items {
		if _, ok := known[item.ProductID]; !ok {
			return invalid(&ProductNotFoundError{ProductID: item.ProductID})
		}
	}
	return nil
}

// EnsurePaymentIntent returns the order's payment intent, creating it on
// first use.
func (s *Service) EnsurePaymentIntent(ctx context.Context, user auth.User, orderID string) (*payment.Intent, error) {
	if user.ID == "" {
		return nil, apperr.NotAuthenticated()
	}
	o, err := s.find(ctx, user.ID, orderID)
	if err != nil {
		return nil, err
	}
	if !o.PaymentMethod.RequiresGateway() {
		return nil, invalid(ErrNoOnlinePayment)
	}
	if o.Status != StatusPending && o.Status != StatusPaymentFailed {
		return nil, invalid(ErrPaymentSettled)
	}

	if o.PaymentIntentID != "" {
		return s.retrieveIntent(ctx, o.PaymentIntentID)
	}
	return s.attachIntent(ctx, o)
}

func (s *Service) retrieveIntent(ctx context.Context, id string) (*payment.Intent, error) {
	intent, err := s.gateway.RetrieveIntent(ctx, id)
	if err != nil {
		return nil, gatewayErr("retrieve payment intent", err)
	}
	return intent, nil
}

// attachIntent creates an intent for o and records its id. A concurrent
// caller that attached first wins; its intent is returned instead.
func (s *Service) attachIntent(ctx context.Context, o *Order) (*payment.Intent, error) {
	intent, err := s.gateway.CreateIntent(ctx, o.TotalPrice, map[string]string{
		"order_id": o.ID,
		"user_id":  o.OwnerID,
	})
	if err != nil {
		return nil, gatewayErr("create payment intent", err)
	}

	err = s.orders.SetPaymentIntent(ctx, o.ID, o.OwnerID, intent.ID)
	switch {
	case err == nil:
		o.PaymentIntentID = intent.ID
		return intent, nil
	case errors.Is(err, ErrIntentAlreadySet):
		current, err := s.find(ctx, o.OwnerID, o.ID)
		if err != nil {
			return nil, err
		}
		zctx.From(ctx).Info("Payment intent attached concurrently",
			zap.String("order_id", o.ID),
			zap.String("kept", current.PaymentIntentID),
			zap.String("discarded", intent.ID),
		)
		return s.retrieveIntent(ctx, current.PaymentIntentID)
	default:
		zctx.From(ctx).Error("Payment intent created but not stored",
			zap.String("order_id", o.ID),
			zap.String("payment_intent", intent.ID),
			zap.Error(err),
		)
		return nil, apperr.Persistence("store payment intent", err)
	}
}

// GetOrderDetails returns the order only when it belongs to user. Missing and
// foreign orders produce the same error.
func (s *Service) GetOrderDetails(ctx context.Context, user auth.User, orderID string) (*Order, error) {
	if user.ID == "" {
		return nil, apperr.NotAuthenticated()
	}
	return s.find(ctx, user.ID, orderID)
}

// ListOrders returns the user's order history, newest first.
func (s *Service) ListOrders(ctx context.Context, user auth.User) ([]Order, error) {
	if user.ID == "" {
		return nil, apperr.NotAuthenticated()
	}
	orders, err := s.orders.ListByOwner(ctx, user.ID)
	if err != nil {
		return nil, apperr.Persistence("list orders", err)
	}
	return orders, nil
}

func (s *Service) find(ctx context.Context, ownerID, orderID string) (*Order, error) {
	if orderID == "" {
		return nil, notFound()
	}
	o, err := s.orders.FindByID(ctx, orderID, ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound()
		}
		return nil, apperr.Persistence("find order", err)
	}
	return o, nil
}

// MarkPaid records a successful payment reported by the gateway. A failed
// payment may still be followed by a successful retry.
func (s *Service) MarkPaid(ctx context.Context, intentID string) error {
	return s.reconcile(ctx, intentID, StatusPaid, StatusPending, StatusPaymentFailed)
}

// MarkPaymentFailed records a failed payment. A paid order is never
// downgraded by a late failure event.
func (s *Service) MarkPaymentFailed(ctx context.Context, intentID, reason string) error {
	if reason != "" {
		zctx.From(ctx).Info("Payment failed",
			zap.String("payment_intent", intentID),
			zap.String("reason", reason),
		)
	}
	return s.reconcile(ctx, intentID, StatusPaymentFailed, StatusPending)
}

func (s *Service) reconcile(ctx context.Context, intentID string, to Status, from ...Status) error {
	if intentID == "" {
		return notFound()
	}
	o, err := s.orders.UpdateStatusByIntent(ctx, intentID, to, from...)
	switch {
	case errors.Is(err, ErrNotFound):
		return notFound()
	case errors.Is(err, ErrStatusConflict):
		// Redelivered or out-of-order event; the stored status wins.
		zctx.From(ctx).Info("Skipping status transition",
			zap.String("payment_intent", intentID),
			zap.String("to", string(to)),
		)
		return nil
	case err != nil:
		return apperr.Persistence("update order status", err)
	}

	s.reconciled.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
	if s.publisher != nil {
		if err := s.publisher.OrderStatusChanged(ctx, o); err != nil {
			zctx.From(ctx).Warn("Publish order status", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) publishCreated(ctx context.Context, o *Order) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.OrderCreated(ctx, o); err != nil {
		zctx.From(ctx).Warn("Publish order created", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func gatewayErr(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind == apperr.KindExternalGateway {
		return err
	}
	return apperr.Gateway(op, "payment provider error: "+err.Error(), err)
}

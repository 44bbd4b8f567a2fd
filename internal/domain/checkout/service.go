package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cloud-kitchen/internal/domain/address"
	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
	"github.com/xenking/cloud-kitchen/internal/domain/auth"
	"github.com/xenking/cloud-kitchen/internal/domain/cart"
	"github.com/xenking/cloud-kitchen/internal/domain/order"
	"github.com/xenking/cloud-kitchen/internal/domain/payment"
	"github.com/xenking/cloud-kitchen/internal/domain/product"
)

const (
	maxAttempts  = 5
	placeLockTTL = 30 * time.Second
)

// AddressService is the part of the address book used by checkout.
type AddressService interface {
	List(ctx context.Context, ownerID string) ([]address.Address, error)
	Get(ctx context.Context, ownerID, id string) (address.Address, error)
	Create(ctx context.Context, ownerID string, f address.Fields) (address.Address, error)
}

// OrderService places orders and resolves their payment intents.
type OrderService interface {
	CreateOrder(ctx context.Context, user auth.User, req order.CreateOrderRequest) (*order.CreateOrderResult, error)
	EnsurePaymentIntent(ctx context.Context, user auth.User, orderID string) (*payment.Intent, error)
}

// Catalog looks up products added to the cart.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// AddressInput selects an existing address or supplies a new one. New wins
// when both are set; an empty input uses the preselected address.
type AddressInput struct {
	AddressID string
	New       *address.Fields
}

// PaymentOutcome is the result reported by the gateway's confirmation UI.
type PaymentOutcome struct {
	Succeeded bool
	Message   string
}

// Service runs cart and checkout actions against the user's stored session.
// Every action either commits its full effect or leaves the session as it
// was, apart from recording LastError on the flow.
type Service struct {
	store     SessionStore
	catalog   Catalog
	addresses AddressService
	orders    OrderService
}

// NewService creates a checkout Service.
func NewService(store SessionStore, catalog Catalog, addresses AddressService, orders OrderService) *Service {
	return &Service{
		store:     store,
		catalog:   catalog,
		addresses: addresses,
		orders:    orders,
	}
}

// update loads the session, applies fn and saves it, retrying when another
// request saved in between. fn must not have side effects outside the
// session.
func (s *Service) update(ctx context.Context, user auth.User, op string, fn func(*Session) error) (*Session, error) {
	if user.ID == "" {
		return nil, apperr.NotAuthenticated()
	}
	for range maxAttempts {
		sess, err := s.store.Load(ctx, user.ID)
		if err != nil {
			return nil, apperr.Persistence(op, errors.Wrap(err, "load session"))
		}
		if err := fn(sess); err != nil {
			return nil, err
		}
		err = s.store.Save(ctx, user.ID, sess)
		if errors.Is(err, ErrSessionConflict) {
			continue
		}
		if err != nil {
			return nil, apperr.Persistence(op, errors.Wrap(err, "save session"))
		}
		return sess, nil
	}
	return nil, apperr.Conflict(op, ErrSessionConflict)
}

func (s *Service) load(ctx context.Context, user auth.User, op string) (*Session, error) {
	if user.ID == "" {
		return nil, apperr.NotAuthenticated()
	}
	sess, err := s.store.Load(ctx, user.ID)
	if err != nil {
		return nil, apperr.Persistence(op, errors.Wrap(err, "load session"))
	}
	return sess, nil
}

// --- Cart ---

// Cart returns the user's cart.
func (s *Service) Cart(ctx context.Context, user auth.User) (cart.Snapshot, error) {
	sess, err := s.load(ctx, user, "get cart")
	if err != nil {
		return cart.Snapshot{}, err
	}
	return sess.Cart.Snapshot(), nil
}

// AddItem adds one unit of the catalog product productID.
func (s *Service) AddItem(ctx context.Context, user auth.User, productID string) (cart.Snapshot, error) {
	if productID == "" {
		return cart.Snapshot{}, apperr.Validation("productId is required")
	}
	p, err := s.catalog.GetByID(ctx, productID)
	switch {
	case errors.Is(err, product.ErrNotFound):
		return cart.Snapshot{}, apperr.NotFound("product")
	case err != nil:
		return cart.Snapshot{}, apperr.Persistence("get product", err)
	case !p.Available:
		return cart.Snapshot{}, apperr.Validation("%s is currently unavailable", p.Name)
	}

	sess, err := s.update(ctx, user, "add to cart", func(sess *Session) error {
		if err := sess.Cart.AddItem(cart.Product{
			ID:        p.ID,
			Name:      p.Name,
			Price:     p.Price,
			ImageName: p.ImageName,
		}); err != nil {
			return apperr.Validation("%s", err.Error())
		}
		return nil
	})
	if err != nil {
		return cart.Snapshot{}, err
	}
	return sess.Cart.Snapshot(), nil
}

// UpdateQuantity sets the quantity of productID. Zero or less removes it;
// more than cart.MaxQuantity is rejected.
func (s *Service) UpdateQuantity(ctx context.Context, user auth.User, productID string, quantity int) (cart.Snapshot, error) {
	if quantity > cart.MaxQuantity {
		return cart.Snapshot{}, apperr.Validation("quantity cannot exceed %d", cart.MaxQuantity)
	}
	sess, err := s.update(ctx, user, "update cart", func(sess *Session) error {
		sess.Cart.UpdateQuantity(productID, quantity)
		return nil
	})
	if err != nil {
		return cart.Snapshot{}, err
	}
	return sess.Cart.Snapshot(), nil
}

// RemoveItem drops productID from the cart.
func (s *Service) RemoveItem(ctx context.Context, user auth.User, productID string) (cart.Snapshot, error) {
	sess, err := s.update(ctx, user, "remove from cart", func(sess *Session) error {
		sess.Cart.RemoveItem(productID)
		return nil
	})
	if err != nil {
		return cart.Snapshot{}, err
	}
	return sess.Cart.Snapshot(), nil
}

// ClearCart empties the cart.
func (s *Service) ClearCart(ctx context.Context, user auth.User) (cart.Snapshot, error) {
	sess, err := s.update(ctx, user, "clear cart", func(sess *Session) error {
		sess.Cart.Clear()
		return nil
	})
	if err != nil {
		return cart.Snapshot{}, err
	}
	return sess.Cart.Snapshot(), nil
}

// --- Checkout ---

// Start returns the flow in progress or begins a new one at the address step
// with the user's saved addresses.
func (s *Service) Start(ctx context.Context, user auth.User) (*Session, error) {
	sess, err := s.load(ctx, user, "start checkout")
	if err != nil {
		return nil, err
	}
	if sess.Flow != nil && !sess.Flow.Completed() {
		return sess, nil
	}

	addrs, err := s.addresses.List(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, user, "start checkout", func(sess *Session) error {
		if sess.Flow == nil || sess.Flow.Completed() {
			sess.Flow = NewFlow(addrs)
		}
		return nil
	})
}

// Abandon drops the flow. The cart and any placed order are kept.
func (s *Service) Abandon(ctx context.Context, user auth.User) error {
	_, err := s.update(ctx, user, "abandon checkout", func(sess *Session) error {
		sess.Flow = nil
		return nil
	})
	return err
}

// fail records err as the flow's LastError and returns it.
func (s *Service) fail(ctx context.Context, user auth.User, err error) error {
	if user.ID == "" || apperr.Is(err, apperr.KindNotAuthenticated) {
		return err
	}
	msg := apperr.Message(err)
	if _, uerr := s.update(ctx, user, "record checkout error", func(sess *Session) error {
		if sess.Flow == nil {
			return errNoFlow
		}
		sess.Flow.lastError = msg
		return nil
	}); uerr != nil && !errors.Is(uerr, errNoFlow) {
		zctx.From(ctx).Warn("Record checkout error", zap.Error(uerr))
	}
	return err
}

var errNoFlow = errors.New("no checkout in progress")

func noFlow() error {
	e := apperr.IllegalState("no checkout in progress")
	e.Err = errNoFlow
	return e
}

func currentFlow(sess *Session) (*Flow, error) {
	if sess.Flow == nil {
		return nil, noFlow()
	}
	return sess.Flow, nil
}

// advance applies a pure transition and clears LastError on success.
func (s *Service) advance(ctx context.Context, user auth.User, op string, fn func(*Session, *Flow) error) (*Session, error) {
	sess, err := s.update(ctx, user, op, func(sess *Session) error {
		f, err := currentFlow(sess)
		if err != nil {
			return err
		}
		if err := fn(sess, f); err != nil {
			return err
		}
		f.lastError = ""
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, user, err)
	}
	return sess, nil
}

// SubmitAddress resolves in to an owned address, creating it first when new
// fields are given, and moves to the payment step. Invalid fields keep the
// flow at the address step.
func (s *Service) SubmitAddress(ctx context.Context, user auth.User, in AddressInput) (*Session, error) {
	sess, err := s.load(ctx, user, "submit address")
	if err != nil {
		return nil, err
	}
	f, err := currentFlow(sess)
	if err != nil {
		return nil, err
	}
	step, err := f.addressStep()
	if err != nil {
		return nil, s.fail(ctx, user, err)
	}

	var chosen address.Address
	switch {
	case in.New != nil:
		chosen, err = s.addresses.Create(ctx, user.ID, *in.New)
		if err == nil {
			zctx.From(ctx).Info("Address added during checkout", zap.String("address_id", chosen.ID))
		}
	case in.AddressID != "" || step.SelectedID != "":
		id := in.AddressID
		if id == "" {
			id = step.SelectedID
		}
		chosen, err = s.addresses.Get(ctx, user.ID, id)
	default:
		err = apperr.Validation("select a saved address or add a new one")
	}
	if err != nil {
		return nil, s.fail(ctx, user, err)
	}

	return s.advance(ctx, user, "submit address", func(_ *Session, f *Flow) error {
		return f.submitAddress(chosen)
	})
}

// SelectPaymentMethod records the method and moves to confirmation.
func (s *Service) SelectPaymentMethod(ctx context.Context, user auth.User, method string) (*Session, error) {
	m, err := payment.ParseMethod(method)
	if err != nil {
		return nil, s.fail(ctx, user, apperr.Validation("%s", err.Error()))
	}
	return s.advance(ctx, user, "select payment method", func(_ *Session, f *Flow) error {
		return f.selectPaymentMethod(m)
	})
}

// BackToPayment returns from confirmation to the payment step while no order
// has been placed.
func (s *Service) BackToPayment(ctx context.Context, user auth.User) (*Session, error) {
	return s.advance(ctx, user, "back to payment", func(_ *Session, f *Flow) error {
		return f.backToPayment()
	})
}

// PlaceOrder creates the order from the current cart. Default payments
// complete the flow and remove the ordered items from the cart. Gateway payments keep the flow at
// confirmation with the intent's client secret; when the intent cannot be
// obtained the order stays placed and calling PlaceOrder again retries only
// the intent.
func (s *Service) PlaceOrder(ctx context.Context, user auth.User) (*Session, error) {
	if user.ID == "" {
		return nil, apperr.NotAuthenticated()
	}
	unlock, err := s.store.Lock(ctx, user.ID, placeLockTTL)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return nil, apperr.Conflict("place order", err)
		}
		return nil, apperr.Persistence("place order", errors.Wrap(err, "lock session"))
	}
	defer unlock()

	sess, err := s.load(ctx, user, "place order")
	if err != nil {
		return nil, err
	}
	f, err := currentFlow(sess)
	if err != nil {
		return nil, err
	}
	step, err := f.confirmation()
	if err != nil {
		return nil, s.fail(ctx, user, err)
	}
	if step.awaitingPayment() {
		return nil, s.fail(ctx, user, illegal(step, "place the order twice"))
	}

	lg := zctx.From(ctx).With(zap.String("user_id", user.ID))

	placed := step
	var secret, intentID string
	if !step.placed() {
		snap := sess.Cart.Snapshot()
		res, err := s.orders.CreateOrder(ctx, user, order.CreateOrderRequest{
			Items:         orderItems(snap.Items),
			TotalItems:    snap.TotalItems,
			TotalPrice:    snap.TotalPrice,
			AddressID:     step.Address.ID,
			PaymentMethod: step.Method,
		})
		if err != nil {
			return nil, s.fail(ctx, user, err)
		}
		placed.OrderID = res.Order.ID
		placed.Ordered = snap.Items
		lg = lg.With(zap.String("order_id", placed.OrderID))
		if res.Payment != nil && !res.Payment.NeedsIntent {
			secret, intentID = res.Payment.ClientSecret, res.Payment.IntentID
		}
	}

	var intentErr error
	if step.Method.RequiresGateway() && secret == "" {
		intent, err := s.orders.EnsurePaymentIntent(ctx, user, placed.OrderID)
		if err != nil {
			lg.Warn("Payment intent unavailable", zap.Error(err))
			intentErr = err
		} else {
			secret, intentID = intent.ClientSecret, intent.ID
		}
	}

	// The order was created from placed, so placed is what the flow records,
	// even if another request changed the method or address meanwhile.
	sess, err = s.update(ctx, user, "place order", func(sess *Session) error {
		f, err := currentFlow(sess)
		if err != nil {
			return err
		}
		cur := placed
		cur.IntentID = intentID
		cur.ClientSecret = secret
		if intentErr != nil {
			f.step = cur
			f.lastError = apperr.Message(intentErr)
			return nil
		}
		if !cur.Method.RequiresGateway() {
			sess.Cart.Subtract(cur.Ordered)
			f.step = cur.complete()
		} else {
			f.step = cur
		}
		f.lastError = ""
		return nil
	})
	if err != nil {
		// The order exists even though the flow could not record it.
		lg.Error("Order placed but session not updated", zap.Error(err))
		return nil, err
	}
	if intentErr != nil {
		return nil, intentErr
	}

	lg.Info("Order placed", zap.String("payment_method", string(step.Method)))
	return sess, nil
}

// ConfirmPayment applies the gateway UI outcome. Success removes the ordered
// items from the cart and completes the flow. An error is surfaced as reported and the flow stays
// at confirmation so the user can retry the payment.
func (s *Service) ConfirmPayment(ctx context.Context, user auth.User, outcome PaymentOutcome) (*Session, error) {
	if !outcome.Succeeded {
		msg := outcome.Message
		if msg == "" {
			msg = "payment was not completed"
		}
		return nil, s.fail(ctx, user, apperr.Gateway("confirm payment", msg, nil))
	}
	return s.advance(ctx, user, "confirm payment", func(sess *Session, f *Flow) error {
		step, ok := f.step.(ConfirmationStep)
		if !ok || !step.awaitingPayment() {
			return illegal(f.step, "confirm a payment")
		}
		sess.Cart.Subtract(step.Ordered)
		f.step = step.complete()
		return nil
	})
}

func orderItems(items []cart.LineItem) []order.LineItem {
	out := make([]order.LineItem, len(items))
	for i, it := range items {
		out[i] = order.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     it.Price,
		}
	}
	return out
}

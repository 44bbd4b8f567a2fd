// Package handler is the HTTP surface of the kitchen API: JSON endpoints for
// the catalog, cart, checkout, address book and orders, plus the Stripe
// webhook receiver.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/cloud-kitchen/internal/domain/address"
	"github.com/xenking/cloud-kitchen/internal/domain/auth"
	"github.com/xenking/cloud-kitchen/internal/domain/cart"
	"github.com/xenking/cloud-kitchen/internal/domain/checkout"
	"github.com/xenking/cloud-kitchen/internal/domain/order"
	"github.com/xenking/cloud-kitchen/internal/domain/payment"
	"github.com/xenking/cloud-kitchen/internal/domain/product"
)

// Catalog is the read side of the product catalog.
type Catalog interface {
	List(ctx context.Context) ([]product.Product, error)
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// Checkout drives the per-user cart and checkout flow.
type Checkout interface {
	Cart(ctx context.Context, user auth.User) (cart.Snapshot, error)
	AddItem(ctx context.Context, user auth.User, productID string) (cart.Snapshot, error)
	UpdateQuantity(ctx context.Context, user auth.User, productID string, quantity int) (cart.Snapshot, error)
	RemoveItem(ctx context.Context, user auth.User, productID string) (cart.Snapshot, error)
	ClearCart(ctx context.Context, user auth.User) (cart.Snapshot, error)

	Start(ctx context.Context, user auth.User) (*checkout.Session, error)
	Abandon(ctx context.Context, user auth.User) error
	SubmitAddress(ctx context.Context, user auth.User, in checkout.AddressInput) (*checkout.Session, error)
	SelectPaymentMethod(ctx context.Context, user auth.User, method string) (*checkout.Session, error)
	BackToPayment(ctx context.Context, user auth.User) (*checkout.Session, error)
	PlaceOrder(ctx context.Context, user auth.User) (*checkout.Session, error)
	ConfirmPayment(ctx context.Context, user auth.User, outcome checkout.PaymentOutcome) (*checkout.Session, error)
}

// Addresses manages the caller's address book.
type Addresses interface {
	List(ctx context.Context, ownerID string) ([]address.Address, error)
	Create(ctx context.Context, ownerID string, f address.Fields) (address.Address, error)
	Update(ctx context.Context, ownerID, id string, p address.Patch) (address.Address, error)
	Delete(ctx context.Context, ownerID, id string) error
	SetDefault(ctx context.Context, ownerID, id string) (address.Address, error)
}

// Orders exposes order history and payment intents.
type Orders interface {
	ListOrders(ctx context.Context, user auth.User) ([]order.Order, error)
	GetOrderDetails(ctx context.Context, user auth.User, orderID string) (*order.Order, error)
	EnsurePaymentIntent(ctx context.Context, user auth.User, orderID string) (*payment.Intent, error)
}

// Webhooks processes provider callbacks.
type Webhooks interface {
	Handle(ctx context.Context, payload []byte, signature string) (payment.Outcome, error)
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to product image names. When empty, image
	// names are returned as stored.
	ImageBaseURL string
}

// Handler serves the kitchen API.
type Handler struct {
	products     Catalog
	checkout     Checkout
	addresses    Addresses
	orders       Orders
	webhooks     Webhooks
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	products Catalog,
	checkout Checkout,
	addresses Addresses,
	orders Orders,
	webhooks Webhooks,
) *Handler {
	return &Handler{
		products:     products,
		checkout:     checkout,
		addresses:    addresses,
		orders:       orders,
		webhooks:     webhooks,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Register mounts the API under /api, guarded by authenticate, and the
// unauthenticated Stripe webhook under /webhooks.
func (h *Handler) Register(r chi.Router, authenticate func(http.Handler) http.Handler) {
	r.Post("/webhooks/stripe", h.stripeWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.getProduct)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Get("/cart", h.getCart)
			r.Delete("/cart", h.clearCart)
			r.Post("/cart/items", h.addCartItem)
			r.Patch("/cart/items/{productId}", h.updateCartItem)
			r.Delete("/cart/items/{productId}", h.removeCartItem)

			r.Get("/checkout", h.startCheckout)
			r.Delete("/checkout", h.abandonCheckout)
			r.Post("/checkout/address", h.submitAddress)
			r.Post("/checkout/payment-method", h.selectPaymentMethod)
			r.Post("/checkout/back", h.backToPayment)
			r.Post("/checkout/place-order", h.placeOrder)
			r.Post("/checkout/confirm-payment", h.confirmPayment)

			r.Get("/addresses", h.listAddresses)
			r.Post("/addresses", h.createAddress)
			r.Patch("/addresses/{id}", h.updateAddress)
			r.Delete("/addresses/{id}", h.deleteAddress)
			r.Post("/addresses/{id}/default", h.setDefaultAddress)

			r.Get("/orders", h.listOrders)
			r.Get("/orders/{id}", h.getOrder)
			r.Post("/orders/{id}/payment-intent", h.ensurePaymentIntent)
		})
	})
}

func currentUser(r *http.Request) auth.User {
	u, _ := auth.UserFromContext(r.Context())
	return u
}

// Package stripegw implements the payment gateway on Stripe PaymentIntents.
package stripegw

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
	"github.com/xenking/cloud-kitchen/internal/domain/payment"
)

// BreakerConfig tunes the circuit breaker around Stripe calls.
type BreakerConfig struct {
	MaxRequests         uint32        `default:"1"   usage:"Requests allowed while half-open"`
	Interval            time.Duration `default:"60s" usage:"Closed-state window after which failure counts reset"`
	Timeout             time.Duration `default:"30s" usage:"Open-state duration before probing again"`
	ConsecutiveFailures uint32        `default:"5"   usage:"Consecutive failures that open the breaker" flag:"stripe-breaker-failures"`
}

// Config holds Stripe credentials and behaviour.
type Config struct {
	SecretKey     string `usage:"Stripe secret API key" flag:"stripe-secret-key"`
	WebhookSecret string `usage:"Stripe webhook endpoint signing secret" flag:"stripe-webhook-secret"`
	Currency      string `default:"usd" usage:"ISO currency for payment intents"`
	EagerIntent   bool   `default:"false" usage:"Create the payment intent while placing the order" flag:"stripe-eager-intent"`
	Breaker       BreakerConfig
}

var (
	_ payment.Gateway  = (*Gateway)(nil)
	_ payment.Verifier = (*Gateway)(nil)
)

// Gateway talks to Stripe. Calls fail fast with apperr.KindExternalGateway
// while the breaker is open; nothing is retried.
type Gateway struct {
	intents       *paymentintent.Client
	webhookSecret string
	currency      string
	breaker       *gobreaker.CircuitBreaker[*stripe.PaymentIntent]
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBackend replaces the Stripe API backend.
func WithBackend(b stripe.Backend) Option {
	return func(g *Gateway) {
		g.intents.B = b
	}
}

// New creates a Gateway for cfg.
func New(cfg Config, lg *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		intents: &paymentintent.Client{
			B:   stripe.GetBackend(stripe.APIBackend),
			Key: cfg.SecretKey,
		},
		webhookSecret: cfg.WebhookSecret,
		currency:      strings.ToLower(cfg.Currency),
	}

	failures := cfg.Breaker.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	g.breaker = gobreaker.NewCircuitBreaker[*stripe.PaymentIntent](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Card declines and bad requests are answers, not outages.
		IsSuccessful: func(err error) bool {
			var se *stripe.Error
			if errors.As(err, &se) {
				return se.HTTPStatusCode < 500 && se.HTTPStatusCode != 429
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	for _, o := range opts {
		o(g)
	}
	return g
}

// CreateIntent creates a PaymentIntent for amount with automatic payment
// methods. Metadata order_id doubles as the idempotency key.
func (g *Gateway) CreateIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(payment.ToMinorUnits(amount, g.currency)),
		Currency: stripe.String(g.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if id := metadata["order_id"]; id != "" {
		params.SetIdempotencyKey("order-intent-" + id)
	}

	pi, err := g.breaker.Execute(func() (*stripe.PaymentIntent, error) {
		return g.intents.New(params)
	})
	if err != nil {
		return nil, g.classify(ctx, "create payment intent", err)
	}

	zctx.From(ctx).Info("Created payment intent",
		zap.String("payment_intent", pi.ID),
		zap.Int64("amount", pi.Amount),
	)
	return toIntent(pi), nil
}

// RetrieveIntent fetches an existing PaymentIntent.
func (g *Gateway) RetrieveIntent(ctx context.Context, id string) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.breaker.Execute(func() (*stripe.PaymentIntent, error) {
		return g.intents.Get(id, params)
	})
	if err != nil {
		return nil, g.classify(ctx, "retrieve payment intent", err)
	}
	return toIntent(pi), nil
}

func (g *Gateway) classify(ctx context.Context, op string, err error) error {
	zctx.From(ctx).Warn("Stripe call failed", zap.String("op", op), zap.Error(err))

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Gateway(op, "payment provider is temporarily unavailable, please retry later", err)
	}
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return apperr.Gateway(op, se.Msg, err)
	}
	return apperr.Gateway(op, "payment provider error", err)
}

func toIntent(pi *stripe.PaymentIntent) *payment.Intent {
	return &payment.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}
}

// VerifyWebhook checks the Stripe-Signature header against the endpoint
// secret and decodes payment intent events.
func (g *Gateway) VerifyWebhook(payload []byte, signature string) (*payment.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "construct event")
	}

	out := &payment.Event{
		ID:   ev.ID,
		Type: payment.EventType(ev.Type),
	}
	switch out.Type {
	case payment.EventPaymentSucceeded, payment.EventPaymentFailed:
	default:
		return out, nil
	}

	var pi stripe.PaymentIntent
	if ev.Data == nil {
		return nil, errors.New("event without data")
	}
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, errors.Wrap(err, "decode payment intent")
	}
	out.IntentID = pi.ID
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out, nil
}

package payment

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
)

// Reconciler applies payment outcomes to orders.
type Reconciler interface {
	MarkPaid(ctx context.Context, intentID string) error
	MarkPaymentFailed(ctx context.Context, intentID, reason string) error
}

// Outcome describes what the receiver did with a verified event.
type Outcome string

const (
	OutcomeReconciled Outcome = "reconciled"
	OutcomeIgnored    Outcome = "ignored"
)

// WebhookReceiver verifies provider callbacks and reconciles the matching
// order. It is independent of the synchronous checkout request.
type WebhookReceiver struct {
	verifier Verifier
	orders   Reconciler
}

// NewWebhookReceiver creates a WebhookReceiver.
func NewWebhookReceiver(verifier Verifier, orders Reconciler) *WebhookReceiver {
	return &WebhookReceiver{verifier: verifier, orders: orders}
}

// Handle verifies payload and applies it. Errors are classified:
// KindPaymentVerification for bad signatures (never processed further),
// KindNotFound when no order matches the intent, KindPersistence when the
// update could not be stored. Unhandled event types are ignored.
func (r *WebhookReceiver) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	lg := zctx.From(ctx)

	ev, err := r.verifier.VerifyWebhook(payload, signature)
	if err != nil {
		lg.Warn("Rejected webhook", zap.Error(err))
		return "", apperr.Verification(err)
	}

	lg = lg.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("payment_intent", ev.IntentID),
	)

	switch ev.Type {
	case EventPaymentSucceeded:
		err = r.orders.MarkPaid(ctx, ev.IntentID)
	case EventPaymentFailed:
		err = r.orders.MarkPaymentFailed(ctx, ev.IntentID, ev.FailureMessage)
	default:
		lg.Debug("Ignoring webhook event")
		return OutcomeIgnored, nil
	}

	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			// The payment stands; this needs manual reconciliation.
			lg.Warn("No order for payment intent")
		} else {
			lg.Error("Reconcile payment", zap.Error(err))
		}
		return "", err
	}

	lg.Info("Reconciled payment")
	return OutcomeReconciled, nil
}

package stripegw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
	"github.com/xenking/cloud-kitchen/internal/domain/payment"
)

const testWebhookSecret = "whsec_test_secret"

// fakeStripe serves the PaymentIntents endpoints.
type fakeStripe struct {
	calls  atomic.Int32
	status int
	body   string
	form   chan map[string][]string
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if err := r.ParseForm(); err == nil && f.form != nil {
		select {
		case f.form <- r.PostForm:
		default:
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	_, _ = w.Write([]byte(f.body))
}

func newTestGateway(t *testing.T, fake *fakeStripe) *Gateway {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return New(Config{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Currency:      "usd",
		Breaker: BreakerConfig{
			MaxRequests:         1,
			Timeout:             time.Minute,
			ConsecutiveFailures: 2,
		},
	}, zap.NewNop(), WithBackend(backend))
}

const intentJSON = `{
	"id": "pi_123",
	"object": "payment_intent",
	"amount": 3050,
	"currency": "usd",
	"status": "requires_payment_method",
	"client_secret": "pi_123_secret_abc"
}`

func TestCreateIntent(t *testing.T) {
	fake := &fakeStripe{status: http.StatusOK, body: intentJSON, form: make(chan map[string][]string, 1)}
	g := newTestGateway(t, fake)

	intent, err := g.CreateIntent(context.Background(), decimal.RequireFromString("30.50"), map[string]string{
		"order_id": "o1",
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)
	assert.Equal(t, int64(3050), intent.Amount)

	form := <-fake.form
	assert.Equal(t, []string{"3050"}, form["amount"])
	assert.Equal(t, []string{"usd"}, form["currency"])
	assert.Equal(t, []string{"o1"}, form["metadata[order_id]"])
	assert.Equal(t, []string{"true"}, form["automatic_payment_methods[enabled]"])
}

func TestCreateIntent_ZeroDecimalCurrency(t *testing.T) {
	fake := &fakeStripe{status: http.StatusOK, body: intentJSON, form: make(chan map[string][]string, 1)}
	g := newTestGateway(t, fake)
	g.currency = "jpy"

	_, err := g.CreateIntent(context.Background(), decimal.RequireFromString("1200"), map[string]string{
		"order_id": "o2",
	})
	require.NoError(t, err)

	form := <-fake.form
	assert.Equal(t, []string{"1200"}, form["amount"])
	assert.Equal(t, []string{"jpy"}, form["currency"])
}

func TestRetrieveIntent(t *testing.T) {
	fake := &fakeStripe{status: http.StatusOK, body: intentJSON}
	g := newTestGateway(t, fake)

	intent, err := g.RetrieveIntent(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "requires_payment_method", intent.Status)
}

func TestCreateIntent_CardErrorSurfacedVerbatim(t *testing.T) {
	fake := &fakeStripe{
		status: http.StatusPaymentRequired,
		body:   `{"error": {"type": "card_error", "code": "card_declined", "message": "Your card was declined."}}`,
	}
	g := newTestGateway(t, fake)

	for range 3 {
		_, err := g.CreateIntent(context.Background(), decimal.NewFromInt(10), nil)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindExternalGateway))
		assert.Equal(t, "Your card was declined.", apperr.Message(err))
	}
	// Declines do not open the breaker.
	assert.Equal(t, int32(3), fake.calls.Load())
}

func TestBreakerOpensOnOutage(t *testing.T) {
	fake := &fakeStripe{
		status: http.StatusInternalServerError,
		body:   `{"error": {"type": "api_error", "message": "Internal error"}}`,
	}
	g := newTestGateway(t, fake)

	for range 2 {
		_, err := g.RetrieveIntent(context.Background(), "pi_123")
		require.Error(t, err)
	}

	_, err := g.RetrieveIntent(context.Background(), "pi_123")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExternalGateway))
	assert.Contains(t, apperr.Message(err), "temporarily unavailable")
	assert.Equal(t, int32(2), fake.calls.Load())
}

func signedEvent(t *testing.T, secret string, ev map[string]any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   raw,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestVerifyWebhook_Succeeded(t *testing.T) {
	g := newTestGateway(t, &fakeStripe{})
	payload, header := signedEvent(t, testWebhookSecret, map[string]any{
		"id":     "evt_1",
		"object": "event",
		"type":   "payment_intent.succeeded",
		"data": map[string]any{
			"object": map[string]any{"id": "pi_123", "object": "payment_intent"},
		},
	})

	ev, err := g.VerifyWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, payment.EventPaymentSucceeded, ev.Type)
	assert.Equal(t, "pi_123", ev.IntentID)
}

func TestVerifyWebhook_FailedCarriesReason(t *testing.T) {
	g := newTestGateway(t, &fakeStripe{})
	payload, header := signedEvent(t, testWebhookSecret, map[string]any{
		"id":     "evt_2",
		"object": "event",
		"type":   "payment_intent.payment_failed",
		"data": map[string]any{
			"object": map[string]any{
				"id":                 "pi_123",
				"object":             "payment_intent",
				"last_payment_error": map[string]any{"message": "Insufficient funds."},
			},
		},
	})

	ev, err := g.VerifyWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, payment.EventPaymentFailed, ev.Type)
	assert.Equal(t, "Insufficient funds.", ev.FailureMessage)
}

func TestVerifyWebhook_BadSignature(t *testing.T) {
	g := newTestGateway(t, &fakeStripe{})
	payload, header := signedEvent(t, "whsec_other", map[string]any{
		"id": "evt_3", "object": "event", "type": "payment_intent.succeeded",
	})

	_, err := g.VerifyWebhook(payload, header)
	assert.Error(t, err)

	_, err = g.VerifyWebhook(payload, "")
	assert.Error(t, err)
}

func TestVerifyWebhook_OtherEventType(t *testing.T) {
	g := newTestGateway(t, &fakeStripe{})
	payload, header := signedEvent(t, testWebhookSecret, map[string]any{
		"id": "evt_4", "object": "event", "type": "charge.refunded",
		"data": map[string]any{"object": map[string]any{"id": "ch_1"}},
	})

	ev, err := g.VerifyWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, payment.EventType("charge.refunded"), ev.Type)
	assert.Empty(t, ev.IntentID)
}

package payment

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
)

// --- Mock implementations ---

type mockVerifier struct {
	event *Event
	err   error
}

func (m *mockVerifier) VerifyWebhook(_ []byte, _ string) (*Event, error) {
	return m.event, m.err
}

type mockReconciler struct {
	paid   []string
	failed []string
	reason string
	err    error
}

func (m *mockReconciler) MarkPaid(_ context.Context, intentID string) error {
	if m.err != nil {
		return m.err
	}
	m.paid = append(m.paid, intentID)
	return nil
}

func (m *mockReconciler) MarkPaymentFailed(_ context.Context, intentID, reason string) error {
	if m.err != nil {
		return m.err
	}
	m.failed = append(m.failed, intentID)
	m.reason = reason
	return nil
}

// --- Tests ---

func TestHandle_InvalidSignature(t *testing.T) {
	orders := &mockReconciler{}
	r := NewWebhookReceiver(&mockVerifier{err: errors.New("bad signature")}, orders)

	_, err := r.Handle(context.Background(), []byte(`{}`), "t=1,v1=deadbeef")

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPaymentVerification))
	assert.Empty(t, orders.paid)
	assert.Empty(t, orders.failed)
}

func TestHandle_Succeeded(t *testing.T) {
	orders := &mockReconciler{}
	r := NewWebhookReceiver(&mockVerifier{event: &Event{
		ID: "evt_1", Type: EventPaymentSucceeded, IntentID: "pi_1",
	}}, orders)

	outcome, err := r.Handle(context.Background(), nil, "")

	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
	assert.Equal(t, []string{"pi_1"}, orders.paid)
}

func TestHandle_Failed(t *testing.T) {
	orders := &mockReconciler{}
	r := NewWebhookReceiver(&mockVerifier{event: &Event{
		ID: "evt_2", Type: EventPaymentFailed, IntentID: "pi_2", FailureMessage: "card declined",
	}}, orders)

	outcome, err := r.Handle(context.Background(), nil, "")

	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, outcome)
	assert.Equal(t, []string{"pi_2"}, orders.failed)
	assert.Equal(t, "card declined", orders.reason)
}

func TestHandle_UnknownIntent(t *testing.T) {
	orders := &mockReconciler{err: apperr.NotFound("order")}
	r := NewWebhookReceiver(&mockVerifier{event: &Event{
		ID: "evt_3", Type: EventPaymentSucceeded, IntentID: "pi_unknown",
	}}, orders)

	_, err := r.Handle(context.Background(), nil, "")

	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestHandle_IgnoresOtherEvents(t *testing.T) {
	orders := &mockReconciler{}
	r := NewWebhookReceiver(&mockVerifier{event: &Event{
		ID: "evt_4", Type: "charge.refunded",
	}}, orders)

	outcome, err := r.Handle(context.Background(), nil, "")

	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, orders.paid)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("stripe")
	require.NoError(t, err)
	assert.True(t, m.RequiresGateway())

	m, err = ParseMethod("default")
	require.NoError(t, err)
	assert.False(t, m.RequiresGateway())

	_, err = ParseMethod("bitcoin")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(3600), ToMinorUnits(decimal.RequireFromString("36"), "usd"))
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.99"), "USD"))
	assert.Equal(t, int64(1000), ToMinorUnits(decimal.RequireFromString("9.995"), "eur"))
}

func TestToMinorUnits_CurrencyExponent(t *testing.T) {
	for _, tt := range []struct {
		currency string
		amount   string
		want     int64
	}{
		{currency: "jpy", amount: "1200", want: 1200},
		{currency: "JPY", amount: "1199.5", want: 1200},
		{currency: "krw", amount: "15000", want: 15000},
		{currency: "kwd", amount: "1.2345", want: 1235},
		{currency: "bhd", amount: "10", want: 10000},
		{currency: "gbp", amount: "10", want: 1000},
	} {
		t.Run(tt.currency+"/"+tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMinorUnits(decimal.RequireFromString(tt.amount), tt.currency))
		})
	}
	assert.Equal(t, int32(2), CurrencyExponent("xyz"))
	assert.Equal(t, int32(0), CurrencyExponent("Jpy"))
}

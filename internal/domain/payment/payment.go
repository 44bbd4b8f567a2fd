// Package payment defines the payment gateway contract and the webhook
// receiver that reconciles orders with the provider's view of a payment.
package payment

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Method selects how an order is paid.
type Method string

const (
	// MethodDefault settles outside the gateway (cash on delivery).
	MethodDefault Method = "default"
	// MethodStripe collects payment through a Stripe payment intent.
	MethodStripe Method = "stripe"
)

// ErrUnknownMethod is returned by ParseMethod for unsupported values.
var ErrUnknownMethod = errors.New("unknown payment method")

// ParseMethod validates s as a Method.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodDefault, MethodStripe:
		return m, nil
	default:
		return "", errors.Wrapf(ErrUnknownMethod, "%q", s)
	}
}

// RequiresGateway reports whether the method collects money through the
// external provider.
func (m Method) RequiresGateway() bool {
	return m == MethodStripe
}

// Intent is the provider-side payment attempt.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	// Amount is in minor currency units.
	Amount   int64
	Currency string
}

// EventType is a provider webhook event type.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentFailed    EventType = "payment_intent.payment_failed"
)

// Event is a verified webhook event.
type Event struct {
	ID             string
	Type           EventType
	IntentID       string
	FailureMessage string
}

// Gateway creates and looks up payment intents.
type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
}

// Verifier authenticates inbound webhook payloads.
type Verifier interface {
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}

// Currencies whose minor unit is not a hundredth, per Stripe's list.
var currencyExponents = map[string]int32{
	"bif": 0, "clp": 0, "djf": 0, "gnf": 0, "jpy": 0, "kmf": 0, "krw": 0, "mga": 0,
	"pyg": 0, "rwf": 0, "ugx": 0, "vnd": 0, "vuv": 0, "xaf": 0, "xof": 0, "xpf": 0,
	"bhd": 3, "jod": 3, "kwd": 3, "omr": 3, "tnd": 3,
}

// CurrencyExponent returns the number of decimal places in currency's minor
// unit. The code is matched case-insensitively.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToLower(currency)]; ok {
		return exp
	}
	return 2
}

// ToMinorUnits converts a decimal amount to the smallest unit of currency,
// rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	exp := CurrencyExponent(currency)
	return amount.Round(exp).Shift(exp).IntPart()
}

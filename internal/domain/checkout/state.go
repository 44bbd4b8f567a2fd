// Package checkout drives the Address → Payment → Confirmation flow on top of
// the session cart.
//
// Steps are distinct types behind the sealed Step interface. Transitions are
// methods on the step they leave, so only legal edges can be written: there is
// no way to go from ConfirmationStep back to AddressStep.
package checkout

import (
	"github.com/go-faster/errors"

	"github.com/xenking/cloud-kitchen/internal/domain/address"
	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
	"github.com/xenking/cloud-kitchen/internal/domain/cart"
	"github.com/xenking/cloud-kitchen/internal/domain/payment"
)

// ErrIllegalStep is wrapped by errors for actions invoked at the wrong step.
var ErrIllegalStep = errors.New("action not allowed at current checkout step")

// StepName identifies a step in snapshots and API responses.
type StepName string

const (
	StepAddress      StepName = "address"
	StepPayment      StepName = "payment"
	StepConfirmation StepName = "confirmation"
	StepCompleted    StepName = "completed"
)

// Step is one state of the checkout flow.
type Step interface {
	Name() StepName
	sealed()
}

// AddressStep lists the user's saved addresses with the default preselected.
type AddressStep struct {
	Addresses  []address.Address
	SelectedID string
}

// PaymentStep holds the chosen address while the user picks a method.
type PaymentStep struct {
	Address address.Address
	Method  payment.Method
}

// ConfirmationStep is the review step. Once OrderID is set the order exists
// and, for gateway payments, the flow waits for the payment outcome.
type ConfirmationStep struct {
	Address      address.Address
	Method       payment.Method
	OrderID      string
	IntentID     string
	ClientSecret string
	// Ordered is the cart content the order was created from.
	Ordered []cart.LineItem
}

// CompletedStep is reached after a successful placement or payment.
type CompletedStep struct {
	OrderID string
	Method  payment.Method
}

func (AddressStep) Name() StepName      { return StepAddress }
func (PaymentStep) Name() StepName      { return StepPayment }
func (ConfirmationStep) Name() StepName { return StepConfirmation }
func (CompletedStep) Name() StepName    { return StepCompleted }

func (AddressStep) sealed()      {}
func (PaymentStep) sealed()      {}
func (ConfirmationStep) sealed() {}
func (CompletedStep) sealed()    {}

func newAddressStep(addresses []address.Address) AddressStep {
	s := AddressStep{Addresses: addresses}
	for _, a := range addresses {
		if a.IsDefault {
			s.SelectedID = a.ID
			break
		}
	}
	return s
}

func (s AddressStep) toPayment(a address.Address) PaymentStep {
	return PaymentStep{Address: a, Method: payment.MethodDefault}
}

func (s PaymentStep) toConfirmation(m payment.Method) ConfirmationStep {
	return ConfirmationStep{Address: s.Address, Method: m}
}

// placed reports whether the order already exists.
func (s ConfirmationStep) placed() bool {
	return s.OrderID != ""
}

// awaitingPayment reports whether the flow waits for the gateway outcome.
func (s ConfirmationStep) awaitingPayment() bool {
	return s.placed() && s.Method.RequiresGateway() && s.ClientSecret != ""
}

func (s ConfirmationStep) toPayment() PaymentStep {
	return PaymentStep{Address: s.Address, Method: s.Method}
}

func (s ConfirmationStep) complete() CompletedStep {
	return CompletedStep{OrderID: s.OrderID, Method: s.Method}
}

func illegal(step Step, action string) error {
	e := apperr.IllegalState("cannot %s at the %s step", action, step.Name())
	e.Err = ErrIllegalStep
	return e
}

// Flow is one user's checkout in progress.
type Flow struct {
	step      Step
	lastError string
}

// NewFlow starts a flow at the address step.
func NewFlow(addresses []address.Address) *Flow {
	return &Flow{step: newAddressStep(addresses)}
}

// Step returns the current step.
func (f *Flow) Step() Step { return f.step }

// LastError is the message of the most recent failed action, cleared by the
// next successful one.
func (f *Flow) LastError() string { return f.lastError }

// Completed reports whether the flow reached its terminal step.
func (f *Flow) Completed() bool {
	_, ok := f.step.(CompletedStep)
	return ok
}

func (f *Flow) addressStep() (AddressStep, error) {
	s, ok := f.step.(AddressStep)
	if !ok {
		return AddressStep{}, illegal(f.step, "choose an address")
	}
	return s, nil
}

func (f *Flow) submitAddress(a address.Address) error {
	s, err := f.addressStep()
	if err != nil {
		return err
	}
	f.step = s.toPayment(a)
	return nil
}

func (f *Flow) selectPaymentMethod(m payment.Method) error {
	s, ok := f.step.(PaymentStep)
	if !ok {
		return illegal(f.step, "select a payment method")
	}
	f.step = s.toConfirmation(m)
	return nil
}

func (f *Flow) backToPayment() error {
	s, ok := f.step.(ConfirmationStep)
	if !ok {
		return illegal(f.step, "go back to payment")
	}
	if s.placed() {
		return illegal(f.step, "change payment after the order was placed")
	}
	f.step = s.toPayment()
	return nil
}

func (f *Flow) confirmation() (ConfirmationStep, error) {
	s, ok := f.step.(ConfirmationStep)
	if !ok {
		return ConfirmationStep{}, illegal(f.step, "place an order")
	}
	return s, nil
}

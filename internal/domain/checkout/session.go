package checkout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/cloud-kitchen/internal/domain/address"
	"github.com/xenking/cloud-kitchen/internal/domain/cart"
	"github.com/xenking/cloud-kitchen/internal/domain/payment"
)

var (
	// ErrSessionConflict is returned by SessionStore.Save when the stored
	// version moved since Load.
	ErrSessionConflict = errors.New("session modified concurrently")
	// ErrLocked is returned by SessionStore.Lock when another request holds
	// the user's checkout lock.
	ErrLocked = errors.New("checkout is locked by another request")
)

// Session is the per-user state carried between requests: the cart and the
// checkout flow, if one is in progress.
type Session struct {
	Cart *cart.Cart
	Flow *Flow
	// Version is managed by the store.
	Version int64
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{Cart: &cart.Cart{}}
}

// SessionStore persists sessions keyed by user id.
type SessionStore interface {
	// Load returns the stored session or an empty one with Version 0.
	Load(ctx context.Context, userID string) (*Session, error)
	// Save stores s if the stored version still equals s.Version and then
	// increments s.Version. Returns ErrSessionConflict otherwise.
	Save(ctx context.Context, userID string, s *Session) error
	// Lock takes an exclusive per-user lock for ttl. The returned function
	// releases it.
	Lock(ctx context.Context, userID string, ttl time.Duration) (unlock func(), err error)
}

type addressDoc struct {
	ID        string    `json:"id"`
	Street    string    `json:"street"`
	City      string    `json:"city"`
	State     string    `json:"state,omitempty"`
	Zip       string    `json:"zip"`
	Country   string    `json:"country"`
	IsDefault bool      `json:"isDefault,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toAddressDoc(a address.Address) addressDoc {
	return addressDoc{
		ID:        a.ID,
		Street:    a.Street,
		City:      a.City,
		State:     a.State,
		Zip:       a.Zip,
		Country:   a.Country,
		IsDefault: a.IsDefault,
		CreatedAt: a.CreatedAt,
	}
}

func (d addressDoc) address(ownerID string) address.Address {
	return address.Address{
		ID:        d.ID,
		OwnerID:   ownerID,
		Street:    d.Street,
		City:      d.City,
		State:     d.State,
		Zip:       d.Zip,
		Country:   d.Country,
		IsDefault: d.IsDefault,
		CreatedAt: d.CreatedAt,
	}
}

// flowDoc is the tagged form of a Flow. Step selects which fields are set.
type flowDoc struct {
	Step         StepName        `json:"step"`
	LastError    string          `json:"lastError,omitempty"`
	Addresses    []addressDoc    `json:"addresses,omitempty"`
	SelectedID   string          `json:"selectedId,omitempty"`
	Address      *addressDoc     `json:"address,omitempty"`
	Method       payment.Method  `json:"method,omitempty"`
	OrderID      string          `json:"orderId,omitempty"`
	IntentID     string          `json:"intentId,omitempty"`
	ClientSecret string          `json:"clientSecret,omitempty"`
	Ordered      []cart.LineItem `json:"ordered,omitempty"`
}

type sessionDoc struct {
	Owner string          `json:"owner"`
	Cart  []cart.LineItem `json:"cart"`
	Flow  *flowDoc        `json:"flow,omitempty"`
}

// MarshalSession encodes s for storage.
func MarshalSession(ownerID string, s *Session) ([]byte, error) {
	doc := sessionDoc{Owner: ownerID, Cart: s.Cart.Items()}
	if s.Flow != nil {
		fd, err := encodeFlow(s.Flow)
		if err != nil {
			return nil, err
		}
		doc.Flow = fd
	}
	return json.Marshal(doc)
}

// UnmarshalSession decodes a stored session. Version is left zero.
func UnmarshalSession(data []byte) (*Session, error) {
	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	s := &Session{Cart: cart.New(doc.Cart)}
	if doc.Flow != nil {
		f, err := decodeFlow(doc.Owner, doc.Flow)
		if err != nil {
			return nil, err
		}
		s.Flow = f
	}
	return s, nil
}

func encodeFlow(f *Flow) (*flowDoc, error) {
	d := &flowDoc{Step: f.step.Name(), LastError: f.lastError}
	switch s := f.step.(type) {
	case AddressStep:
		d.Addresses = make([]addressDoc, len(s.Addresses))
		for i, a := range s.Addresses {
			d.Addresses[i] = toAddressDoc(a)
		}
		d.SelectedID = s.SelectedID
	case PaymentStep:
		a := toAddressDoc(s.Address)
		d.Address = &a
		d.Method = s.Method
	case ConfirmationStep:
		a := toAddressDoc(s.Address)
		d.Address = &a
		d.Method = s.Method
		d.OrderID = s.OrderID
		d.IntentID = s.IntentID
		d.ClientSecret = s.ClientSecret
		d.Ordered = s.Ordered
	case CompletedStep:
		d.OrderID = s.OrderID
		d.Method = s.Method
	default:
		return nil, errors.Errorf("unknown step %T", f.step)
	}
	return d, nil
}

func decodeFlow(ownerID string, d *flowDoc) (*Flow, error) {
	f := &Flow{lastError: d.LastError}
	addr := func() (address.Address, error) {
		if d.Address == nil {
			return address.Address{}, errors.Errorf("step %q without address", d.Step)
		}
		return d.Address.address(ownerID), nil
	}

	switch d.Step {
	case StepAddress:
		s := AddressStep{SelectedID: d.SelectedID}
		for _, a := range d.Addresses {
			s.Addresses = append(s.Addresses, a.address(ownerID))
		}
		f.step = s
	case StepPayment:
		a, err := addr()
		if err != nil {
			return nil, err
		}
		f.step = PaymentStep{Address: a, Method: d.Method}
	case StepConfirmation:
		a, err := addr()
		if err != nil {
			return nil, err
		}
		f.step = ConfirmationStep{
			Address:      a,
			Method:       d.Method,
			OrderID:      d.OrderID,
			IntentID:     d.IntentID,
			ClientSecret: d.ClientSecret,
			Ordered:      d.Ordered,
		}
	case StepCompleted:
		f.step = CompletedStep{OrderID: d.OrderID, Method: d.Method}
	default:
		return nil, errors.Errorf("unknown step %q", d.Step)
	}
	return f, nil
}

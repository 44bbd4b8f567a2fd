package address

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
)

// maxAttempts bounds optimistic retries of a single mutation.
const maxAttempts = 5

// Service implements the address collaborator. Every operation is scoped to
// the calling owner.
type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

// NewService creates an address Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// List returns the owner's addresses in book order.
func (s *Service) List(ctx context.Context, ownerID string) ([]Address, error) {
	book, err := s.repo.Load(ctx, ownerID)
	if err != nil {
		return nil, apperr.Persistence("load addresses", err)
	}
	return book.Addresses, nil
}

// Get returns a single address owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID, id string) (Address, error) {
	book, err := s.repo.Load(ctx, ownerID)
	if err != nil {
		return Address{}, apperr.Persistence("load addresses", err)
	}
	a, ok := book.Get(id)
	if !ok {
		return Address{}, notFound()
	}
	return a, nil
}

// Create validates f and adds a new address. The owner's first address is
// marked default.
func (s *Service) Create(ctx context.Context, ownerID string, f Fields) (Address, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return Address{}, invalid(err)
	}

	var created Address
	err := s.mutate(ctx, ownerID, "create address", func(b *Book) error {
		a := Address{ID: s.newID(), CreatedAt: s.now()}
		a.setFields(f)
		created = b.Add(a)
		return nil
	})
	return created, err
}

// Update applies a partial patch to the owner's address.
func (s *Service) Update(ctx context.Context, ownerID, id string, p Patch) (Address, error) {
	var updated Address
	err := s.mutate(ctx, ownerID, "update address", func(b *Book) (err error) {
		updated, err = b.Update(id, p)
		return err
	})
	return updated, err
}

// Delete removes the owner's address, promoting another one to default when
// the deleted address was the default.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	var promoted *Address
	err := s.mutate(ctx, ownerID, "delete address", func(b *Book) (err error) {
		promoted, err = b.Remove(id)
		return err
	})
	if err != nil {
		return err
	}
	if promoted != nil {
		zctx.From(ctx).Debug("Promoted default address",
			zap.String("owner_id", ownerID),
			zap.String("address_id", promoted.ID),
		)
	}
	return nil
}

// SetDefault marks the owner's address as the only default.
func (s *Service) SetDefault(ctx context.Context, ownerID, id string) (Address, error) {
	var a Address
	err := s.mutate(ctx, ownerID, "set default address", func(b *Book) (err error) {
		a, err = b.SetDefault(id)
		return err
	})
	return a, err
}

// mutate loads the book, applies fn and saves it, retrying on version
// conflicts. Errors returned by fn abort without a write.
func (s *Service) mutate(ctx context.Context, ownerID, op string, fn func(*Book) error) error {
	var lastErr error
	for attempt := range maxAttempts {
		book, err := s.repo.Load(ctx, ownerID)
		if err != nil {
			return apperr.Persistence(op, err)
		}
		if err := fn(book); err != nil {
			return classify(err)
		}

		err = s.repo.Save(ctx, book)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return apperr.Persistence(op, err)
		}
		lastErr = err
		zctx.From(ctx).Debug("Address book conflict, retrying",
			zap.String("owner_id", ownerID),
			zap.Int("attempt", attempt+1),
		)
	}
	return apperr.Conflict(op, lastErr)
}

func classify(err error) error {
	if errors.Is(err, ErrNotFound) {
		return notFound()
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return invalid(fe)
	}
	return err
}

func notFound() error {
	e := apperr.NotFound("address")
	e.Err = ErrNotFound
	return e
}

func invalid(err error) error {
	e := apperr.Validation("invalid address: %s", err.Error())
	e.Err = err
	return e
}

// Package address manages per-user shipping addresses.
//
// All of a user's addresses live in one Book. Every mutation is a
// read-modify-write of the whole Book guarded by its Version, which keeps the
// "at most one default" invariant intact under concurrent requests.
package address

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned for ids missing from the owner's book. Ids owned
	// by someone else are indistinguishable from missing ones.
	ErrNotFound = errors.New("address not found")
	// ErrVersionConflict is returned by Repository.Save when the stored book
	// changed since it was loaded.
	ErrVersionConflict = errors.New("address book version conflict")
)

const maxFieldLen = 200

// Address is a shipping destination owned by a single user.
type Address struct {
	ID        string
	OwnerID   string
	Street    string
	City      string
	State     string
	Zip       string
	Country   string
	IsDefault bool
	CreatedAt time.Time
}

// Fields holds the user-editable part of an address.
type Fields struct {
	Street  string
	City    string
	State   string
	Zip     string
	Country string
}

// Normalize trims surrounding whitespace from every field.
func (f Fields) Normalize() Fields {
	return Fields{
		Street:  strings.TrimSpace(f.Street),
		City:    strings.TrimSpace(f.City),
		State:   strings.TrimSpace(f.State),
		Zip:     strings.TrimSpace(f.Zip),
		Country: strings.TrimSpace(f.Country),
	}
}

// FieldError names the first invalid field of an address.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Reason
}

// Validate checks required fields and lengths. State is optional.
func (f Fields) Validate() error {
	required := []struct {
		name, value string
	}{
		{"street", f.Street},
		{"city", f.City},
		{"zip", f.Zip},
		{"country", f.Country},
	}
	for _, r := range required {
		if r.value == "" {
			return &FieldError{Field: r.name, Reason: "is required"}
		}
	}
	for _, r := range []struct {
		name, value string
	}{
		{"street", f.Street},
		{"city", f.City},
		{"state", f.State},
		{"zip", f.Zip},
		{"country", f.Country},
	} {
		if len(r.value) > maxFieldLen {
			return &FieldError{Field: r.name, Reason: "is too long"}
		}
	}
	return nil
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Street  *string
	City    *string
	State   *string
	Zip     *string
	Country *string
}

func (p Patch) apply(f Fields) Fields {
	if p.Street != nil {
		f.Street = *p.Street
	}
	if p.City != nil {
		f.City = *p.City
	}
	if p.State != nil {
		f.State = *p.State
	}
	if p.Zip != nil {
		f.Zip = *p.Zip
	}
	if p.Country != nil {
		f.Country = *p.Country
	}
	return f
}

func (a Address) fields() Fields {
	return Fields{Street: a.Street, City: a.City, State: a.State, Zip: a.Zip, Country: a.Country}
}

func (a *Address) setFields(f Fields) {
	a.Street = f.Street
	a.City = f.City
	a.State = f.State
	a.Zip = f.Zip
	a.Country = f.Country
}

// Repository persists address books.
type Repository interface {
	// Load returns the owner's book. A user without addresses gets an empty
	// book with Version 0.
	Load(ctx context.Context, ownerID string) (*Book, error)
	// Save stores book if the stored version still equals book.Version, then
	// increments book.Version. Returns ErrVersionConflict otherwise.
	Save(ctx context.Context, book *Book) error
}

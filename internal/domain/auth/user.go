package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrSessionNotFound is returned when no active session matches a token hash.
var ErrSessionNotFound = errors.New("session not found")

// User is the identity attached to an authenticated request.
type User struct {
	ID    string
	Email string
}

// Session holds the stored representation of a session token.
type Session struct {
	TokenHash string
	User      User
}

// Repository resolves sessions by the HMAC hash of their bearer token.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*Session, error)
}

type userKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	if !ok || u.ID == "" {
		return User{}, false
	}
	return u, true
}

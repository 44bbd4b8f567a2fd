package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
	"github.com/xenking/cloud-kitchen/internal/domain/auth"
)

// Authenticator resolves bearer session tokens. Tokens are never stored:
// the repository is keyed by HMAC-SHA256(pepper, token).
type Authenticator struct {
	sessions auth.Repository
	pepper   []byte
}

// NewAuthenticator creates an Authenticator with the given session
// repository and HMAC pepper.
func NewAuthenticator(sessions auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{sessions: sessions, pepper: pepper}
}

// HashToken returns the hex HMAC-SHA256 of token under pepper. Used by the
// seeding tool to provision sessions.
func HashToken(pepper []byte, token string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects requests without a valid session with 401 and stores
// the session's user in the request context otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, r, apperr.NotAuthenticated())
			return
		}

		hexHash := HashToken(a.pepper, token)
		sess, err := a.sessions.FindByHash(r.Context(), hexHash)
		if err != nil {
			if errors.Is(err, auth.ErrSessionNotFound) {
				writeError(w, r, apperr.NotAuthenticated())
				return
			}
			writeError(w, r, apperr.Persistence("authenticate", err))
			return
		}

		// The repository matched on the hash; compare again in constant time
		// against what it returned.
		if subtle.ConstantTimeCompare([]byte(hexHash), []byte(sess.TokenHash)) != 1 {
			writeError(w, r, apperr.NotAuthenticated())
			return
		}

		ctx := auth.WithUser(r.Context(), sess.User)
		ctx = zctx.With(ctx, zap.String("user_id", sess.User.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

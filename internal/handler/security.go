package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storeadmin/internal/domain/auth"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

// Security authenticates API requests via HMAC-SHA256 hashed API keys.
type Security struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurity creates a Security with the given API key repository and
// HMAC pepper.
func NewSecurity(apikeys auth.Repository, pepper []byte) *Security {
	return &Security{apikeys: apikeys, pepper: pepper}
}

// Authenticate resolves the caller identity from the api_key header or a
// bearer token.
func (s *Security) Authenticate(r *http.Request) (auth.Identity, error) {
	key := r.Header.Get("api_key")
	if key == "" {
		if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			key = strings.TrimSpace(v)
		}
	}
	if key == "" {
		return auth.Identity{}, errUnauthorized
	}

	hash := auth.HashKey(s.pepper, key)
	info, err := s.apikeys.FindByHash(r.Context(), hash)
	if err != nil {
		if !errors.Is(err, auth.ErrKeyNotFound) {
			zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
		}
		return auth.Identity{}, errUnauthorized
	}

	// The stored hash must match even though the lookup already succeeded.
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return auth.Identity{}, errUnauthorized
	}

	return auth.Identity{KeyID: info.ID, Name: info.Name, Role: info.Role()}, nil
}

// Require wraps next so that it only runs for callers holding role.
// Admins satisfy every role.
func (s *Security) Require(role auth.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.Authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if role == auth.RoleAdmin && !id.IsAdmin() {
			writeError(w, r, errForbidden)
			return
		}

		ctx := auth.WithIdentity(r.Context(), id)
		ctx = zctx.With(ctx, zap.String("api_key_id", id.KeyID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

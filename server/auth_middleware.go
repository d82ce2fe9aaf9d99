package server

import (
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/token"
)

// bearerToken extracts the token of an "Authorization: Bearer" header.
// ok is false when the header is absent.
func bearerToken(r *http.Request) (raw string, ok bool, err error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false, nil
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", true, apperrors.InvalidToken()
	}
	return strings.TrimSpace(parts[1]), true, nil
}

// RequireAuth is middleware that validates a Bearer access token through the
// ledger and stores the resulting identity in the request context.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw, ok, err := bearerToken(r)
			if err == nil && !ok {
				err = apperrors.InvalidToken()
			}
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			identity, err := s.ledger.Lookup(r.Context(), raw)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			next(w, r.WithContext(token.WithIdentity(r.Context(), identity)))
		}
	}
}

// OptionalAuth resolves a Bearer token when one is sent. A request without
// one passes through anonymously; a bad token is still rejected.
func (s *Server) OptionalAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw, ok, err := bearerToken(r)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			if !ok {
				next(w, r)
				return
			}
			identity, err := s.ledger.Lookup(r.Context(), raw)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			next(w, r.WithContext(token.WithIdentity(r.Context(), identity)))
		}
	}
}

package server

import (
	"context"
	"net/http"
	"time"

	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/users"
	"github.com/rs/zerolog/log"
)

const healthzTimeout = 2 * time.Second

type existsResponse struct {
	Exists bool `json:"exists"`
}

type passwordResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// UserExists reports whether an email is registered. It is guarded by the
// existence_check limiter keyed by the caller's IP.
func (s *Server) UserExists() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.writeError(w, r, apperrors.InvalidRequest("failed to parse form data"))
			return
		}
		email := r.PostFormValue("email")
		if email == "" {
			s.writeError(w, r, apperrors.InvalidFields(map[string]string{"email": "required"}))
			return
		}
		exists, err := s.auth.Exists(r.Context(), email, r.PostFormValue("captcha"), s.remoteIP(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, existsResponse{Exists: exists})
	}
}

// ValidatePassword checks password strength ahead of a registration submit
func (s *Server) ValidatePassword() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.writeError(w, r, apperrors.InvalidRequest("failed to parse form data"))
			return
		}
		if err := users.ValidatePasswordStrength(r.PostFormValue("password")); err != nil {
			writeJSON(w, http.StatusOK, passwordResponse{Reason: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, passwordResponse{Valid: true})
	}
}

func (s *Server) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthzTimeout)
			defer cancel()
			if err := s.store.Ping(ctx); err != nil {
				log.Err(err).Msg("[Server Healthz] store unreachable")
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

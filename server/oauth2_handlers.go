package server

import (
	"net/http"

	"github.com/jrsteele09/go-idp-server/auth"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/oauth2"
	"github.com/jrsteele09/go-idp-server/token"
)

// Token exchanges a code, credentials or a refresh token for a token pair
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.writeError(w, r, apperrors.InvalidRequest("failed to parse form data"))
			return
		}
		clientID, clientSecret, err := clientCredentials(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		tokenReq := auth.TokenRequest{
			GrantType:       oauth2.GrantType(r.PostFormValue("grant_type")),
			ClientID:        clientID,
			ClientSecret:    clientSecret,
			Code:            r.PostFormValue("code"),
			Username:        r.PostFormValue("username"),
			Password:        r.PostFormValue("password"),
			RefreshToken:    r.PostFormValue("refresh_token"),
			CaptchaResponse: r.PostFormValue("captcha"),
			RemoteIP:        s.remoteIP(r),
		}

		tokenResponse, err := s.auth.Token(r.Context(), tokenReq)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		writeJSON(w, http.StatusOK, tokenResponse)
	}
}

// Authorize describes the next step of the flow on GET and applies a form
// submission on POST. An optional first-party bearer token identifies the user.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if err := r.ParseForm(); err != nil {
				s.writeError(w, r, apperrors.InvalidRequest("failed to parse form data"))
				return
			}
		}
		req, err := parseAuthorizeRequest(r, s.remoteIP(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		identity := token.IdentityFrom(r.Context())

		var resp *auth.AuthorizeResponse
		if r.Method == http.MethodPost {
			resp, err = s.auth.Submit(r.Context(), req, identity, submissionFrom(r, identity))
		} else {
			resp, err = s.auth.Describe(r.Context(), req, identity)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		// A response can carry a freshly issued token.
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, resp)
	}
}

// UserInfo returns the caller's view of the user behind the access token
func (s *Server) UserInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userInfo, err := s.auth.UserInfo(r.Context(), token.IdentityFrom(r.Context()))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, userInfo)
	}
}

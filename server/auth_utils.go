package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-idp-server/auth"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/oauth2"
	"github.com/jrsteele09/go-idp-server/token"
	"github.com/rs/zerolog/log"
)

const contentTypeJSON = "application/json; charset=utf-8"

// remoteIP is the peer address, or the client address recorded by trusted
// reverse proxies when the server is configured to sit behind them.
func (s *Server) remoteIP(r *http.Request) string {
	return clientIP(r, s.config.Server.TrustProxy, s.config.Server.TrustedProxyCount)
}

func clientIP(r *http.Request, trustProxy bool, proxies int) string {
	if trustProxy {
		if ip := forwardedFor(r.Header.Get("X-Forwarded-For"), proxies); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedFor returns the hop appended by the outermost of the trusted
// proxies. Entries to its left are supplied by the client.
func forwardedFor(xff string, proxies int) string {
	if xff == "" {
		return ""
	}
	if proxies < 1 {
		proxies = 1
	}
	hops := strings.Split(xff, ",")
	i := len(hops) - proxies
	if i < 0 {
		i = 0
	}
	ip := strings.TrimSpace(hops[i])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Err(err).Msg("[Server writeJSON] failed to encode response")
	}
}

func oauthError(code, description string) oauth2.ErrorResponse {
	return oauth2.ErrorResponse{Error: code, ErrorDescription: description}
}

// writeError renders err as an OAuth error body. Anything outside the error
// taxonomy becomes a server_error whose detail is only exposed outside PROD.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.From(err)
	body := oauth2.ErrorResponse{
		Error:            appErr.Code,
		ErrorDescription: appErr.Message,
		Fields:           appErr.Fields,
		Captcha:          appErr.Captcha,
	}

	switch appErr.Kind {
	case apperrors.KindServerError:
		if s.config.IsProduction() {
			log.Error().Str("method", r.Method).Str("path", r.URL.Path).Int("causes", len(appErr.Causes)).Msg("server error")
		} else {
			log.Err(appErr).Str("method", r.Method).Str("path", r.URL.Path).Msg("server error")
			body.ErrorDescription = appErr.Error()
		}
	case apperrors.KindInvalidToken, apperrors.KindExpiredToken:
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error=%q`, appErr.Code))
	}
	if appErr.Code == apperrors.CodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}
	writeJSON(w, appErr.Status(), body)
}

// clientCredentials reads the caller from HTTP Basic auth, falling back to the
// client_id and client_secret body parameters. Basic credentials are form
// encoded before base64 (RFC 6749 section 2.3.1).
func clientCredentials(r *http.Request) (clientID, clientSecret string, err error) {
	if id, secret, ok := r.BasicAuth(); ok {
		if clientID, err = url.QueryUnescape(id); err != nil {
			return "", "", apperrors.InvalidClient()
		}
		if clientSecret, err = url.QueryUnescape(secret); err != nil {
			return "", "", apperrors.InvalidClient()
		}
		return clientID, clientSecret, nil
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret"), nil
}

// parseAuthorizeRequest reads the authorize parameters from the query string.
func parseAuthorizeRequest(r *http.Request, remoteIP string) (auth.AuthorizeRequest, error) {
	query := r.URL.Query()
	req := auth.AuthorizeRequest{
		ClientID:         query.Get("client"),
		RedirectURI:      query.Get("redirect_uri"),
		ResponseType:     oauth2.ResponseType(query.Get("response_type")),
		State:            query.Get("state"),
		Flow:             oauth2.Flow(query.Get("flow")),
		TestAccountToken: query.Get("test_account_token"),
		CaptchaResponse:  r.FormValue("captcha"),
		RemoteIP:         remoteIP,
	}
	if v := query.Get("use_test_account"); v != "" {
		useTestAccount, err := strconv.ParseBool(v)
		if err != nil {
			return req, apperrors.InvalidFields(map[string]string{"use_test_account": "must be a boolean"})
		}
		req.UseTestAccount = useTestAccount
	}
	return req, nil
}

// submissionFrom reads the form of a POST round. Only an anonymous caller's
// email and password are taken as credentials.
func submissionFrom(r *http.Request, identity *token.Identity) auth.Submission {
	sub := auth.Submission{Values: r.PostForm}
	if identity == nil {
		sub.Email = r.PostFormValue("email")
		sub.Password = r.PostFormValue("password")
	}
	return sub
}

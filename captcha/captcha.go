// Package captcha is the boundary to the external captcha verification service.
package captcha

//go:generate mockgen -source=captcha.go -destination=mock_captcha/mock_verifier.go -package=mock_captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/jrsteele09/go-idp-server/internal/config"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/pkg/errors"
)

// Error codes reported by the verification service that the caller can fix by solving a new challenge.
const (
	CodeMissingInputResponse = "missing-input-response"
	CodeInvalidInputResponse = "invalid-input-response"
)

type Result struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

type Verifier interface {
	Verify(ctx context.Context, response, remoteIP string) (Result, error)
}

// Check verifies response and translates the outcome into the error taxonomy.
func Check(ctx context.Context, v Verifier, response, remoteIP string) error {
	if strings.TrimSpace(response) == "" {
		return apperrors.MaxAttempts(true)
	}
	result, err := v.Verify(ctx, response, remoteIP)
	if err != nil {
		return apperrors.ServerError(err)
	}
	if result.Success {
		return nil
	}
	if slices.Contains(result.ErrorCodes, CodeMissingInputResponse) || slices.Contains(result.ErrorCodes, CodeInvalidInputResponse) {
		return apperrors.MaxAttempts(true)
	}
	return apperrors.ServerError(errors.Errorf("captcha verification failed: %s", strings.Join(result.ErrorCodes, ",")))
}

// ReCaptcha verifies responses against a siteverify endpoint.
type ReCaptcha struct {
	secret    string
	verifyURL string
	client    *http.Client
}

func NewReCaptcha(cfg config.Captcha) *ReCaptcha {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ReCaptcha{
		secret:    cfg.Secret,
		verifyURL: cfg.VerifyURL,
		client:    &http.Client{Timeout: timeout},
	}
}

func (rc *ReCaptcha) Verify(ctx context.Context, response, remoteIP string) (Result, error) {
	form := url.Values{
		"secret":   {rc.secret},
		"response": {response},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, errors.Wrap(err, "[ReCaptcha.Verify] building request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := rc.client.Do(req)
	if err != nil {
		return Result{}, errors.Wrapf(err, "[ReCaptcha.Verify] calling %s", rc.verifyURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, errors.Errorf("[ReCaptcha.Verify] unexpected status %d", resp.StatusCode)
	}
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, errors.Wrap(err, "[ReCaptcha.Verify] decoding response")
	}
	return result, nil
}

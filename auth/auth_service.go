package auth

import (
	"context"
	"time"

	"github.com/jrsteele09/go-idp-server/authorization"
	"github.com/jrsteele09/go-idp-server/clients"
	"github.com/jrsteele09/go-idp-server/consent"
	"github.com/jrsteele09/go-idp-server/entityid"
	"github.com/jrsteele09/go-idp-server/events"
	"github.com/jrsteele09/go-idp-server/internal/config"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/internal/metrics"
	"github.com/jrsteele09/go-idp-server/ratelimit"
	"github.com/jrsteele09/go-idp-server/token"
	"github.com/jrsteele09/go-idp-server/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jrsteele09/go-idp-server/auth"

// Repos holds all repository dependencies for the AuthorizationService
type Repos struct {
	Users          users.Repo         // Users and their profile sub-resources
	Clients        clients.Repo       // Registered third-party clients
	Authorizations authorization.Repo // Consent grants that codes and tokens hang off
	Consents       consent.Repo       // Durable per (user, client) consent
	Events         events.Repo        // Lifecycle events
}

// Components are the collaborators the service orchestrates.
type Components struct {
	Ledger     *token.Ledger
	Obfuscator *entityid.Obfuscator
	Reconciler *consent.Reconciler
	Limiter    *ratelimit.Limiter
}

// AuthorizationService runs the token endpoint and the authorize pipeline.
type AuthorizationService struct {
	app        config.App         // Privileged first-party credential pair
	repos      Repos              // All repository dependencies
	ledger     *token.Ledger      // Issues and looks up hashed tokens and codes
	obfuscator *entityid.Obfuscator
	reconciler *consent.Reconciler
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	nowTime    func() time.Time // nowTime function (injectable for testing)
}

// AuthorizationServiceOption defines a function type to modify the AuthorizationService instance.
type AuthorizationServiceOption func(*AuthorizationService)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) AuthorizationServiceOption {
	return func(as *AuthorizationService) {
		as.nowTime = nowFunc
	}
}

func WithMetrics(m *metrics.Metrics) AuthorizationServiceOption {
	return func(as *AuthorizationService) {
		as.metrics = m
	}
}

func WithTracer(t trace.Tracer) AuthorizationServiceOption {
	return func(as *AuthorizationService) {
		as.tracer = t
	}
}

// NewAuthorizationService initializes a new AuthorizationService with required dependencies.
// Optional configuration can be provided via options (e.g., WithNowTime for testing).
func NewAuthorizationService(app config.App, repos Repos, components Components, options ...AuthorizationServiceOption) (*AuthorizationService, error) {
	// Validate required parameters
	if repos.Users == nil {
		return nil, errors.New("[NewAuthorizationService] Users repo is required")
	}
	if repos.Clients == nil {
		return nil, errors.New("[NewAuthorizationService] Clients repo is required")
	}
	if repos.Authorizations == nil {
		return nil, errors.New("[NewAuthorizationService] Authorizations repo is required")
	}
	if repos.Consents == nil {
		return nil, errors.New("[NewAuthorizationService] Consents repo is required")
	}
	if repos.Events == nil {
		return nil, errors.New("[NewAuthorizationService] Events repo is required")
	}
	if components.Ledger == nil {
		return nil, errors.New("[NewAuthorizationService] token ledger is required")
	}
	if components.Obfuscator == nil {
		return nil, errors.New("[NewAuthorizationService] obfuscator is required")
	}
	if components.Reconciler == nil {
		return nil, errors.New("[NewAuthorizationService] reconciler is required")
	}
	if components.Limiter == nil {
		return nil, errors.New("[NewAuthorizationService] rate limiter is required")
	}

	authService := &AuthorizationService{
		app:        app,
		repos:      repos,
		ledger:     components.Ledger,
		obfuscator: components.Obfuscator,
		reconciler: components.Reconciler,
		limiter:    components.Limiter,
		tracer:     otel.Tracer(tracerName),
		nowTime:    time.Now,
	}

	// Apply optional configuration
	for _, opt := range options {
		opt(authService)
	}

	return authService, nil
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperrors.From(err).Code)
	}
	span.End()
}

// recordEvent stores a lifecycle event. Lifecycle events are informational, so a
// storage failure is logged rather than failing the request that caused it.
func (as *AuthorizationService) recordEvent(ctx context.Context, eventType events.Type, userID, clientID, remoteIP string) {
	err := as.repos.Events.Insert(ctx, &events.Event{
		Type:      eventType,
		Key:       events.IPKey(remoteIP),
		UserID:    userID,
		ClientID:  clientID,
		CreatedAt: as.nowTime(),
	})
	if err != nil {
		log.Err(err).Str("type", string(eventType)).Str("user_id", userID).Msg("failed to record lifecycle event")
		return
	}
	as.metrics.LifecycleEvent(string(eventType))
	log.Info().
		Str("type", string(eventType)).
		Str("user_id", userID).
		Str("client_id", clientID).
		Msg("lifecycle event")
}

func (as *AuthorizationService) getConsent(ctx context.Context, userID, clientID string) (*consent.UserAuthorization, error) {
	ua, err := as.repos.Consents.Get(ctx, userID, clientID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[getConsent] loading user authorization")
	}
	return ua, nil
}

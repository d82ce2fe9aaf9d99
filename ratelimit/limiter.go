// Package ratelimit counts abuse-prone actions in sliding windows over the event log.
package ratelimit

import (
	"context"
	"time"

	"github.com/jrsteele09/go-idp-server/captcha"
	"github.com/jrsteele09/go-idp-server/events"
	"github.com/jrsteele09/go-idp-server/internal/config"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/internal/metrics"
	"github.com/pkg/errors"
)

type Limiter struct {
	events   events.Repo
	verifier captcha.Verifier
	limits   config.RateLimits
	metrics  *metrics.Metrics
	nowFunc  func() time.Time
}

type Option func(*Limiter)

func WithNowFunc(now func() time.Time) Option {
	return func(l *Limiter) {
		l.nowFunc = now
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

func New(repo events.Repo, verifier captcha.Verifier, limits config.RateLimits, options ...Option) (*Limiter, error) {
	if repo == nil {
		return nil, errors.New("[ratelimit.New] events repo is required")
	}
	if verifier == nil {
		return nil, errors.New("[ratelimit.New] captcha verifier is required")
	}
	l := &Limiter{
		events:   repo,
		verifier: verifier,
		limits:   limits,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(l)
	}
	return l, nil
}

func (l *Limiter) limit(action events.Type) (config.RateLimit, error) {
	limit, ok := l.limits.For(string(action))
	if !ok {
		return config.RateLimit{}, errors.Errorf("[ratelimit] no limit configured for %q", action)
	}
	return limit, nil
}

// Count returns the number of action events for key inside the current window.
func (l *Limiter) Count(ctx context.Context, action events.Type, key events.Key) (int, error) {
	limit, err := l.limit(action)
	if err != nil {
		return 0, err
	}
	n, err := l.events.Count(ctx, events.Filter{
		Type:  action,
		Key:   key,
		Since: l.nowFunc().Add(-limit.Window),
	})
	return n, errors.Wrapf(err, "[Count] counting %s events", action)
}

// Exceeded reports whether key has used up its attempts for action.
func (l *Limiter) Exceeded(ctx context.Context, action events.Type, key events.Key) (bool, error) {
	limit, err := l.limit(action)
	if err != nil {
		return false, err
	}
	n, err := l.Count(ctx, action, key)
	if err != nil {
		return false, err
	}
	return n >= limit.MaxAttempts, nil
}

// Hit records one attempt of action against key.
func (l *Limiter) Hit(ctx context.Context, action events.Type, key events.Key) error {
	err := l.events.Insert(ctx, &events.Event{
		Type:      action,
		Key:       key,
		CreatedAt: l.nowFunc(),
	})
	return errors.Wrapf(err, "[Hit] recording %s event", action)
}

// Reset forgets every recorded attempt of action for key.
func (l *Limiter) Reset(ctx context.Context, action events.Type, key events.Key) error {
	err := l.events.Delete(ctx, events.Filter{Type: action, Key: key})
	return errors.Wrapf(err, "[Reset] deleting %s events", action)
}

// Guard admits an attempt of action for key. A captcha response, when present,
// is verified and clears the window. Otherwise the attempt is refused with
// max_attempts once the window is full.
func (l *Limiter) Guard(ctx context.Context, action events.Type, key events.Key, captchaResponse, remoteIP string) error {
	if captchaResponse != "" {
		if err := captcha.Check(ctx, l.verifier, captchaResponse, remoteIP); err != nil {
			if apperrors.KindOf(err) == apperrors.KindMaxAttempts {
				l.metrics.RateLimited(string(action))
			}
			return err
		}
		return l.Reset(ctx, action, key)
	}

	exceeded, err := l.Exceeded(ctx, action, key)
	if err != nil {
		return err
	}
	if exceeded {
		l.metrics.RateLimited(string(action))
		return apperrors.MaxAttempts(true)
	}
	return nil
}

package server

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-idp-server/internal/config"
	"golang.org/x/time/rate"
)

const (
	throttleIdleTTL       = 5 * time.Minute
	throttleSweepInterval = time.Minute
)

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a per-IP token bucket in front of every API route. It bounds the
// raw request rate and is independent of the per-action abuse limits.
type Throttle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	limit   rate.Limit
	burst   int
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewThrottle starts a throttle. A non-positive rate disables it.
func NewThrottle(cfg config.Throttle) *Throttle {
	t := &Throttle{
		entries: make(map[string]*throttleEntry),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if t.burst <= 0 {
		t.burst = 1
	}
	if t.enabled() {
		go t.sweepLoop()
	}
	return t
}

func (t *Throttle) enabled() bool {
	return t.limit > 0
}

// Allow reports whether one more request from ip fits in its bucket.
func (t *Throttle) Allow(ip string) bool {
	if !t.enabled() {
		return true
	}
	if ip == "" {
		ip = "unknown"
	}
	now := t.now()

	t.mu.Lock()
	entry, ok := t.entries[ip]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[ip] = entry
	}
	entry.lastSeen = now
	t.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

func (t *Throttle) sweepLoop() {
	ticker := time.NewTicker(throttleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.stop:
			return
		}
	}
}

// sweep drops buckets idle for longer than throttleIdleTTL.
func (t *Throttle) sweep() {
	cutoff := t.now().Add(-throttleIdleTTL)
	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, entry := range t.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(t.entries, ip)
		}
	}
}

func (t *Throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Throttle) Stop() {
	t.once.Do(func() { close(t.stop) })
}

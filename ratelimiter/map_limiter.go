// Package ratelimiter provides per-caller token bucket rate limiting.
package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Class separates callers that carry an identity from anonymous callers,
// which are only distinguishable by network address.
type Class int

const (
	ClassIdentity Class = iota
	ClassAnonymous
)

func (c Class) String() string {
	if c == ClassAnonymous {
		return "anonymous"
	}
	return "identity"
}

// Limit is a token bucket rate and burst size.
type Limit struct {
	RPS   float64
	Burst int
}

func (l Limit) enabled() bool {
	return l.RPS > 0 && l.Burst > 0
}

// Config configures a MapLimiter.
type Config struct {
	// Identity limits each signed caller.
	Identity Limit

	// Anonymous limits each remote host calling without a signature.
	// Zero fields take the Identity value.
	Anonymous Limit

	// IdleTTL is how long an unused bucket is kept. Defaults to 10 minutes.
	IdleTTL time.Duration
}

// MapLimiter applies a token bucket per (class, key) and sweeps buckets
// idle for longer than the TTL.
type MapLimiter struct {
	limits    map[Class]Limit
	idleTTL   time.Duration
	mu        sync.Mutex
	byKey     map[bucketKey]*entry
	lastSweep time.Time
}

type bucketKey struct {
	class Class
	key   string
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter. It returns nil, which allows everything, when no
// class has a positive rate and burst.
func New(cfg Config) *MapLimiter {
	if cfg.Anonymous.RPS == 0 {
		cfg.Anonymous.RPS = cfg.Identity.RPS
	}
	if cfg.Anonymous.Burst == 0 {
		cfg.Anonymous.Burst = cfg.Identity.Burst
	}
	limits := map[Class]Limit{}
	if cfg.Identity.enabled() {
		limits[ClassIdentity] = cfg.Identity
	}
	if cfg.Anonymous.enabled() {
		limits[ClassAnonymous] = cfg.Anonymous
	}
	if len(limits) == 0 {
		return nil
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &MapLimiter{
		limits:  limits,
		idleTTL: cfg.IdleTTL,
		byKey:   make(map[bucketKey]*entry),
	}
}

// Allow reports whether one token can be consumed for key at now.
// A nil limiter, a class without a limit and a blank key allow everything.
func (l *MapLimiter) Allow(class Class, key string, now time.Time) bool {
	if l == nil {
		return true
	}
	limit, ok := l.limits[class]
	if !ok {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastSweep.IsZero() {
		l.lastSweep = now
	}
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweepLocked(now)
	}

	bk := bucketKey{class: class, key: key}
	e, ok := l.byKey[bk]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(limit.RPS), limit.Burst)}
		l.byKey[bk] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (l *MapLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for k, v := range l.byKey {
		if v.lastSeen.Before(cutoff) {
			delete(l.byKey, k)
		}
	}
	l.lastSweep = now
}

// Len returns the number of tracked buckets.
func (l *MapLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

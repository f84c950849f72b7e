// Package ratelimit provides per-client request limiting on top of golang.org/x/time/rate.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Info contains information about rate limit status.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client and endpoint group.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  *Config
	now     func() time.Time
	done    chan struct{}
	stop    sync.Once
}

// NewLimiter creates a new rate limiter with the given configuration.
// A background goroutine evicts idle clients until Stop is called.
func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = &Config{
			Enabled:         true,
			DefaultLimit:    300,
			DefaultWindow:   time.Minute,
			CleanupInterval: 10 * time.Minute,
		}
	}

	l := &Limiter{
		entries: make(map[string]*entry),
		config:  config,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if config.Enabled && config.CleanupInterval > 0 {
		go l.cleanupRoutine(config.CleanupInterval)
	}
	return l
}

// Allow checks if a request from clientID to path is allowed.
func (l *Limiter) Allow(clientID, path, method string) (bool, Info) {
	if !l.config.Enabled || l.config.Whitelist[clientID] {
		return true, Info{Allowed: true}
	}
	if l.config.Blacklist[clientID] {
		return false, Info{Allowed: false}
	}

	cfg := MatchEndpoint(path, method, l.config.EndpointConfigs)
	if cfg == nil {
		cfg = &EndpointConfig{
			Path:   "default",
			Limit:  l.config.DefaultLimit,
			Window: l.config.DefaultWindow,
		}
	}
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return true, Info{Allowed: true}
	}

	// Buckets are shared by every path the config covers, so ids in the path do not
	// hand out fresh buckets
	key := clientID + "|" + cfg.Method + "|" + cfg.Path
	lim := l.get(key, cfg)

	now := l.now()
	allowed := lim.AllowN(now, 1)
	tokens := lim.TokensAt(now)
	every := float64(cfg.Window) / float64(cfg.Limit)

	info := Info{
		Allowed:   allowed,
		Limit:     cfg.Limit,
		Remaining: max(int(math.Floor(tokens)), 0),
		ResetTime: now.Add(time.Duration((float64(lim.Burst()) - tokens) * every)),
	}
	if !allowed {
		info.RetryAfter = time.Duration((1 - tokens) * every)
	}
	return allowed, info
}

func (l *Limiter) get(key string, cfg *EndpointConfig) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.Limit
		}
		e = &entry{limiter: rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.Limit)), burst)}
		l.entries[key] = e
	}
	e.lastSeen = l.now()
	return e.limiter
}

// Active returns how many client buckets are tracked
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) cleanupRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup(interval)
		case <-l.done:
			return
		}
	}
}

// cleanup drops buckets idle for longer than evictionAge
func (l *Limiter) cleanup(evictionAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-evictionAge)
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stop.Do(func() { close(l.done) })
}

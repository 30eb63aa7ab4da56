package relay

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rtslockstep/internal/config"
)

// ipLimiterEntry tracks per-IP rate limiting state, adapted from
// internal/api/ratelimit.go's IPRateLimiter.
type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter guards the /ws upgrade endpoint against connection floods
// from a single address.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiterEntry

	requestsPerSecond float64
	burst             int
	cleanupInterval   time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// defaultCleanupInterval matches the teacher's production default; it isn't
// part of config.RelayConfig since no deployment has asked to tune it.
const defaultCleanupInterval = 5 * time.Minute

// NewIPRateLimiter builds a limiter using config.DefaultRelay()'s bounds.
func NewIPRateLimiter() *IPRateLimiter {
	return NewIPRateLimiterWithConfig(config.DefaultRelay())
}

// NewIPRateLimiterWithConfig builds a limiter tuned by cfg instead of the
// default relay config.
func NewIPRateLimiterWithConfig(cfg config.RelayConfig) *IPRateLimiter {
	rl := &IPRateLimiter{
		limiters:          make(map[string]*ipLimiterEntry),
		requestsPerSecond: cfg.RequestsPerSecond,
		burst:             cfg.Burst,
		cleanupInterval:   defaultCleanupInterval,
		stopCh:            make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	rl.mu.Unlock()

	return limiter.Allow()
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.cleanupInterval * 2)
			rl.mu.Lock()
			for ip, entry := range rl.limiters {
				if entry.lastSeen.Before(cutoff) {
					delete(rl.limiters, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// clientIP extracts the caller's address the same way the teacher's
// GetClientIP does: trust X-Forwarded-For/X-Real-IP first, fall back to
// RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

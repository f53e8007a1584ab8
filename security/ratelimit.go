package security

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxLimiterEntries = 10000

// limiterEntry tracks a per-identifier limiter and its last use.
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier (typically per-IP) token bucket
// rate limiting. Idle entries are dropped during periodic cleanup so
// memory stays bounded even when identifiers churn.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry

	rate       int
	burst      int
	maxEntries int
	logger     *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond per
// identifier with the given burst. A background goroutine evicts idle
// entries every cleanupInterval until Stop is called.
func NewRateLimiter(requestsPerSecond, burst int, cleanupInterval time.Duration, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	rl := &RateLimiter{
		limiters:    make(map[string]*limiterEntry),
		rate:        requestsPerSecond,
		burst:       burst,
		maxEntries:  defaultMaxLimiterEntries,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop(cleanupInterval)
	return rl
}

// Allow reports whether the identifier may proceed. A zero configured
// rate disables limiting entirely.
func (rl *RateLimiter) Allow(identifier string) bool {
	if rl.rate <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[identifier]
	if !ok {
		if len(rl.limiters) >= rl.maxEntries {
			// Table is full. Deny new identifiers rather than allowing
			// an attacker to bypass limiting by rotating identifiers.
			rl.logger.Warn("Rate limiter table full, denying new identifier",
				"max_entries", rl.maxEntries)
			return false
		}
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		}
		rl.limiters[identifier] = entry
	}
	entry.lastAccess = time.Now()

	return entry.limiter.Allow()
}

// cleanupLoop drops entries idle for more than three cleanup intervals.
func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-3 * interval)
			rl.mu.Lock()
			removed := 0
			for id, entry := range rl.limiters {
				if entry.lastAccess.Before(cutoff) {
					delete(rl.limiters, id)
					removed++
				}
			}
			rl.mu.Unlock()
			if removed > 0 {
				rl.logger.Debug("Rate limiter cleanup", "removed", removed)
			}
		case <-rl.stopCleanup:
			return
		}
	}
}

// Stop terminates the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

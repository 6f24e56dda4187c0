package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/conneroisu/invisible-recaptcha/internal/logging"
)

const (
	defaultCleanupInterval = 5 * time.Minute
	defaultIdleTimeout     = 10 * time.Minute
)

// RateLimit represents a rate limiter configuration.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTimeout evicts clients not seen for this long. Zero means ten
	// minutes.
	IdleTimeout time.Duration
}

// KeyFunc returns the bucket key for a request, normally the client IP.
type KeyFunc func(r *http.Request) string

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	config  RateLimit
	keyFunc KeyFunc
	logger  logging.Logger
	now     func() time.Time

	mutex         sync.Mutex
	buckets       map[string]*bucket
	cleanupTicker *time.Ticker
	done          chan struct{}
	stopOnce      sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter and starts its eviction goroutine; call
// Stop to end it.
func NewRateLimiter(config RateLimit, keyFunc KeyFunc, logger logging.Logger) *RateLimiter {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaultIdleTimeout
	}

	rl := &RateLimiter{
		config:        config,
		keyFunc:       keyFunc,
		logger:        logger.WithComponent("ratelimit"),
		now:           time.Now,
		buckets:       make(map[string]*bucket),
		cleanupTicker: time.NewTicker(defaultCleanupInterval),
		done:          make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// hint.
func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)

			if ok, retryAfter := rl.allow(key); !ok {
				rl.logger.Warn(r.Context(), nil, "rate limit exceeded",
					"client", key, "path", logging.Truncate(r.URL.Path, maxLoggedPath))
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allow consumes one token for key. When it fails it also reports how long
// until a token is available.
func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	now := rl.now()

	rl.mutex.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mutex.Unlock()

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.evictIdle()
		case <-rl.done:
			return
		}
	}
}

// evictIdle removes clients idle for longer than the idle timeout.
func (rl *RateLimiter) evictIdle() {
	cutoff := rl.now().Add(-rl.config.IdleTimeout)

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// Stop stops the rate limiter and cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.done)
	})
}

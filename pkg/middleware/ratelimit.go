package middleware

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fanzplatform/go-mfa-service/pkg/config"
)

// VerifyRateLimiter rate limits verification endpoints per identifier,
// with a lockout after the limit is exceeded. Code submission endpoints
// already burn challenge attempts, but that budget is per challenge; the
// limiter bounds how fast a caller can open fresh ones.
type VerifyRateLimiter struct {
	config config.RateLimitConfig
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*verifyLimiter

	cleanupInterval time.Duration
	lastCleanup     time.Time
}

// verifyLimiter tracks rate limiting state for a single identifier
type verifyLimiter struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	lockedOut  bool
	lockoutEnd time.Time
}

// NewVerifyRateLimiter creates a new rate limiter for verification endpoints
func NewVerifyRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *VerifyRateLimiter {
	cfg.SetDefaults()
	return &VerifyRateLimiter{
		config:          cfg,
		logger:          logger.Named("verify-ratelimit"),
		limiters:        make(map[string]*verifyLimiter),
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// Allow checks if a request is allowed for the given identifier
func (r *VerifyRateLimiter) Allow(identifier string) bool {
	if !r.config.Enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.lastCleanup) > r.cleanupInterval {
		r.cleanup()
	}

	limiter, exists := r.limiters[identifier]
	if !exists {
		// Rate: MaxAttempts per WindowSeconds
		rateLimit := rate.Limit(float64(r.config.MaxAttempts) / float64(r.config.WindowSeconds))
		burst := int(math.Ceil(float64(r.config.MaxAttempts) / 2.0))
		if burst < 1 {
			burst = 1
		}
		limiter = &verifyLimiter{
			limiter: rate.NewLimiter(rateLimit, burst),
		}
		r.limiters[identifier] = limiter
	}
	limiter.lastSeen = time.Now()

	if limiter.lockedOut {
		if time.Now().Before(limiter.lockoutEnd) {
			return false
		}
		limiter.lockedOut = false
	}

	if !limiter.limiter.Allow() {
		limiter.lockedOut = true
		limiter.lockoutEnd = time.Now().Add(time.Duration(r.config.LockoutSeconds) * time.Second)

		r.logger.Warn("Verification rate limit exceeded, applying lockout",
			zap.String("identifier", identifier),
			zap.Int("lockout_seconds", r.config.LockoutSeconds),
		)
		return false
	}
	return true
}

// cleanup removes limiters that haven't been used. Caller holds r.mu.
func (r *VerifyRateLimiter) cleanup() {
	cutoff := time.Now().Add(-30 * time.Minute)
	for key, limiter := range r.limiters {
		if limiter.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
		}
	}
	r.lastCleanup = time.Now()
}

// VerifyRateLimitMiddleware returns a Gin middleware that rate limits by
// the authenticated user ID, falling back to the client IP before auth.
func VerifyRateLimitMiddleware(rl *VerifyRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled {
			c.Next()
			return
		}

		identifier := UserID(c)
		if identifier == "" {
			identifier = c.ClientIP()
		}

		if !rl.Allow(identifier) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many verification attempts. Please try again later.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

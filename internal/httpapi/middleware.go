package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

// RequestID tags each request with an ID, reusing the caller's if given.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Logger writes one structured line per request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int64("user_id", c.GetInt64(ctxUserIDKey)).
			Msg("HTTP request")
	}
}

// Recovery turns a panic into a 500 and logs it.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error().
			Interface("panic", recovered).
			Str("request_id", c.GetString("request_id")).
			Str("path", c.Request.URL.Path).
			Msg("Panic recovered")
		abortWithCode(c, http.StatusInternalServerError, CodeInternal)
	})
}

type limiterEntry struct {
	limiter *rate.Limiter
	expires time.Time
}

// UserRateLimiter is a token bucket per user. Idle buckets are dropped.
type UserRateLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*limiterEntry
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

// NewUserRateLimiter allows perMinute requests per user, with bursts of
// up to half that.
func NewUserRateLimiter(perMinute int) *UserRateLimiter {
	perMinute = max(perMinute, 1)
	return &UserRateLimiter{
		limiters: make(map[int64]*limiterEntry),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    max(perMinute/2, 1),
		idle:     5 * time.Minute,
	}
}

// Allow reports whether userID may make another request now.
func (l *UserRateLimiter) Allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for id, e := range l.limiters {
		if now.After(e.expires) {
			delete(l.limiters, id)
		}
	}

	e, ok := l.limiters[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = e
	}
	e.expires = now.Add(l.idle)
	return e.limiter.AllowN(now, 1)
}

// Middleware rejects requests over the limit with 429. Auth must have run.
func (l *UserRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(userID(c)) {
			abortWithCode(c, http.StatusTooManyRequests, CodeRateLimited)
			return
		}
		c.Next()
	}
}

package handler

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/toolvet/toolvet/internal/identity"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware that enforces per-client
// token-bucket rate limiting. Authenticated requests are keyed by the
// token subject so CI pipelines behind a shared egress IP don't starve
// each other; anonymous requests fall back to the client IP. rps is the
// steady-state requests per second; burst is the maximum burst size.
// Stale entries are cleaned every 5 minutes.
func RateLimiter(tokens *identity.TokenIssuer, rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*clientLimiter)

	// Background cleanup goroutine.
	go func() {
		for {
			time.Sleep(5 * time.Minute)
			mu.Lock()
			for key, l := range limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(limiters, key)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if tokens != nil {
			if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				if claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer ")); err == nil {
					key = "op:" + claims.Subject
				}
			}
		}

		mu.Lock()
		l, ok := limiters[key]
		if !ok {
			l = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[key] = l
		}
		l.lastSeen = time.Now()
		mu.Unlock()

		if !l.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

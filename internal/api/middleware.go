package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const signatureHeader = "X-Signature"

// SignatureMiddleware verifies the HMAC-SHA256 signature of the request
// body against the shared webhook secret. An empty secret disables the
// check. The body is restored for downstream handlers.
func SignatureMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		provided := c.GetHeader(signatureHeader)
		if !validSignature(secret, body, provided) {
			log.Warn().
				Str("client_ip", c.ClientIP()).
				Str("path", c.Request.URL.Path).
				Msg("Webhook signature rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "AUTHENTICATION_FAILED",
			})
			return
		}
		c.Next()
	}
}

// validSignature checks a "sha256=<hex>" header value in constant time.
func validSignature(secret string, body []byte, header string) bool {
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok || provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}

// BearerMiddleware guards an endpoint with a static bearer token. An
// empty token disables the check.
func BearerMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !hmac.Equal([]byte(provided), []byte(token)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "AUTHENTICATION_FAILED",
			})
			return
		}
		c.Next()
	}
}

// ipLimiter hands out one token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPLimiter(requestsPerMin int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(requestsPerMin) / 60.0),
		burst:    requestsPerMin,
	}
}

func (l *ipLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

// RateLimitMiddleware rejects clients above the per-IP request budget.
// A non-positive budget disables the check.
func RateLimitMiddleware(requestsPerMin int) gin.HandlerFunc {
	if requestsPerMin <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := newIPLimiter(requestsPerMin)
	return func(c *gin.Context) {
		if !limiter.limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

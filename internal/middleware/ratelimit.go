package middleware

import (
	"net/http"
	"strings"
	"sync"

	"supportdesk/internal/config"
	appmetrics "supportdesk/internal/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyedLimiter holds one token bucket per client key.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	prefix   string
	limit    rate.Limit
	burst    int
}

func newKeyedLimiter(prefix string, rpm, burst int) *keyedLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = rpm // 默认允许一分钟的突发量
	}
	return &keyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		prefix:   prefix,
		limit:    rate.Limit(float64(rpm) / 60.0),
		burst:    burst,
	}
}

func (l *keyedLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// RateLimitMiddlewareFromConfig applies per-path limits when a prefix matches,
// otherwise the global limit. Disabled configs no-op.
func RateLimitMiddlewareFromConfig(cfg *config.Config) gin.HandlerFunc {
	rl := cfg.Security.RateLimiting
	if !rl.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	extractKey := func(c *gin.Context) string {
		if rl.KeyHeader != "" {
			if hVal := c.GetHeader(rl.KeyHeader); hVal != "" {
				// X-Forwarded-For 取第一个 IP
				if strings.EqualFold(rl.KeyHeader, "X-Forwarded-For") {
					return strings.TrimSpace(strings.Split(hVal, ",")[0])
				}
				return hVal
			}
		}
		if ip := c.ClientIP(); ip != "" {
			return ip
		}
		return "unknown"
	}
	inStrings := func(needle string, hay []string) bool {
		for _, s := range hay {
			if needle == s {
				return true
			}
		}
		return false
	}

	var pathLimiters []*keyedLimiter
	for _, p := range rl.Paths {
		if !p.Enabled || p.RequestsPerMinute <= 0 || p.Prefix == "" {
			continue
		}
		pathLimiters = append(pathLimiters, newKeyedLimiter(p.Prefix, p.RequestsPerMinute, p.Burst))
	}
	var global *keyedLimiter
	if rl.RequestsPerMinute > 0 {
		global = newKeyedLimiter("global", rl.RequestsPerMinute, rl.Burst)
	}

	reject := func(c *gin.Context, label, msg string) {
		appmetrics.IncRateLimitDrop(label)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "Too Many Requests",
			"message": msg,
		})
	}

	return func(c *gin.Context) {
		key := extractKey(c)
		if rl.KeyHeader != "" && inStrings(key, rl.WhitelistKeys) {
			c.Next()
			return
		}
		if inStrings(c.ClientIP(), rl.WhitelistIPs) {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		for _, pl := range pathLimiters {
			if strings.HasPrefix(path, pl.prefix) {
				if !pl.allow(key) {
					reject(c, pl.prefix, "rate limit exceeded (path)")
					return
				}
				c.Next()
				return
			}
		}
		if global != nil && !global.allow(key) {
			reject(c, "global", "rate limit exceeded")
			return
		}
		c.Next()
	}
}

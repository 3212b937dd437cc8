package httpserver

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/vidforge/vidforge/internal/domain"
	"github.com/vidforge/vidforge/internal/service/ratelimiter"
)

// Rate limit classes. Buckets for these are configured at wiring time from
// the RATE_LIMIT_* settings.
const (
	LimitClassGeneration = "generation"
	LimitClassStorage    = "storage"
	LimitClassWorkers    = "workers"
)

// UserRateLimit enforces the per-user bucket of the given class. It must run
// after APIKeyAuth. The limiter fails open, so Redis trouble never blocks
// traffic.
func (s *Server) UserRateLimit(class string) func(http.Handler) http.Handler {
	return s.rateLimit(class, func(r *http.Request) string {
		return UserIDFrom(r.Context())
	})
}

// IPRateLimit enforces a per-IP bucket, used for unauthenticated worker
// registration traffic.
func (s *Server) IPRateLimit(class string) func(http.Handler) http.Handler {
	return s.rateLimit(class, clientIP)
}

func (s *Server) rateLimit(class string, principal func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			p := principal(r)
			if p == "" {
				p = clientIP(r)
			}
			d, err := s.limiter.Allow(r.Context(), class, p, 1)
			if err != nil {
				// Fail open; the limiter already logged the cause.
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			if !d.Allowed {
				retryAfter := int64(math.Ceil(d.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.RetryAfter).Unix(), 10))
				s.writeError(w, r, domain.ErrRateLimited, map[string]any{"class": class})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}

// LimiterBuckets translates the configured per-window limits into token
// bucket configurations keyed by class.
func LimiterBuckets(genPerHour, storagePerHour, workersPerMin int) map[string]ratelimiter.BucketConfig {
	return map[string]ratelimiter.BucketConfig{
		LimitClassGeneration: ratelimiter.PerWindow(genPerHour, time.Hour),
		LimitClassStorage:    ratelimiter.PerWindow(storagePerHour, time.Hour),
		LimitClassWorkers:    ratelimiter.PerWindow(workersPerMin, time.Minute),
	}
}

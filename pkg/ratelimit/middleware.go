package ratelimit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/coursetrail/pkg/httputil"
	"github.com/platinummonkey/coursetrail/pkg/identity"
	"github.com/platinummonkey/coursetrail/pkg/observability"
)

// Middleware rejects callers over their limit with 429. Limiter errors fail
// open: the request is served and the error logged.
func Middleware(limiter Limiter, metrics *observability.Metrics, logger *observability.Logger) mux.MiddlewareFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestKey(r)

			d, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).WithField("key", key).Warn("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				retryAfter := int(math.Ceil(time.Until(d.Reset).Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				if metrics != nil {
					metrics.RateLimitedTotal.WithLabelValues(observability.RouteLabel(r)).Inc()
				}
				httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestKey(r *http.Request) string {
	if id, err := identity.FromContext(r.Context()); err == nil {
		return fmt.Sprintf("user:%d", id.UserID)
	}
	return "ip:" + identity.ClientIP(r)
}

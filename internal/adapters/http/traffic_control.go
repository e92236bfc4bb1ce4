package httpadapter

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kirillkom/essay-grading-pipeline/internal/core/domain"
	"github.com/kirillkom/essay-grading-pipeline/internal/observability/logging"
)

// rateLimited applies the status polling limiter, keyed by remote address
// unless the router trusts the X-User-Id header.
func (rt *Router) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	if rt.opts.Limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		decision, err := rt.opts.Limiter.Allow(r.Context(), rateLimitKey(r, rt.opts.TrustUserHeader))
		if err != nil {
			// Store outages fail open.
			logging.FromContext(r.Context()).Warn("rate_limit_unavailable", "error", err)
			next(w, r)
			return
		}
		if !decision.Allowed {
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if rt.opts.Metrics != nil {
				rt.opts.Metrics.RecordRateLimited(r)
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "too many status requests",
				"retry_after": seconds,
			})
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rt.opts.Limiter.Limit()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		next(w, r)
	}
}

func rateLimitKey(r *http.Request, trustUserHeader bool) string {
	if trustUserHeader {
		if id, err := domain.ParseID(r.Header.Get(userIDHeader)); err == nil {
			return "user:" + strconv.FormatInt(id, 10)
		}
	}
	return "ip:" + remoteHost(r)
}

// backpressureMiddleware admits at most limit concurrent requests. A request
// that cannot get a slot within wait gets 503.
func backpressureMiddleware(next http.Handler, limit int, wait time.Duration) http.Handler {
	if limit <= 0 {
		return next
	}
	slots := make(chan struct{}, limit)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case slots <- struct{}{}:
		case <-timer.C:
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server is busy, retry later"})
			return
		case <-r.Context().Done():
			return
		}
		defer func() { <-slots }()

		next.ServeHTTP(w, r)
	})
}

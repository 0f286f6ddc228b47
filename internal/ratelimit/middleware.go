package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/plutu-gateway/internal/common"
)

// Handler applies the limiter in front of the payment-initiation
// endpoint. Clients are keyed by their resolved IP unless KeyFn
// overrides that.
type Handler struct {
	Limiter Limiter
	KeyFn   func(*http.Request) string
	OnError func(error)
}

// Middleware enforces the limit. A limiter-store failure fails open so
// redis trouble never blocks payments.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var client string
		if h.KeyFn != nil {
			client = h.KeyFn(r)
		} else {
			client = common.ClientIP(r)
		}

		decision, err := h.Limiter.Allow(r.Context(), client)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		limit := h.Limiter.Max
		if limit < 0 {
			limit = 0
		}
		header := w.Header()
		header.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		header.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		header.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			header.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many payment attempts", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

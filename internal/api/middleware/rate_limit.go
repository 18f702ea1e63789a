package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/referral-commerce/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits login and signup per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(rps, "this IP", httprate.KeyByIP)
}

// AuthRateLimiter limits authenticated traffic per member, falling back to the IP.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(rps, "this member", func(r *http.Request) (string, error) {
		if userID := UserIDFromContext(r.Context()); userID != "" {
			return "member:" + userID, nil
		}
		return httprate.KeyByIP(r)
	})
}

// WebhookRateLimiter gives the bank notifier its own budget, keyed by source IP, so a burst of
// transfer notifications never competes with member signups.
func WebhookRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(rps, "this notifier", func(r *http.Request) (string, error) {
		ip, err := httprate.KeyByIP(r)
		return "webhook:" + ip, err
	})
}

func limiter(rps int, subject string, key httprate.KeyFunc) func(http.Handler) http.Handler {
	detail := fmt.Sprintf("Rate limit of %d req/s exceeded for %s", rps, subject)
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(w, r, http.StatusTooManyRequests, problem.Type("request/rate-limited"), "", detail)
		}),
	)
}

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareLimitsByClientIP(t *testing.T) {
	limiter, _ := testLimiter(t, time.Second, 1)
	wrapped := Handler{Limiter: limiter}.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
	req.RemoteAddr = "203.0.113.9:4711"

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Contains(t, rr.Body.String(), "RATE_LIMITED")
	require.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, rr.Header().Get("Retry-After"))

	// another client is unaffected
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
	req2.RemoteAddr = "198.51.100.4:4711"
	rr = httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req2)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestMiddlewareFailsOpenOnStoreError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer func() { _ = client.Close() }()

	var reported error
	wrapped := Handler{
		Limiter: Limiter{Client: client, Window: time.Second, Max: 1},
		OnError: func(err error) { reported = err },
	}.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Error(t, reported)
}

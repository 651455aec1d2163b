package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestRedisClient(t *testing.T) *redis.Client {
	opts, err := redis.ParseURL("redis://localhost:6379/15")
	require.NoError(t, err)

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestRedisRateLimiter(t *testing.T) {
	t.Run("blocks after limit", func(t *testing.T) {
		client := getTestRedisClient(t)
		limiter := NewRedisRateLimiter(client)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			allowed, remaining, _ := limiter.Check(ctx, "session:10.0.0.1", 3)
			assert.True(t, allowed)
			assert.Equal(t, 3-i-1, remaining)
		}

		allowed, remaining, resetAt := limiter.Check(ctx, "session:10.0.0.1", 3)
		assert.False(t, allowed)
		assert.Equal(t, 0, remaining)
		assert.Greater(t, resetAt, time.Now().Unix()-1)
	})

	t.Run("fails open when redis is unreachable", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 50 * time.Millisecond,
			MaxRetries:  -1,
		})
		defer client.Close()

		limiter := NewRedisRateLimiter(client)
		allowed, remaining, _ := limiter.Check(context.Background(), "session:10.0.0.2", 5)
		assert.True(t, allowed)
		assert.Equal(t, 4, remaining)
	})
}

func TestRedisRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	t.Run("limits per client ip", func(t *testing.T) {
		client := getTestRedisClient(t)
		handler := NewRedisRateLimitMiddleware(client, 1, "session").Handler(ok)

		first := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/pairing/session", nil)
		req.Header.Set("X-Real-IP", "192.0.2.10")
		handler.ServeHTTP(first, req)
		assert.Equal(t, http.StatusCreated, first.Code)

		second := httptest.NewRecorder()
		handler.ServeHTTP(second, req)
		assert.Equal(t, http.StatusTooManyRequests, second.Code)

		other := httptest.NewRecorder()
		req2 := httptest.NewRequest(http.MethodPost, "/pairing/session", nil)
		req2.Header.Set("X-Real-IP", "192.0.2.11")
		handler.ServeHTTP(other, req2)
		assert.Equal(t, http.StatusCreated, other.Code)
	})

	t.Run("zero limit disables limiting", func(t *testing.T) {
		handler := NewRedisRateLimitMiddleware(nil, 0, "session").Handler(ok)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pairing/session", nil))
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	})
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/blackwell-systems/chatlens/internal/config"
)

func noBackoff(int) time.Duration { return 0 }

func testClient(url string, retries int) *Client {
	return New(config.LLM{
		BaseURL:    url,
		APIKey:     "sk-test",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
	}, nil, WithLimiter(rate.NewLimiter(rate.Inf, 0)), WithBackoff(noBackoff))
}

const okBody = `{"model":"gpt-5-nano","choices":[{"message":{"role":"assistant","content":"looks fine"}}],"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`

func TestComplete_Success(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := testClient(srv.URL+"/", 0)
	resp, err := c.Complete(context.Background(), Request{Model: "gpt-5-nano", System: "sys", User: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "looks fine", resp.Content)
	assert.Equal(t, "gpt-5-nano", resp.Model)
	assert.Equal(t, "gpt-5-nano", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "sys"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "hello"}, got.Messages[1])

	calls, usage := c.UsageStats()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 13, usage.TotalTokens)
}

func TestComplete_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			http.Error(w, "slow down", http.StatusTooManyRequests)
		case 2:
			http.Error(w, "oops", http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(okBody))
		}
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL, 3).Complete(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "looks fine", resp.Content)
	assert.Equal(t, int32(3), hits.Load())
}

func TestComplete_PermanentStatusNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 3).Complete(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelCall)

	var mce *ModelCallError
	require.True(t, errors.As(err, &mce))
	assert.Equal(t, http.StatusUnauthorized, mce.StatusCode)
	assert.False(t, mce.Transient)
	assert.Equal(t, int32(1), hits.Load())
}

func TestComplete_RetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 2).Complete(context.Background(), Request{Model: "m"})
	var mce *ModelCallError
	require.True(t, errors.As(err, &mce))
	assert.True(t, mce.Transient)
	assert.Equal(t, http.StatusServiceUnavailable, mce.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 0).Complete(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, ErrModelCall)
}

func TestComplete_MissingKey(t *testing.T) {
	c := New(config.LLM{BaseURL: "http://unused"}, nil)
	_, err := c.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrModelCall)
}

func TestComplete_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testClient(srv.URL, 5).Complete(ctx, Request{Model: "m"})
	assert.ErrorIs(t, err, ErrModelCall)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoff(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := calculateBackoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, maxBackoff+maxBackoff/4)
	}
	assert.InDelta(t, float64(initialBackoff), float64(calculateBackoff(1)), float64(initialBackoff)/4)
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, isRetryableStatus(429))
	assert.True(t, isRetryableStatus(500))
	assert.True(t, isRetryableStatus(503))
	assert.False(t, isRetryableStatus(400))
	assert.False(t, isRetryableStatus(401))
	assert.False(t, isRetryableStatus(404))
}

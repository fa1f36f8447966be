// Package llm calls an OpenAI-compatible chat completions endpoint with
// retries, per-call timeouts and a shared rate limit.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/blackwell-systems/chatlens/internal/config"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// ErrModelCall is matched by every error returned from Complete.
var ErrModelCall = errors.New("model call failed")

// ModelCallError describes a failed completion. Transient failures were
// retried before being returned.
type ModelCallError struct {
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ModelCallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model call failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model call failed: %v", e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrModelCall) match any ModelCallError.
func (e *ModelCallError) Is(target error) bool { return target == ErrModelCall }

// Request is one completion: a system instruction and a user message.
type Request struct {
	Model  string
	System string
	User   string
}

// Usage is the token accounting reported by the service.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the assistant text of the first choice.
type Response struct {
	Model   string
	Content string
	Usage   Usage
}

// Completer produces completions. The judge pipeline depends on this
// interface so tests can substitute a fake.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Client is an OpenAI-compatible chat completions client.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger

	// backoff returns the delay before retry attempt n (n >= 1).
	backoff func(attempt int) time.Duration

	usageMu sync.Mutex
	usage   Usage
	calls   int
}

// Option adjusts a Client.
type Option func(*Client)

// WithLimiter replaces the rate limiter. Tests pass rate.NewLimiter(rate.Inf, 0).
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithBackoff replaces the retry delay schedule.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(c *Client) { c.backoff = fn }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a Client from cfg. The limiter admits cfg.RequestsPerMinute
// calls per minute with a burst of one; zero disables limiting.
func New(cfg config.LLM, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		log:        log,
		backoff:    calculateBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends req and returns the first choice. Network errors,
// timeouts, 429 and 5xx responses are retried with exponential backoff;
// other failures return immediately.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, &ModelCallError{Err: errors.New("API key is required (set OPENAI_KEY or llm.api_key)")}
	}

	body, err := json.Marshal(chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	})
	if err != nil {
		return Response{}, &ModelCallError{Err: fmt.Errorf("marshaling request: %w", err)}
	}

	var lastErr *ModelCallError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.log.Warn("retrying model call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, delay); err != nil {
				return Response{}, &ModelCallError{Err: err}
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, &ModelCallError{Err: err}
		}

		resp, callErr := c.do(ctx, body)
		if callErr == nil {
			c.recordUsage(resp.Usage)
			return resp, nil
		}
		if !callErr.Transient || ctx.Err() != nil {
			return Response{}, callErr
		}
		lastErr = callErr
	}

	return Response{}, &ModelCallError{
		StatusCode: lastErr.StatusCode,
		Transient:  true,
		Err:        fmt.Errorf("max retries exceeded: %w", lastErr.Err),
	}
}

func (c *Client) do(ctx context.Context, body []byte) (Response, *ModelCallError) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, &ModelCallError{Err: fmt.Errorf("creating request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, &ModelCallError{Transient: true, Err: fmt.Errorf("sending request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &ModelCallError{Transient: true, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, &ModelCallError{
			StatusCode: resp.StatusCode,
			Transient:  isRetryableStatus(resp.StatusCode),
			Err:        fmt.Errorf("API returned status %d: %.300s", resp.StatusCode, respBytes),
		}
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBytes, &apiResp); err != nil {
		return Response{}, &ModelCallError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshaling response: %w", err)}
	}
	if apiResp.Error != nil {
		return Response{}, &ModelCallError{StatusCode: resp.StatusCode, Err: fmt.Errorf("API error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)}
	}
	if len(apiResp.Choices) == 0 {
		return Response{}, &ModelCallError{StatusCode: resp.StatusCode, Err: errors.New("no choices in API response")}
	}

	return Response{
		Model:   apiResp.Model,
		Content: apiResp.Choices[0].Message.Content,
		Usage:   apiResp.Usage,
	}, nil
}

func (c *Client) recordUsage(u Usage) {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	c.calls++
	c.usage.PromptTokens += u.PromptTokens
	c.usage.CompletionTokens += u.CompletionTokens
	c.usage.TotalTokens += u.TotalTokens
}

// UsageStats returns the number of successful calls and the tokens they
// consumed.
func (c *Client) UsageStats() (calls int, usage Usage) {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	return c.calls, c.usage
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func calculateBackoff(attempt int) time.Duration {
	backoff := float64(initialBackoff) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(backoff + jitter)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

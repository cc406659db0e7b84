// Package oracle is the HTTP transport to an OpenAI-compatible
// chat-completions endpoint (OpenRouter by default). It implements
// classify.Oracle: it returns the raw completion text and leaves parsing and
// validation to the classify gateway.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/feedveil/classify"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "google/gemini-flash-1.5"

	singleMaxTokens = 20
	batchMaxTokens  = 500
	maxErrorBody    = 512
	maxResponseBody = 1 << 20
)

// ErrCircuitOpen is returned without a network call while the breaker is open.
var ErrCircuitOpen = errors.New("oracle: circuit open")

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("oracle: HTTP %d: %s", e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"-"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`

	// RatePerSecond and Burst bound outgoing requests. Zero disables the limit.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`

	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`

	// Referer and Title are sent as OpenRouter attribution headers when set.
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`

	HTTPClient *http.Client `yaml:"-"`
	Logger     *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client talks to the completions endpoint. Safe for concurrent use.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	breaker *Breaker
}

// New returns a Client. An empty API key is an error.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("oracle: API key required")
	}
	cfg.defaults()
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerReset, 0),
	}, nil
}

// Breaker exposes the circuit breaker for status reporting.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Model returns the configured model id.
func (c *Client) Model() string { return c.cfg.Model }

// AnalyzeOne asks for {"probability": n} about one record.
func (c *Client) AnalyzeOne(ctx context.Context, goals string, s classify.Subject, r classify.Record) (string, error) {
	return c.complete(ctx, SinglePrompt(goals, s, r), singleMaxTokens)
}

// AnalyzeBatch asks for a JSON array of {"id", "probability"} about recs.
func (c *Client) AnalyzeBatch(ctx context.Context, goals string, s classify.Subject, recs []classify.Record) (string, error) {
	return c.complete(ctx, BatchPrompt(goals, s, recs), batchMaxTokens)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if !c.breaker.Allow() {
		return "", ErrCircuitOpen
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("oracle: rate limit: %w", err)
	}

	start := time.Now()
	text, err := c.post(ctx, chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   maxTokens,
	})
	switch {
	case err == nil:
		c.breaker.Success()
	case errors.Is(err, context.Canceled):
		// The caller gave up; says nothing about the endpoint.
	default:
		c.breaker.Failure()
	}
	c.cfg.Logger.Debug("oracle: completion",
		"model", c.cfg.Model, "max_tokens", maxTokens,
		"duration", time.Since(start), "error", err)
	return text, err
}

func (c *Client) post(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("oracle: marshal request: %w", err)
	}
	url := c.cfg.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("oracle: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle: POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&out); err != nil {
		return "", fmt.Errorf("oracle: decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("oracle: provider error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("oracle: no choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

// Package provider talks to the image synthesis service over HTTP.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	refinererrors "github.com/dotcommander/refiner/pkg/refiner/errors"
)

// Job states reported by the status endpoint
const (
	StatusPending    = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "ERROR"
	StatusUnknownJob = "UNKNOWN"
)

// BackgroundMode selects the background edit endpoint
type BackgroundMode string

const (
	BackgroundRemove  BackgroundMode = "remove"
	BackgroundReplace BackgroundMode = "replace"
)

// Job is an accepted asynchronous request
type Job struct {
	RequestID string `json:"request_id"`
	StatusURL string `json:"status_url,omitempty"`
}

// Status is the state of a job
type Status struct {
	RequestID        string          `json:"request_id"`
	Status           string          `json:"status"`
	ImageURL         string          `json:"image_url,omitempty"`
	StructuredPrompt json.RawMessage `json:"structured_prompt,omitempty"`
	Seed             int64           `json:"seed,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// Terminal reports whether polling can stop
func (s *Status) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// GenerateRequest regenerates an image from a structured or plain prompt
type GenerateRequest struct {
	Prompt           string          `json:"prompt,omitempty"`
	StructuredPrompt json.RawMessage `json:"structured_prompt,omitempty"`
	ImageURL         string          `json:"image_url,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
}

// BackgroundEdit removes or replaces the background of an image
type BackgroundEdit struct {
	Mode     BackgroundMode `json:"-"`
	ImageURL string         `json:"image"`
	Prompt   string         `json:"prompt,omitempty"`
}

// Mask is a generated object mask
type Mask struct {
	ID    string `json:"mask_id"`
	URL   string `json:"mask_url"`
	Label string `json:"label,omitempty"`
}

// MaskFillRequest repaints the masked region of an image
type MaskFillRequest struct {
	ImageURL string `json:"image"`
	MaskURL  string `json:"mask"`
	Prompt   string `json:"prompt"`
}

type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	pollInterval time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger
}

type Option func(*Client)

func WithRetry(maxRetries int) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

// WithBackoff sets the first retry delay and the cap for retries and status polling
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = max
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		// Preserve existing transport if any
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithRateLimit(requestsPerMinute int, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithPollInterval sets the first delay between status polls
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://engine.prod.bria-api.com/v2",
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
		maxRetries:   3,
		baseDelay:    time.Second,
		maxDelay:     30 * time.Second,
		pollInterval: 2 * time.Second,
		limiter:      rate.NewLimiter(rate.Limit(1), 1), // Default: 60 req/min
		logger:       slog.Default().With("component", "provider_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("provider client initialized",
		"base_url", c.baseURL,
		"max_retries", c.maxRetries,
		"rate_limit", fmt.Sprintf("%v req/s", c.limiter.Limit()))

	return c
}

// Generate submits a regeneration job
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*Job, error) {
	if req.Prompt == "" && len(req.StructuredPrompt) == 0 {
		return nil, refinererrors.NewProviderError("generate", 0, errors.New("prompt or structured prompt is required"))
	}
	var job Job
	if err := c.do(ctx, "generate", http.MethodPost, "/image/generate", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Status fetches the state of a job
func (c *Client) Status(ctx context.Context, requestID string) (*Status, error) {
	var st Status
	if err := c.do(ctx, "status", http.MethodGet, "/status/"+url.PathEscape(requestID), nil, &st); err != nil {
		return nil, err
	}
	if st.RequestID == "" {
		st.RequestID = requestID
	}
	return &st, nil
}

// Wait polls a job until it completes or fails. The poll delay starts at the poll interval and
// doubles up to the backoff cap.
func (c *Client) Wait(ctx context.Context, requestID string) (*Status, error) {
	delay := c.pollInterval
	for poll := 1; ; poll++ {
		st, err := c.Status(ctx, requestID)
		if err != nil {
			return nil, err
		}
		switch st.Status {
		case StatusCompleted:
			c.logger.Info("job completed", "request_id", requestID, "polls", poll)
			return st, nil
		case StatusFailed:
			return st, refinererrors.NewProviderError("wait", 0, fmt.Errorf("job %s failed: %s", requestID, st.Error))
		}

		c.logger.Debug("job pending", "request_id", requestID, "status", st.Status, "next_poll_ms", delay.Milliseconds())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
}

// EditBackground removes or replaces the background of an image
func (c *Client) EditBackground(ctx context.Context, req BackgroundEdit) (*Job, error) {
	path := "/image/edit/remove_background"
	switch req.Mode {
	case BackgroundRemove:
	case BackgroundReplace:
		if req.Prompt == "" {
			return nil, refinererrors.NewProviderError("edit_background", 0, errors.New("replacement prompt is required"))
		}
		path = "/image/edit/replace_background"
	default:
		return nil, refinererrors.NewProviderError("edit_background", 0, fmt.Errorf("unknown background mode %q", req.Mode))
	}

	var job Job
	if err := c.do(ctx, "edit_background", http.MethodPost, path, req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// RegisterImage uploads an image reference and returns its visual ID
func (c *Client) RegisterImage(ctx context.Context, imageURL string) (string, error) {
	var out struct {
		VisualID string `json:"visual_id"`
	}
	body := map[string]string{"image_url": imageURL}
	if err := c.do(ctx, "register_image", http.MethodPost, "/images/register", body, &out); err != nil {
		return "", err
	}
	if out.VisualID == "" {
		return "", refinererrors.NewProviderError("register_image", 0, errors.New("no visual id in response"))
	}
	return out.VisualID, nil
}

// GenerateMask builds a mask around target in a registered image
func (c *Client) GenerateMask(ctx context.Context, visualID, target string) (*Mask, error) {
	var mask Mask
	body := map[string]string{"visual_id": visualID, "object": target}
	if err := c.do(ctx, "generate_mask", http.MethodPost, "/objects/mask_generator", body, &mask); err != nil {
		return nil, err
	}
	return &mask, nil
}

// MaskFill repaints the masked region
func (c *Client) MaskFill(ctx context.Context, req MaskFillRequest) (*Job, error) {
	var job Job
	if err := c.do(ctx, "mask_fill", http.MethodPost, "/image/edit/gen_fill", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// do runs one rate-limited call with retries on 429, 5xx and transport errors.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	startTime := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.calculateDelay(attempt)
			c.logger.Debug("retry backoff",
				"operation", op,
				"attempt", attempt,
				"backoff_ms", backoff.Milliseconds())

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.logger.Warn("request cancelled during backoff", "operation", op, "attempt", attempt)
				return ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}

		err := c.doRequest(ctx, op, method, path, body, out)
		if err == nil {
			c.logger.Debug("provider request successful",
				"operation", op,
				"attempt", attempt,
				"total_duration_ms", time.Since(startTime).Milliseconds())
			return nil
		}

		lastErr = err
		if ctx.Err() != nil || !refinererrors.IsRetryable(err) {
			c.logger.Error("provider request failed with non-retryable error",
				"operation", op,
				"attempt", attempt,
				"error", err)
			return err
		}

		c.logger.Warn("provider request failed, will retry",
			"operation", op,
			"attempt", attempt,
			"error", err)
	}

	c.logger.Error("provider request failed after max retries",
		"operation", op,
		"max_retries", c.maxRetries,
		"total_duration_ms", time.Since(startTime).Milliseconds(),
		"last_error", lastErr)

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) calculateDelay(attempt int) time.Duration {
	delay := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}
	return time.Duration(delay)
}

func (c *Client) doRequest(ctx context.Context, op, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return refinererrors.NewProviderError(op, 0, fmt.Errorf("creating request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api_token", c.apiKey)

	httpStart := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures are retryable
		return &refinererrors.ProviderError{Op: op, Err: fmt.Errorf("making request: %w", err), Retry: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &refinererrors.ProviderError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err), Retry: true}
	}

	c.logger.Debug("provider response received",
		"operation", op,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(httpStart).Milliseconds(),
		"body_size", len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return refinererrors.NewProviderError(op, resp.StatusCode, fmt.Errorf("API error: %s", strings.TrimSpace(string(respBody))))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return refinererrors.NewProviderError(op, resp.StatusCode, fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

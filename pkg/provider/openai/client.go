// Package openai implements provider.Provider against the OpenAI HTTP API
// (chat completions for text and vision, image generations for pictures).
// Any OpenAI-compatible endpoint works by changing BaseURL.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pixstory/pkg/provider"
	"github.com/Sternrassler/pixstory/pkg/ratelimit"
)

// Prometheus metrics for provider calls.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixstory_provider_requests_total",
		Help: "Provider requests by operation and status",
	}, []string{"operation", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pixstory_provider_request_duration_seconds",
		Help:    "Provider request duration in seconds by operation",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"operation"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixstory_provider_errors_total",
		Help: "Provider errors by class",
	}, []string{"class"})
)

// contentPolicyCode is the error code OpenAI uses for refused prompts.
const contentPolicyCode = "content_policy_violation"

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, without trailing slash.
	BaseURL string

	// ChatModel is used for captions and all text generation.
	ChatModel string

	// ImageModel is used for illustrations.
	ImageModel string

	// ImageSize, ImageQuality and ImageStyle are passed to image generation.
	ImageSize    string
	ImageQuality string
	ImageStyle   string

	// Timeout bounds one HTTP round trip. The caller's context may be shorter.
	Timeout time.Duration

	// Token limits per operation.
	CaptionMaxTokens int
	NovelMaxTokens   int
	ActionMaxTokens  int

	// Temperature for novel, story and action generation.
	Temperature float64

	// Quota refuses calls while the provider reports no remaining requests.
	// Optional.
	Quota *ratelimit.QuotaTracker

	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client
}

// DefaultConfig returns gpt-4o-mini for chat and dall-e-3 for images.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "https://api.openai.com/v1",
		ChatModel:        "gpt-4o-mini",
		ImageModel:       "dall-e-3",
		ImageSize:        "1024x1024",
		ImageQuality:     "standard",
		ImageStyle:       "vivid",
		Timeout:          90 * time.Second,
		CaptionMaxTokens: 500,
		NovelMaxTokens:   2000,
		ActionMaxTokens:  1000,
		Temperature:      0.7,
	}
}

// Client talks to the OpenAI API.
type Client struct {
	httpClient *http.Client
	quota      *ratelimit.QuotaTracker
	config     Config
	logger     zerolog.Logger
}

var _ provider.Provider = (*Client)(nil)

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.ChatModel == "" || cfg.ImageModel == "" {
		return nil, fmt.Errorf("chat and image models are required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be within [0, 2] (got %.2f)", cfg.Temperature)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		quota:      cfg.Quota,
		config:     cfg,
		logger:     log.With().Str("component", "openai").Logger(),
	}, nil
}

// apiError is the error envelope returned by the API.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// post sends a JSON request and decodes a JSON response. Every failure is
// returned as *provider.Error.
func (c *Client) post(ctx context.Context, auth provider.Auth, op, path string, body, out any) error {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	// Step 1: refuse locally while the quota is exhausted
	if c.quota != nil {
		if err := c.quota.Check(ctx); err != nil {
			requestsTotal.WithLabelValues(op, "quota_blocked").Inc()
			return c.fail(&provider.Error{Operation: op, Class: provider.ErrorClassRateLimit, Message: "blocked locally", Err: err})
		}
	}

	// Step 2: build request
	payload, err := json.Marshal(body)
	if err != nil {
		return c.fail(&provider.Error{Operation: op, Class: provider.ErrorClassClient, Message: "encode request", Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return c.fail(&provider.Error{Operation: op, Class: provider.ErrorClassClient, Message: "build request", Err: err})
	}
	req.Header.Set("Authorization", "Bearer "+auth.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("operation", op).Str("path", path).Msg("Calling provider")

	// Step 3: execute
	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(op, "error").Inc()
		return c.fail(provider.TransportError(op, err))
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	// Step 4: record quota headers
	if c.quota != nil {
		if err := c.quota.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record provider quota")
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail(provider.TransportError(op, err))
	}

	// Step 5: classify failures
	if resp.StatusCode >= 400 {
		return c.fail(statusError(op, resp.StatusCode, data))
	}

	// Step 6: decode
	if err := json.Unmarshal(data, out); err != nil {
		return c.fail(&provider.Error{Operation: op, StatusCode: resp.StatusCode, Class: provider.ErrorClassResponse, Message: "decode response", Err: err})
	}

	c.logger.Debug().
		Str("operation", op).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Provider call complete")

	return nil
}

// statusError turns an error response into a classified provider error.
func statusError(op string, status int, body []byte) *provider.Error {
	perr := &provider.Error{
		Operation:  op,
		StatusCode: status,
		Class:      provider.ClassifyStatus(status),
		Message:    http.StatusText(status),
	}

	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		perr.Message = envelope.Error.Message
		if code, ok := envelope.Error.Code.(string); ok && code == contentPolicyCode {
			perr.Class = provider.ErrorClassContent
		}
	}
	return perr
}

func (c *Client) fail(err *provider.Error) error {
	errorsTotal.WithLabelValues(string(err.Class)).Inc()
	c.logger.Debug().
		Str("operation", err.Operation).
		Int("status_code", err.StatusCode).
		Str("error_class", string(err.Class)).
		Msg("Provider call failed")
	return err
}

// Package testutil provides test doubles for the generation providers.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// API paths served by MockOpenAI, relative to URL().
const (
	PathChatCompletions  = "/v1/chat/completions"
	PathImageGenerations = "/v1/images/generations"
)

// FakePNG is the image payload returned by the default image handler.
var FakePNG = base64.StdEncoding.EncodeToString([]byte("\x89PNG fake image"))

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOpenAI is a configurable OpenAI-compatible server for tests.
type MockOpenAI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	requestCount  int
	pathCounts    map[string]int
	lastAuth      string
	lastBodies    map[string][]byte
	defaultChat   string
	captionCalled int
}

// NewMockOpenAI creates a new mock server with default handlers for chat
// completions and image generations.
func NewMockOpenAI() *MockOpenAI {
	mock := &MockOpenAI{
		handlers:    make(map[string]func(w http.ResponseWriter, r *http.Request)),
		pathCounts:  make(map[string]int),
		lastBodies:  make(map[string][]byte),
		defaultChat: "Once upon a time.",
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.lastAuth = r.Header.Get("Authorization")
		mock.lastBodies[r.URL.Path] = body
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		r.Body = io.NopCloser(strings.NewReader(string(body)))
		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r, body)
	}))

	return mock
}

// URL returns the API base URL (including /v1).
func (m *MockOpenAI) URL() string {
	return m.server.URL + "/v1"
}

// Close shuts down the mock server.
func (m *MockOpenAI) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a path.
func (m *MockOpenAI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockOpenAI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetChatContent changes the content returned by the default chat handler
// for non-caption requests.
func (m *MockOpenAI) SetChatContent(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultChat = content
}

// RequestCount returns the number of requests served.
func (m *MockOpenAI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests served for a path.
func (m *MockOpenAI) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// LastAuthorization returns the Authorization header of the last request.
func (m *MockOpenAI) LastAuthorization() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAuth
}

// LastBody decodes the last request body sent to path into v.
func (m *MockOpenAI) LastBody(path string, v any) error {
	m.mu.RLock()
	body := m.lastBodies[path]
	m.mu.RUnlock()
	if body == nil {
		return fmt.Errorf("no request to %s", path)
	}
	return json.Unmarshal(body, v)
}

// defaultHandler answers chat and image requests with canned content.
// Caption requests (those carrying an image part) get "caption N".
func (m *MockOpenAI) defaultHandler(w http.ResponseWriter, r *http.Request, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-ratelimit-remaining-requests", "100")
	w.Header().Set("x-ratelimit-reset-requests", "1s")

	switch r.URL.Path {
	case PathChatCompletions:
		m.mu.Lock()
		content := m.defaultChat
		if strings.Contains(string(body), `"image_url"`) {
			m.captionCalled++
			content = fmt.Sprintf("caption %d", m.captionCalled)
		}
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(NewChatBody(content)))

	case PathImageGenerations:
		var req struct {
			Prompt string `json:"prompt"`
		}
		json.Unmarshal(body, &req)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"data":[{"b64_json":%q,"revised_prompt":%q}]}`, FakePNG, "revised: "+req.Prompt)

	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"unknown path","type":"invalid_request_error"}}`))
	}
}

// NewChatBody renders a chat completion response body.
func NewChatBody(content string) string {
	encoded, _ := json.Marshal(content)
	return fmt.Sprintf(`{"choices":[{"index":0,"message":{"role":"assistant","content":%s}}]}`, encoded)
}

// NewChatResponse creates a 200 chat completion response.
func NewChatResponse(content string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       NewChatBody(content),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse creates a 429 response with an exhausted quota.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
		Headers: map[string]string{
			"Content-Type":                   "application/json",
			"x-ratelimit-remaining-requests": "0",
			"x-ratelimit-reset-requests":     "30s",
		},
	}
}

// NewContentPolicyResponse creates a 400 content policy refusal.
func NewContentPolicyResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"error":{"message":"Your request was rejected by the safety system","type":"invalid_request_error","code":"content_policy_violation"}}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":{"message":"The server had an error","type":"server_error"}}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/pixstory/internal/testutil"
	"github.com/Sternrassler/pixstory/pkg/provider"
	"github.com/Sternrassler/pixstory/pkg/ratelimit"
)

var testAuth = provider.Auth{Identity: "user-42", APIKey: "sk-test"}

const testImage = "data:image/png;base64,aGVsbG8="

func newTestClient(t *testing.T, mock *testutil.MockOpenAI, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = mock.URL()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"missing base url", func(c *Config) { c.BaseURL = "" }, true},
		{"missing chat model", func(c *Config) { c.ChatModel = "" }, true},
		{"temperature too high", func(c *Config) { c.Temperature = 3 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCaption_SendsImageAndIdentity(t *testing.T) {
	mock := testutil.NewMockOpenAI()
	defer mock.Close()
	c := newTestClient(t, mock, nil)

	caption, err := c.Caption(context.Background(), testAuth, provider.Image{DataURL: testImage})
	if err != nil {
		t.Fatalf("Caption() error = %v", err)
	}
	if caption != "caption 1" {
		t.Errorf("Caption() = %q, want caption 1", caption)
	}
	if got := mock.LastAuthorization(); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}

	var sent struct {
		Model     string `json:"model"`
		User      string `json:"user"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Content []struct {
				Type     string `json:"type"`
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"content"`
		} `json:"messages"`
	}
	if err := mock.LastBody(testutil.PathChatCompletions, &sent); err != nil {
		t.Fatalf("LastBody() error = %v", err)
	}
	if sent.Model != "gpt-4o-mini" || sent.User != "user-42" || sent.MaxTokens != 500 {
		t.Errorf("request = model %q user %q max_tokens %d", sent.Model, sent.User, sent.MaxTokens)
	}
	if len(sent.Messages) != 1 || len(sent.Messages[0].Content) != 2 {
		t.Fatalf("unexpected message layout: %+v", sent.Messages)
	}
	if got := sent.Messages[0].Content[1].ImageURL.URL; got != testImage {
		t.Errorf("image url = %q, want %q", got, testImage)
	}
}

func TestCaption_RejectsBadImageWithoutCalling(t *testing.T) {
	mock := testutil.NewMockOpenAI()
	defer mock.Close()
	c := newTestClient(t, mock, nil)

	_, err := c.Caption(context.Background(), testAuth, provider.Image{DataURL: "https://example.com/a.png"})
	if !errors.Is(err, provider.ErrInvalidImage) {
		t.Fatalf("Caption() error = %v, want ErrInvalidImage", err)
	}
	if provider.ClassOf(err) != provider.ErrorClassClient {
		t.Errorf("class = %s, want client", provider.ClassOf(err))
	}
	if mock.RequestCount() != 0 {
		t.Errorf("requests = %d, want 0", mock.RequestCount())
	}
}

func TestWriteNovel_PromptCarriesCorpus(t *testing.T) {
	mock := testutil.NewMockOpenAI()
	defer mock.Close()
	mock.SetChatContent("Mina walked into the forest. [image]")
	c := newTestClient(t, mock, nil)

	novel, err := c.WriteNovel(context.Background(), testAuth,
		[]string{"a dark forest", "a glowing lake"},
		provider.NovelMeta{CharacterName: "Mina", Genre: "fantasy"})
	if err != nil {
		t.Fatalf("WriteNovel() error = %v", err)
	}
	if !strings.Contains(novel, "[image]") {
		t.Errorf("WriteNovel() = %q", novel)
	}

	var sent struct {
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := mock.LastBody(testutil.PathChatCompletions, &sent); err != nil {
		t.Fatalf("LastBody() error = %v", err)
	}
	if sent.Temperature != 0.7 || sent.MaxTokens != 2000 {
		t.Errorf("temperature %.1f max_tokens %d", sent.Temperature, sent.MaxTokens)
	}
	user := sent.Messages[1].Content
	for _, want := range []string{"Name: Mina", "Genre: fantasy", "Image 1: a dark forest", "Image 2: a glowing lake"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestIllustrate(t *testing.T) {
	mock := testutil.NewMockOpenAI()
	defer mock.Close()
	c := newTestClient(t, mock, nil)

	ill, err := c.Illustrate(context.Background(), testAuth, "a baker at dawn")
	if err != nil {
		t.Fatalf("Illustrate() error = %v", err)
	}
	if ill.URL != "data:image/png;base64,"+testutil.FakePNG {
		t.Errorf("URL = %q", ill.URL)
	}
	if ill.RevisedPrompt != "revised: a baker at dawn"+provider.ImagePromptSuffix {
		t.Errorf("RevisedPrompt = %q", ill.RevisedPrompt)
	}

	var sent imageRequest
	if err := mock.LastBody(testutil.PathImageGenerations, &sent); err != nil {
		t.Fatalf("LastBody() error = %v", err)
	}
	if sent.Model != "dall-e-3" || sent.Size != "1024x1024" || sent.ResponseFormat != "b64_json" || sent.N != 1 {
		t.Errorf("image request = %+v", sent)
	}
}

func TestIllustrate_FallsBackToPrompt(t *testing.T) {
	mock := testutil.NewMockOpenAI()
	defer mock.Close()
	mock.SetResponse(testutil.PathImageGenerations, testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"data":[{"b64_json":"aGk="}]}`,
	})
	c := newTestClient(t, mock, nil)

	ill, err := c.Illustrate(context.Background(), testAuth, "a pilot")
	if err != nil {
		t.Fatalf("Illustrate() error = %v", err)
	}
	if ill.RevisedPrompt != "a pilot" {
		t.Errorf("RevisedPrompt = %q, want original prompt", ill.RevisedPrompt)
	}
}

func TestSuggestActions(t *testing.T) {
	mock := testutil.NewMockOpenAI()
	defer mock.Close()
	mock.SetChatContent("```json\n{\"job_title\":\"baker\",\"actions\":[\"kneading dough\",\" \",\"baking bread\"]}\n```")
	c := newTestClient(t, mock, nil)

	actions, err := c.SuggestActions(context.Background(), testAuth, "baker")
	if err != nil {
		t.Fatalf("SuggestActions() error = %v", err)
	}
	if actions.JobTitle != "baker" || len(actions.Actions) != 2 {
		t.Errorf("SuggestActions() = %+v", actions)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		response   testutil.MockResponse
		wantClass  provider.ErrorClass
		wantStatus int
	}{
		{"rate limited", testutil.NewRateLimitResponse(), provider.ErrorClassRateLimit, 429},
		{"content policy", testutil.NewContentPolicyResponse(), provider.ErrorClassContent, 400},
		{"server error", testutil.NewServerErrorResponse(), provider.ErrorClassServer, 500},
		{"unauthorized", testutil.MockResponse{StatusCode: 401, Body: `{"error":{"message":"bad key"}}`}, provider.ErrorClassClient, 401},
		{"empty content", testutil.NewChatResponse(""), provider.ErrorClassResponse, 0},
		{"garbage body", testutil.MockResponse{StatusCode: 200, Body: "<html>"}, provider.ErrorClassResponse, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockOpenAI()
			defer mock.Close()
			mock.SetResponse(testutil.PathChatCompletions, tt.response)
			c := newTestClient(t, mock, nil)

			_, err := c.WriteStory(context.Background(), testAuth, nil, provider.DreamMeta{UserName: "a", JobTitle: "b"})

			var perr *provider.Error
			if !errors.As(err, &perr) {
				t.Fatalf("error = %v, want *provider.Error", err)
			}
			if perr.Class != tt.wantClass {
				t.Errorf("Class = %s, want %s", perr.Class, tt.wantClass)
			}
			if perr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", perr.StatusCode, tt.wantStatus)
			}
			if perr.Operation != provider.OpStory {
				t.Errorf("Operation = %s, want story", perr.Operation)
			}
		})
	}
}

func TestQuotaBlocksAfterExhaustion(t *testing.T) {
	mock := testutil.NewMockOpenAI()
	defer mock.Close()
	mock.SetResponse(testutil.PathChatCompletions, testutil.NewRateLimitResponse())

	quota := ratelimit.NewQuotaTracker(nil, zerolog.Nop())
	c := newTestClient(t, mock, func(cfg *Config) { cfg.Quota = quota })

	// The 429 carries remaining=0, so the next call never leaves the process.
	if _, err := c.SuggestActions(context.Background(), testAuth, "pilot"); provider.ClassOf(err) != provider.ErrorClassRateLimit {
		t.Fatalf("first call error = %v, want rate_limit", err)
	}
	_, err := c.SuggestActions(context.Background(), testAuth, "pilot")
	if !errors.Is(err, ratelimit.ErrQuotaExhausted) {
		t.Fatalf("second call error = %v, want ErrQuotaExhausted", err)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("requests = %d, want 1", mock.RequestCount())
	}
}

func TestContextDeadline(t *testing.T) {
	mock := testutil.NewMockOpenAI()
	defer mock.Close()
	mock.SetResponse(testutil.PathChatCompletions, testutil.MockResponse{
		StatusCode: 200,
		Body:       testutil.NewChatBody("late"),
		Delay:      200 * time.Millisecond,
	})
	c := newTestClient(t, mock, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.WriteNovel(ctx, testAuth, []string{"x"}, provider.NovelMeta{CharacterName: "a", Genre: "b"})
	if provider.ClassOf(err) != provider.ErrorClassTimeout {
		t.Errorf("error = %v, class %s, want timeout", err, provider.ClassOf(err))
	}
}

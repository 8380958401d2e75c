// Package ark implements provider.Provider on Volcengine Ark (Doubao chat
// and vision models, Seedream image generation) through the official
// arkruntime SDK.
package ark

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"

	"github.com/Sternrassler/pixstory/pkg/provider"
)

// Config holds the Ark configuration.
type Config struct {
	// BaseURL of the Ark runtime API.
	BaseURL string

	// ChatModel is the model or endpoint ID for text and vision.
	ChatModel string

	// ImageModel is the model or endpoint ID for image generation.
	ImageModel string

	// ImageSize is passed to image generation ("1K", "2K", "1024x1024").
	ImageSize string

	// Watermark adds the provider watermark to generated images.
	Watermark bool
}

// DefaultConfig returns a configuration for the Beijing region.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://ark.cn-beijing.volces.com/api/v3",
		ChatModel:  "doubao-seed-1-6-vision-250815",
		ImageModel: "doubao-seedream-4-0-250828",
		ImageSize:  "1K",
		Watermark:  false,
	}
}

// Client calls Ark with the caller's own API key.
type Client struct {
	config Config
	logger zerolog.Logger
}

var _ provider.Provider = (*Client)(nil)

// New creates a new Ark client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.ChatModel == "" || cfg.ImageModel == "" {
		return nil, fmt.Errorf("chat and image models are required")
	}
	return &Client{
		config: cfg,
		logger: log.With().Str("component", "ark").Logger(),
	}, nil
}

// runtime builds an SDK client bound to the caller's key.
func (c *Client) runtime(auth provider.Auth) *arkruntime.Client {
	return arkruntime.NewClientWithApiKey(auth.APIKey, arkruntime.WithBaseUrl(c.config.BaseURL))
}

// Caption describes one image with the vision model.
func (c *Client) Caption(ctx context.Context, auth provider.Auth, img provider.Image) (string, error) {
	if _, err := img.Base64(); err != nil {
		return "", &provider.Error{Operation: provider.OpCaption, Class: provider.ErrorClassClient, Message: "bad input image", Err: err}
	}
	return c.chat(ctx, auth, provider.OpCaption, []*model.ChatCompletionMessage{
		captionMessage(img),
	})
}

// WriteNovel writes the novel for ordered captions.
func (c *Client) WriteNovel(ctx context.Context, auth provider.Auth, captions []string, meta provider.NovelMeta) (string, error) {
	return c.chat(ctx, auth, provider.OpNovel, []*model.ChatCompletionMessage{
		textMessage(model.ChatMessageRoleSystem, provider.NovelSystemPrompt),
		textMessage(model.ChatMessageRoleUser, provider.NovelPrompt(captions, meta)),
	})
}

// WriteStory writes the story for ordered illustrations.
func (c *Client) WriteStory(ctx context.Context, auth provider.Auth, scenes []provider.Illustration, meta provider.DreamMeta) (string, error) {
	return c.chat(ctx, auth, provider.OpStory, []*model.ChatCompletionMessage{
		textMessage(model.ChatMessageRoleSystem, provider.StorySystemPrompt),
		textMessage(model.ChatMessageRoleUser, provider.StoryPrompt(scenes, meta)),
	})
}

// SuggestActions asks for ten activities for a job title.
func (c *Client) SuggestActions(ctx context.Context, auth provider.Auth, jobTitle string) (provider.JobActions, error) {
	content, err := c.chat(ctx, auth, provider.OpActions, []*model.ChatCompletionMessage{
		textMessage(model.ChatMessageRoleSystem, provider.ActionsSystemPrompt),
		textMessage(model.ChatMessageRoleUser, jobTitle),
	})
	if err != nil {
		return provider.JobActions{}, err
	}
	return provider.ParseJobActions(content)
}

// Illustrate generates one image and returns its URL.
func (c *Client) Illustrate(ctx context.Context, auth provider.Auth, prompt string) (provider.Illustration, error) {
	start := time.Now()
	req := model.GenerateImagesRequest{
		Model:          c.config.ImageModel,
		Prompt:         prompt + provider.ImagePromptSuffix,
		Size:           volcengine.String(c.config.ImageSize),
		ResponseFormat: volcengine.String(model.GenerateImagesResponseFormatURL),
		Watermark:      volcengine.Bool(c.config.Watermark),
	}

	resp, err := c.runtime(auth).GenerateImages(ctx, req)
	if err != nil {
		return provider.Illustration{}, sdkError(provider.OpIllustrate, err)
	}
	if resp.Error != nil {
		return provider.Illustration{}, &provider.Error{
			Operation: provider.OpIllustrate,
			Class:     classifyCode(resp.Error.Code),
			Message:   resp.Error.Code + ": " + resp.Error.Message,
		}
	}
	var url string
	for _, image := range resp.Data {
		if image.Url != nil && *image.Url != "" {
			url = *image.Url
			break
		}
	}
	if url == "" {
		return provider.Illustration{}, &provider.Error{Operation: provider.OpIllustrate, Class: provider.ErrorClassResponse, Err: provider.ErrEmptyResponse}
	}

	c.logger.Debug().
		Str("operation", provider.OpIllustrate).
		Dur("duration", time.Since(start)).
		Msg("Provider call complete")

	return provider.Illustration{URL: url, RevisedPrompt: prompt}, nil
}

func (c *Client) chat(ctx context.Context, auth provider.Auth, op string, messages []*model.ChatCompletionMessage) (string, error) {
	start := time.Now()
	resp, err := c.runtime(auth).CreateChatCompletion(ctx, model.CreateChatCompletionRequest{
		Model:    c.config.ChatModel,
		Messages: messages,
	})
	if err != nil {
		return "", sdkError(op, err)
	}

	var content string
	if len(resp.Choices) > 0 {
		if mc := resp.Choices[0].Message.Content; mc != nil && mc.StringValue != nil {
			content = strings.TrimSpace(*mc.StringValue)
		}
	}
	if content == "" {
		return "", &provider.Error{Operation: op, Class: provider.ErrorClassResponse, Err: provider.ErrEmptyResponse}
	}

	c.logger.Debug().
		Str("operation", op).
		Dur("duration", time.Since(start)).
		Msg("Provider call complete")

	return content, nil
}

func textMessage(role, text string) *model.ChatCompletionMessage {
	return &model.ChatCompletionMessage{
		Role:    role,
		Content: &model.ChatCompletionMessageContent{StringValue: volcengine.String(text)},
	}
}

func captionMessage(img provider.Image) *model.ChatCompletionMessage {
	return &model.ChatCompletionMessage{
		Role: model.ChatMessageRoleUser,
		Content: &model.ChatCompletionMessageContent{
			ListValue: []*model.ChatCompletionMessageContentPart{
				{
					Type: model.ChatCompletionMessageContentPartTypeText,
					Text: provider.CaptionInstruction,
				},
				{
					Type:     model.ChatCompletionMessageContentPartTypeImageURL,
					ImageURL: &model.ChatMessageImageURL{URL: img.DataURL},
				},
			},
		},
	}
}

// sdkError classifies an error returned by the SDK. Context errors keep
// their class; anything else is treated as a provider-side failure.
func sdkError(op string, err error) *provider.Error {
	class := provider.ClassOf(err)
	if class == provider.ErrorClassUnknown {
		class = provider.ErrorClassServer
	}
	return &provider.Error{Operation: op, Class: class, Message: "ark request failed", Err: err}
}

// classifyCode maps Ark error codes reported in a response body.
func classifyCode(code string) provider.ErrorClass {
	switch {
	case strings.Contains(code, "RateLimit") || strings.Contains(code, "QuotaExceeded"):
		return provider.ErrorClassRateLimit
	case strings.Contains(code, "Sensitive") || strings.Contains(code, "Risk"):
		return provider.ErrorClassContent
	case strings.HasPrefix(code, "Invalid") || strings.Contains(code, "Authentication"):
		return provider.ErrorClassClient
	default:
		return provider.ErrorClassServer
	}
}

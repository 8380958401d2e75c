package openai

import (
	"context"
	"strings"

	"github.com/Sternrassler/pixstory/pkg/provider"
)

// Caption describes one image with the vision chat model.
func (c *Client) Caption(ctx context.Context, auth provider.Auth, img provider.Image) (string, error) {
	payload, err := img.Base64()
	if err != nil {
		return "", c.fail(&provider.Error{Operation: provider.OpCaption, Class: provider.ErrorClassClient, Message: "bad input image", Err: err})
	}

	req := chatRequest{
		Model: c.config.ChatModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: provider.CaptionInstruction},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:" + img.MediaType() + ";base64," + payload}},
			},
		}},
		MaxTokens: c.config.CaptionMaxTokens,
		User:      auth.Identity,
	}
	return c.chat(ctx, auth, provider.OpCaption, req)
}

// WriteNovel writes the novel for ordered captions.
func (c *Client) WriteNovel(ctx context.Context, auth provider.Auth, captions []string, meta provider.NovelMeta) (string, error) {
	req := chatRequest{
		Model: c.config.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: provider.NovelSystemPrompt},
			{Role: "user", Content: provider.NovelPrompt(captions, meta)},
		},
		MaxTokens:   c.config.NovelMaxTokens,
		Temperature: c.temperature(),
		User:        auth.Identity,
	}
	return c.chat(ctx, auth, provider.OpNovel, req)
}

// WriteStory writes the story for ordered illustrations.
func (c *Client) WriteStory(ctx context.Context, auth provider.Auth, scenes []provider.Illustration, meta provider.DreamMeta) (string, error) {
	req := chatRequest{
		Model: c.config.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: provider.StorySystemPrompt},
			{Role: "user", Content: provider.StoryPrompt(scenes, meta)},
		},
		MaxTokens:   c.config.NovelMaxTokens,
		Temperature: c.temperature(),
		User:        auth.Identity,
	}
	return c.chat(ctx, auth, provider.OpStory, req)
}

// SuggestActions asks for ten activities for a job title.
func (c *Client) SuggestActions(ctx context.Context, auth provider.Auth, jobTitle string) (provider.JobActions, error) {
	req := chatRequest{
		Model: c.config.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: provider.ActionsSystemPrompt},
			{Role: "user", Content: jobTitle},
		},
		MaxTokens:      c.config.ActionMaxTokens,
		Temperature:    c.temperature(),
		User:           auth.Identity,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	content, err := c.chat(ctx, auth, provider.OpActions, req)
	if err != nil {
		return provider.JobActions{}, err
	}
	return provider.ParseJobActions(content)
}

// Illustrate generates one image and returns it as a PNG data URL.
func (c *Client) Illustrate(ctx context.Context, auth provider.Auth, prompt string) (provider.Illustration, error) {
	req := imageRequest{
		Model:          c.config.ImageModel,
		Prompt:         prompt + provider.ImagePromptSuffix,
		N:              1,
		Size:           c.config.ImageSize,
		Quality:        c.config.ImageQuality,
		Style:          c.config.ImageStyle,
		ResponseFormat: "b64_json",
		User:           auth.Identity,
	}

	var resp imageResponse
	if err := c.post(ctx, auth, provider.OpIllustrate, "/images/generations", req, &resp); err != nil {
		return provider.Illustration{}, err
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return provider.Illustration{}, c.fail(&provider.Error{Operation: provider.OpIllustrate, Class: provider.ErrorClassResponse, Err: provider.ErrEmptyResponse})
	}

	revised := resp.Data[0].RevisedPrompt
	if revised == "" {
		revised = prompt
	}
	return provider.Illustration{
		URL:           "data:image/png;base64," + resp.Data[0].B64JSON,
		RevisedPrompt: revised,
	}, nil
}

// chat runs a chat completion and returns the first choice's content.
func (c *Client) chat(ctx context.Context, auth provider.Auth, op string, req chatRequest) (string, error) {
	var resp chatResponse
	if err := c.post(ctx, auth, op, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", c.fail(&provider.Error{Operation: op, Class: provider.ErrorClassResponse, Err: provider.ErrEmptyResponse})
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) temperature() *float64 {
	t := c.config.Temperature
	return &t
}

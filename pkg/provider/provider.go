// Package provider defines the generation backends the orchestrator calls:
// image captioning, text generation and image generation.
//
// Implementations live in sub-packages (openai, ark). Every call receives
// the caller's Auth so one process can serve many callers with their own
// provider keys.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Operation names used in errors, logs and metrics.
const (
	OpCaption    = "caption"
	OpNovel      = "novel"
	OpIllustrate = "illustrate"
	OpStory      = "story"
	OpActions    = "actions"
)

// ImagePromptSuffix is appended to every illustration prompt.
const ImagePromptSuffix = ". The image should be photorealistic and high quality."

// Auth identifies the caller to the provider.
type Auth struct {
	// Identity is the caller's user identity; forwarded for abuse tracking.
	Identity string

	// APIKey is the provider credential.
	APIKey string
}

// Valid reports whether both fields are set.
func (a Auth) Valid() bool {
	return strings.TrimSpace(a.Identity) != "" && strings.TrimSpace(a.APIKey) != ""
}

// Image is an input image carried as a data URL
// ("data:image/png;base64,....").
type Image struct {
	DataURL string `json:"data_url"`
}

// ErrInvalidImage is returned for an image that is not a base64 image data URL.
var ErrInvalidImage = errors.New("invalid image data URL")

// ErrEmptyResponse is returned when the provider answered without content.
var ErrEmptyResponse = errors.New("provider returned no content")

// Base64 returns the base64 payload after validating the data URL.
func (i Image) Base64() (string, error) {
	if !strings.HasPrefix(i.DataURL, "data:image/") {
		return "", fmt.Errorf("%w: missing data:image/ prefix", ErrInvalidImage)
	}
	_, payload, ok := strings.Cut(i.DataURL, ";base64,")
	if !ok || payload == "" {
		return "", fmt.Errorf("%w: missing base64 payload", ErrInvalidImage)
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return payload, nil
}

// MediaType returns the image media type, e.g. "image/png".
func (i Image) MediaType() string {
	rest := strings.TrimPrefix(i.DataURL, "data:")
	mediaType, _, _ := strings.Cut(rest, ";")
	return mediaType
}

// ImageFromBytes builds a data URL image from raw bytes.
func ImageFromBytes(mediaType string, data []byte) Image {
	return Image{DataURL: "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)}
}

// Illustration is one generated image.
type Illustration struct {
	// URL is either a remote URL or a data URL.
	URL string `json:"url"`

	// RevisedPrompt is the prompt the provider actually used.
	RevisedPrompt string `json:"revised_prompt"`
}

// NovelMeta parameterizes the novel written from image captions.
type NovelMeta struct {
	CharacterName string `json:"character_name"`
	Gender        string `json:"gender,omitempty"`
	Genre         string `json:"genre"`
}

// DreamMeta parameterizes the story written around illustrated actions.
type DreamMeta struct {
	UserName string `json:"user_name"`
	JobTitle string `json:"job_title"`
	Genre    string `json:"genre,omitempty"`
}

// JobActions is a set of suggested activities for a job title.
type JobActions struct {
	JobTitle string   `json:"job_title"`
	Actions  []string `json:"actions"`
}

// Captioner describes images.
type Captioner interface {
	Caption(ctx context.Context, auth Auth, img Image) (string, error)
}

// NovelWriter writes a novel from ordered image captions.
type NovelWriter interface {
	WriteNovel(ctx context.Context, auth Auth, captions []string, meta NovelMeta) (string, error)
}

// Illustrator generates one image from a prompt.
type Illustrator interface {
	Illustrate(ctx context.Context, auth Auth, prompt string) (Illustration, error)
}

// StoryWriter writes a story around ordered illustrations.
type StoryWriter interface {
	WriteStory(ctx context.Context, auth Auth, scenes []Illustration, meta DreamMeta) (string, error)
}

// ActionSuggester proposes activities for a job title.
type ActionSuggester interface {
	SuggestActions(ctx context.Context, auth Auth, jobTitle string) (JobActions, error)
}

// Provider is a backend implementing every generation operation.
type Provider interface {
	Captioner
	NovelWriter
	Illustrator
	StoryWriter
	ActionSuggester
}

// CaptionCorpus renders ordered captions as the numbered corpus handed to
// the novel writer.
func CaptionCorpus(captions []string) string {
	var b strings.Builder
	for i, c := range captions {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Image %d: %s", i+1, strings.TrimSpace(c))
	}
	return b.String()
}

// SceneCorpus renders ordered illustrations as numbered scene descriptions.
func SceneCorpus(scenes []Illustration) string {
	var b strings.Builder
	for i, s := range scenes {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Scene %d: %s", i+1, strings.TrimSpace(s.RevisedPrompt))
	}
	return b.String()
}

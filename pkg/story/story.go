// Package story wires the orchestrator to the two generation flows:
// PixStory turns a batch of photos into a novel, DreamLens turns a batch
// of dream-job actions into illustrations and a story about them.
package story

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/Sternrassler/pixstory/pkg/orchestrator"
	"github.com/Sternrassler/pixstory/pkg/pipeline"
	"github.com/Sternrassler/pixstory/pkg/provider"
)

// Pipeline names.
const (
	PipelinePixStory  = "pixstory"
	PipelineDreamLens = "dreamlens"
)

// MaxJobTitleLength is the longest job title accepted, in runes.
const MaxJobTitleLength = 10

// Genres lists the supported story genres. The first one is the default.
var Genres = []string{"fantasy", "sci-fi", "romance", "mystery", "adventure"}

// NormalizeGenre returns the canonical genre name, or false when genre is
// not supported.
func NormalizeGenre(genre string) (string, bool) {
	g := strings.ToLower(strings.TrimSpace(genre))
	for _, known := range Genres {
		if g == known {
			return known, true
		}
	}
	return "", false
}

// Service runs story generations through a shared controller.
type Service struct {
	provider   provider.Provider
	controller *orchestrator.Controller
}

// NewService creates a new service.
func NewService(p provider.Provider, c *orchestrator.Controller) *Service {
	return &Service{provider: p, controller: c}
}

// PixStoryRequest describes a photo-to-novel generation.
type PixStoryRequest struct {
	Images        []provider.Image
	CharacterName string
	Gender        string
	Genre         string

	// Credentials overrides the service's default credentials.
	Credentials orchestrator.Credentials
}

// PixStoryResult is a finished PixStory.
type PixStoryResult struct {
	Captions []string `json:"captions"`
	Novel    string   `json:"novel"`
}

// PixStoryRun is the handle of a running PixStory.
type PixStoryRun = orchestrator.Run[string, string]

// StartPixStory validates req and starts captioning in the background.
func (s *Service) StartPixStory(ctx context.Context, req PixStoryRequest) (*PixStoryRun, error) {
	meta, err := pixStoryMeta(req)
	if err != nil {
		return nil, err
	}

	return orchestrator.Submit(ctx, s.controller, orchestrator.Request[provider.Image, string, string]{
		Pipeline:    PipelinePixStory,
		Items:       req.Images,
		Credentials: req.Credentials,
		Item: func(ctx context.Context, auth provider.Auth, _ int, img provider.Image) (string, error) {
			return s.provider.Caption(ctx, auth, img)
		},
		Synthesize: func(ctx context.Context, auth provider.Auth, captions []string) (string, error) {
			return s.provider.WriteNovel(ctx, auth, captions, meta)
		},
	})
}

// PixStory runs a PixStory to completion.
func (s *Service) PixStory(ctx context.Context, req PixStoryRequest) (*PixStoryResult, error) {
	run, err := s.StartPixStory(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := run.Wait()
	if err != nil {
		return nil, err
	}
	return NewPixStoryResult(res), nil
}

// NewPixStoryResult converts a pipeline result.
func NewPixStoryResult(res *pipeline.Result[string, string]) *PixStoryResult {
	return &PixStoryResult{Captions: res.PerItem, Novel: res.Aggregate}
}

func pixStoryMeta(req PixStoryRequest) (provider.NovelMeta, error) {
	if len(req.Images) == 0 {
		return provider.NovelMeta{}, orchestrator.InvalidRequest("at least one image is required")
	}
	for i, img := range req.Images {
		if _, err := img.Base64(); err != nil {
			return provider.NovelMeta{}, orchestrator.InvalidRequest("image %d: %v", i, err)
		}
	}
	name := strings.TrimSpace(req.CharacterName)
	if name == "" {
		return provider.NovelMeta{}, orchestrator.InvalidRequest("character name is required")
	}
	genre, ok := NormalizeGenre(req.Genre)
	if !ok {
		return provider.NovelMeta{}, orchestrator.InvalidRequest("unsupported genre %q", req.Genre)
	}
	return provider.NovelMeta{
		CharacterName: name,
		Gender:        strings.TrimSpace(req.Gender),
		Genre:         genre,
	}, nil
}

// DreamLensRequest describes an actions-to-story generation.
type DreamLensRequest struct {
	Actions  []string
	UserName string
	JobTitle string

	// Genre defaults to the first entry of Genres.
	Genre string

	// Credentials overrides the service's default credentials.
	Credentials orchestrator.Credentials
}

// DreamLensResult is a finished DreamLens story.
type DreamLensResult struct {
	Illustrations []provider.Illustration `json:"illustrations"`
	Story         string                  `json:"story"`
}

// DreamLensRun is the handle of a running DreamLens generation.
type DreamLensRun = orchestrator.Run[provider.Illustration, string]

// StartDreamLens validates req and starts illustrating in the background.
// Blank actions are dropped before the batch is built.
func (s *Service) StartDreamLens(ctx context.Context, req DreamLensRequest) (*DreamLensRun, error) {
	actions, meta, err := dreamLensInput(req)
	if err != nil {
		return nil, err
	}

	return orchestrator.Submit(ctx, s.controller, orchestrator.Request[string, provider.Illustration, string]{
		Pipeline:    PipelineDreamLens,
		Items:       actions,
		Credentials: req.Credentials,
		Item: func(ctx context.Context, auth provider.Auth, _ int, action string) (provider.Illustration, error) {
			return s.provider.Illustrate(ctx, auth, IllustrationPrompt(meta.JobTitle, action))
		},
		Synthesize: func(ctx context.Context, auth provider.Auth, scenes []provider.Illustration) (string, error) {
			return s.provider.WriteStory(ctx, auth, scenes, meta)
		},
	})
}

// DreamLens runs a DreamLens generation to completion.
func (s *Service) DreamLens(ctx context.Context, req DreamLensRequest) (*DreamLensResult, error) {
	run, err := s.StartDreamLens(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := run.Wait()
	if err != nil {
		return nil, err
	}
	return NewDreamLensResult(res), nil
}

// NewDreamLensResult converts a pipeline result.
func NewDreamLensResult(res *pipeline.Result[provider.Illustration, string]) *DreamLensResult {
	return &DreamLensResult{Illustrations: res.PerItem, Story: res.Aggregate}
}

// IllustrationPrompt is the image prompt for one action of a job.
func IllustrationPrompt(jobTitle, action string) string {
	return "A " + jobTitle + " " + action
}

func dreamLensInput(req DreamLensRequest) ([]string, provider.DreamMeta, error) {
	var actions []string
	for _, a := range req.Actions {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}
	if len(actions) == 0 {
		return nil, provider.DreamMeta{}, orchestrator.InvalidRequest("at least one action is required")
	}

	user := strings.TrimSpace(req.UserName)
	if user == "" {
		return nil, provider.DreamMeta{}, orchestrator.InvalidRequest("user name is required")
	}
	title, err := jobTitle(req.JobTitle)
	if err != nil {
		return nil, provider.DreamMeta{}, err
	}

	genre := Genres[0]
	if strings.TrimSpace(req.Genre) != "" {
		g, ok := NormalizeGenre(req.Genre)
		if !ok {
			return nil, provider.DreamMeta{}, orchestrator.InvalidRequest("unsupported genre %q", req.Genre)
		}
		genre = g
	}

	return actions, provider.DreamMeta{UserName: user, JobTitle: title, Genre: genre}, nil
}

func jobTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", orchestrator.InvalidRequest("job title is required")
	}
	if utf8.RuneCountInString(title) > MaxJobTitleLength {
		return "", orchestrator.InvalidRequest("job title is longer than %d characters", MaxJobTitleLength)
	}
	return title, nil
}

// SuggestActions proposes activities for a job title. It is a single
// provider call and does not go through the rate limiter.
func (s *Service) SuggestActions(ctx context.Context, title string, creds orchestrator.Credentials) (provider.JobActions, error) {
	title, err := jobTitle(title)
	if err != nil {
		return provider.JobActions{}, err
	}
	auth, err := s.controller.Auth(creds)
	if err != nil {
		return provider.JobActions{}, err
	}

	actions, err := s.provider.SuggestActions(ctx, auth, title)
	if err != nil {
		return provider.JobActions{}, err
	}
	if len(actions.Actions) == 0 {
		return provider.JobActions{}, &provider.Error{
			Operation: provider.OpActions,
			Class:     provider.ErrorClassResponse,
			Message:   "no actions suggested",
		}
	}
	return actions, nil
}

package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/pixstory/pkg/provider"
)

// FakeProvider is an in-memory provider.Provider. Outputs are derived from
// the inputs so tests can check ordering.
type FakeProvider struct {
	// Delay is applied to every call, honoring ctx.
	Delay time.Duration

	// FailOn returns a non-nil error to fail a call. input is the image data
	// URL, illustration prompt or job title; empty for synthesis calls.
	FailOn func(op, input string) error

	// Actions is returned by SuggestActions. Defaults to three actions.
	Actions []string

	mu    sync.Mutex
	calls map[string]int
	auths []provider.Auth
}

var _ provider.Provider = (*FakeProvider)(nil)

// Calls returns how often op was called.
func (f *FakeProvider) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Auths returns the auth of every call so far.
func (f *FakeProvider) Auths() []provider.Auth {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Auth(nil), f.auths...)
}

func (f *FakeProvider) enter(ctx context.Context, auth provider.Auth, op, input string) error {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	f.auths = append(f.auths, auth)
	f.mu.Unlock()

	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if f.FailOn != nil {
		return f.FailOn(op, input)
	}
	return nil
}

// Caption returns "caption of <last 8 chars of the data URL>".
func (f *FakeProvider) Caption(ctx context.Context, auth provider.Auth, img provider.Image) (string, error) {
	if err := f.enter(ctx, auth, provider.OpCaption, img.DataURL); err != nil {
		return "", err
	}
	if _, err := img.Base64(); err != nil {
		return "", err
	}
	tail := img.DataURL
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	return "caption of " + tail, nil
}

// WriteNovel joins the captions.
func (f *FakeProvider) WriteNovel(ctx context.Context, auth provider.Auth, captions []string, meta provider.NovelMeta) (string, error) {
	if err := f.enter(ctx, auth, provider.OpNovel, ""); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%s): %s", meta.CharacterName, meta.Genre, strings.Join(captions, " / ")), nil
}

// Illustrate echoes the prompt.
func (f *FakeProvider) Illustrate(ctx context.Context, auth provider.Auth, prompt string) (provider.Illustration, error) {
	if err := f.enter(ctx, auth, provider.OpIllustrate, prompt); err != nil {
		return provider.Illustration{}, err
	}
	return provider.Illustration{
		URL:           "data:image/png;base64," + FakePNG,
		RevisedPrompt: "scene: " + prompt,
	}, nil
}

// WriteStory joins the revised prompts.
func (f *FakeProvider) WriteStory(ctx context.Context, auth provider.Auth, scenes []provider.Illustration, meta provider.DreamMeta) (string, error) {
	if err := f.enter(ctx, auth, provider.OpStory, ""); err != nil {
		return "", err
	}
	parts := make([]string, len(scenes))
	for i, s := range scenes {
		parts[i] = s.RevisedPrompt
	}
	return fmt.Sprintf("%s the %s: %s", meta.UserName, meta.JobTitle, strings.Join(parts, " / ")), nil
}

// SuggestActions returns Actions for any title.
func (f *FakeProvider) SuggestActions(ctx context.Context, auth provider.Auth, jobTitle string) (provider.JobActions, error) {
	if err := f.enter(ctx, auth, provider.OpActions, jobTitle); err != nil {
		return provider.JobActions{}, err
	}
	actions := f.Actions
	if actions == nil {
		actions = []string{"planning the day", "meeting people", "solving problems"}
	}
	return provider.JobActions{JobTitle: jobTitle, Actions: append([]string(nil), actions...)}, nil
}

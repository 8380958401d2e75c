package story

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Sternrassler/pixstory/internal/testutil"
	"github.com/Sternrassler/pixstory/pkg/orchestrator"
	"github.com/Sternrassler/pixstory/pkg/provider"
	"github.com/Sternrassler/pixstory/pkg/ratelimit"
)

var testCreds = orchestrator.StaticCredentials{ID: "user-1", Key: "sk-test"}

func newService(t *testing.T, p provider.Provider) *Service {
	t.Helper()
	c, err := orchestrator.New(ratelimit.NewSpacer(0), testCreds, orchestrator.DefaultConfig())
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	return NewService(p, c)
}

func testImages(n int) []provider.Image {
	images := make([]provider.Image, n)
	for i := range images {
		images[i] = provider.ImageFromBytes("image/png", []byte(fmt.Sprintf("image-bytes-%02d", i)))
	}
	return images
}

func captionOf(img provider.Image) string {
	return "caption of " + img.DataURL[len(img.DataURL)-8:]
}

func TestNormalizeGenre(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"fantasy", "fantasy", true},
		{"  Sci-Fi ", "sci-fi", true},
		{"ROMANCE", "romance", true},
		{"horror", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeGenre(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("NormalizeGenre(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPixStory(t *testing.T) {
	fake := &testutil.FakeProvider{}
	svc := newService(t, fake)
	images := testImages(4)

	res, err := svc.PixStory(context.Background(), PixStoryRequest{
		Images:        images,
		CharacterName: "Mina",
		Genre:         "Mystery",
	})
	if err != nil {
		t.Fatalf("PixStory() error = %v", err)
	}

	want := make([]string, len(images))
	for i, img := range images {
		want[i] = captionOf(img)
	}
	for i := range want {
		if res.Captions[i] != want[i] {
			t.Errorf("Captions[%d] = %q, want %q", i, res.Captions[i], want[i])
		}
	}
	wantNovel := "Mina (mystery): " + strings.Join(want, " / ")
	if res.Novel != wantNovel {
		t.Errorf("Novel = %q, want %q", res.Novel, wantNovel)
	}
	if got := fake.Calls(provider.OpNovel); got != 1 {
		t.Errorf("novel calls = %d, want 1", got)
	}
}

func TestPixStory_InvalidRequest(t *testing.T) {
	valid := PixStoryRequest{Images: testImages(1), CharacterName: "Mina", Genre: "fantasy"}

	tests := []struct {
		name   string
		mutate func(*PixStoryRequest)
	}{
		{"no images", func(r *PixStoryRequest) { r.Images = nil }},
		{"bad image", func(r *PixStoryRequest) { r.Images = []provider.Image{{DataURL: "hello"}} }},
		{"no character", func(r *PixStoryRequest) { r.CharacterName = "  " }},
		{"no genre", func(r *PixStoryRequest) { r.Genre = "" }},
		{"unknown genre", func(r *PixStoryRequest) { r.Genre = "horror" }},
		{"no credentials", func(r *PixStoryRequest) { r.Credentials = orchestrator.StaticCredentials{ID: "u"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &testutil.FakeProvider{}
			svc := newService(t, fake)
			req := valid
			tt.mutate(&req)

			_, err := svc.StartPixStory(context.Background(), req)
			if !errors.Is(err, orchestrator.ErrInvalidRequest) {
				t.Errorf("StartPixStory() error = %v, want invalid request", err)
			}
			if got := fake.Calls(provider.OpCaption); got != 0 {
				t.Errorf("caption calls = %d, want 0", got)
			}
		})
	}
}

func TestPixStory_ItemFailure(t *testing.T) {
	images := testImages(3)
	fake := &testutil.FakeProvider{FailOn: func(op, input string) error {
		if op == provider.OpCaption && input == images[1].DataURL {
			return &provider.Error{Operation: op, Class: provider.ErrorClassContent, Message: "refused"}
		}
		return nil
	}}
	svc := newService(t, fake)

	_, err := svc.PixStory(context.Background(), PixStoryRequest{Images: images, CharacterName: "Mina", Genre: "fantasy"})

	var oerr *orchestrator.Error
	if !errors.As(err, &oerr) {
		t.Fatalf("PixStory() error = %v, want *orchestrator.Error", err)
	}
	if oerr.Kind != orchestrator.KindItemGenerationFailed || oerr.Index != 1 || oerr.Class != provider.ErrorClassContent {
		t.Errorf("error = %+v, want item failure at 1 with content class", oerr)
	}
	if got := fake.Calls(provider.OpNovel); got != 0 {
		t.Errorf("novel calls = %d, want 0", got)
	}
}

func TestDreamLens(t *testing.T) {
	fake := &testutil.FakeProvider{}
	svc := newService(t, fake)

	res, err := svc.DreamLens(context.Background(), DreamLensRequest{
		Actions:  []string{"baking bread", " ", "", "greeting guests"},
		UserName: "Jun",
		JobTitle: "baker",
	})
	if err != nil {
		t.Fatalf("DreamLens() error = %v", err)
	}

	if len(res.Illustrations) != 2 {
		t.Fatalf("illustrations = %d, want 2", len(res.Illustrations))
	}
	if got := res.Illustrations[0].RevisedPrompt; got != "scene: "+IllustrationPrompt("baker", "baking bread") {
		t.Errorf("Illustrations[0].RevisedPrompt = %q", got)
	}
	if got := res.Illustrations[1].RevisedPrompt; got != "scene: "+IllustrationPrompt("baker", "greeting guests") {
		t.Errorf("Illustrations[1].RevisedPrompt = %q", got)
	}
	if !strings.HasPrefix(res.Story, "Jun the baker: ") {
		t.Errorf("Story = %q", res.Story)
	}
	if got := fake.Calls(provider.OpIllustrate); got != 2 {
		t.Errorf("illustrate calls = %d, want 2", got)
	}
}

func TestDreamLens_InvalidRequest(t *testing.T) {
	valid := DreamLensRequest{Actions: []string{"cooking"}, UserName: "Jun", JobTitle: "chef"}

	tests := []struct {
		name   string
		mutate func(*DreamLensRequest)
	}{
		{"only blank actions", func(r *DreamLensRequest) { r.Actions = []string{"", "  "} }},
		{"no user", func(r *DreamLensRequest) { r.UserName = "" }},
		{"no job title", func(r *DreamLensRequest) { r.JobTitle = "" }},
		{"long job title", func(r *DreamLensRequest) { r.JobTitle = "professional astronaut" }},
		{"unknown genre", func(r *DreamLensRequest) { r.Genre = "western" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, &testutil.FakeProvider{})
			req := valid
			tt.mutate(&req)

			if _, err := svc.StartDreamLens(context.Background(), req); !errors.Is(err, orchestrator.ErrInvalidRequest) {
				t.Errorf("StartDreamLens() error = %v, want invalid request", err)
			}
		})
	}
}

func TestDreamLens_DefaultGenre(t *testing.T) {
	_, meta, err := dreamLensInput(DreamLensRequest{Actions: []string{"a"}, UserName: "u", JobTitle: "chef"})
	if err != nil {
		t.Fatalf("dreamLensInput() error = %v", err)
	}
	if meta.Genre != Genres[0] {
		t.Errorf("Genre = %q, want %q", meta.Genre, Genres[0])
	}
}

func TestSuggestActions(t *testing.T) {
	fake := &testutil.FakeProvider{Actions: []string{"a", "b"}}
	svc := newService(t, fake)

	got, err := svc.SuggestActions(context.Background(), " 요리사 ", nil)
	if err != nil {
		t.Fatalf("SuggestActions() error = %v", err)
	}
	if got.JobTitle != "요리사" || len(got.Actions) != 2 {
		t.Errorf("SuggestActions() = %+v", got)
	}
	if auths := fake.Auths(); len(auths) != 1 || auths[0].Identity != testCreds.ID {
		t.Errorf("auths = %+v", auths)
	}
}

func TestSuggestActions_Errors(t *testing.T) {
	t.Run("title too long", func(t *testing.T) {
		svc := newService(t, &testutil.FakeProvider{})
		if _, err := svc.SuggestActions(context.Background(), "abcdefghijk", nil); !errors.Is(err, orchestrator.ErrInvalidRequest) {
			t.Errorf("error = %v, want invalid request", err)
		}
	})

	t.Run("no actions", func(t *testing.T) {
		svc := newService(t, &testutil.FakeProvider{Actions: []string{}})
		_, err := svc.SuggestActions(context.Background(), "chef", nil)
		if provider.ClassOf(err) != provider.ErrorClassResponse {
			t.Errorf("error = %v, want response class", err)
		}
	})
}

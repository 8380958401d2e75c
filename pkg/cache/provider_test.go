package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/pixstory/internal/testutil"
	"github.com/Sternrassler/pixstory/pkg/provider"
)

type memoryStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet error
	sets    int
}

func (m *memoryStore) GetJSON(_ context.Context, key Key, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return m.failGet
	}
	data, ok := m.data[key.String()]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(data, v)
}

func (m *memoryStore) SetJSON(_ context.Context, key Key, v any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key.String()] = data
	m.sets++
	return nil
}

var testAuth = provider.Auth{Identity: "u1", APIKey: "k"}

func TestWrapProvider_Disabled(t *testing.T) {
	fake := &testutil.FakeProvider{}

	if got := WrapProvider(fake, &memoryStore{}, ProviderOptions{}); got != provider.Provider(fake) {
		t.Error("zero TTL should return the backend unchanged")
	}
	if got := WrapProvider(fake, nil, ProviderOptions{TTL: time.Minute}); got != provider.Provider(fake) {
		t.Error("nil store should return the backend unchanged")
	}
}

func TestProvider_CaptionCached(t *testing.T) {
	fake := &testutil.FakeProvider{}
	p := WrapProvider(fake, &memoryStore{}, ProviderOptions{Model: "m", TTL: time.Minute})
	img := provider.ImageFromBytes("image/png", []byte("png-bytes"))
	ctx := context.Background()

	first, err := p.Caption(ctx, testAuth, img)
	if err != nil {
		t.Fatalf("Caption() error = %v", err)
	}
	second, err := p.Caption(ctx, testAuth, img)
	if err != nil {
		t.Fatalf("Caption() error = %v", err)
	}

	if first != second {
		t.Errorf("cached caption = %q, want %q", second, first)
	}
	if got := fake.Calls(provider.OpCaption); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestProvider_IllustrateCached(t *testing.T) {
	fake := &testutil.FakeProvider{}
	p := WrapProvider(fake, &memoryStore{}, ProviderOptions{Model: "m", TTL: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ill, err := p.Illustrate(ctx, testAuth, "cooking")
		if err != nil {
			t.Fatalf("Illustrate() error = %v", err)
		}
		if ill.RevisedPrompt != "scene: cooking" {
			t.Errorf("RevisedPrompt = %q", ill.RevisedPrompt)
		}
	}

	if got := fake.Calls(provider.OpIllustrate); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestProvider_ErrorsNotCached(t *testing.T) {
	fail := true
	fake := &testutil.FakeProvider{FailOn: func(op, input string) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	}}
	store := &memoryStore{}
	p := WrapProvider(fake, store, ProviderOptions{TTL: time.Minute})

	if _, err := p.Illustrate(context.Background(), testAuth, "x"); err == nil {
		t.Fatal("expected error")
	}
	if store.sets != 0 {
		t.Errorf("sets = %d, want 0", store.sets)
	}

	fail = false
	if _, err := p.Illustrate(context.Background(), testAuth, "x"); err != nil {
		t.Fatalf("Illustrate() error = %v", err)
	}
	if got := fake.Calls(provider.OpIllustrate); got != 2 {
		t.Errorf("backend calls = %d, want 2", got)
	}
}

func TestProvider_ReadFailureFallsThrough(t *testing.T) {
	fake := &testutil.FakeProvider{}
	p := WrapProvider(fake, &memoryStore{failGet: errors.New("redis down")}, ProviderOptions{TTL: time.Minute})

	if _, err := p.Illustrate(context.Background(), testAuth, "x"); err != nil {
		t.Fatalf("Illustrate() error = %v", err)
	}
	if got := fake.Calls(provider.OpIllustrate); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestProvider_SynthesisPassesThrough(t *testing.T) {
	fake := &testutil.FakeProvider{}
	p := WrapProvider(fake, &memoryStore{}, ProviderOptions{TTL: time.Minute})

	for i := 0; i < 2; i++ {
		if _, err := p.WriteNovel(context.Background(), testAuth, []string{"a"}, provider.NovelMeta{CharacterName: "A", Genre: "fantasy"}); err != nil {
			t.Fatalf("WriteNovel() error = %v", err)
		}
	}
	if got := fake.Calls(provider.OpNovel); got != 2 {
		t.Errorf("backend calls = %d, want 2", got)
	}
}

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pixstory/pkg/provider"
)

// Store is the subset of Manager used by the provider decorator.
type Store interface {
	GetJSON(ctx context.Context, key Key, v any) error
	SetJSON(ctx context.Context, key Key, v any, ttl time.Duration) error
}

var _ Store = (*Manager)(nil)

// ProviderOptions configures WrapProvider.
type ProviderOptions struct {
	// Model is mixed into every key so switching models invalidates results.
	Model string

	// TTL is how long results are kept. Zero disables caching.
	TTL time.Duration
}

// Provider caches per-item results of another provider.
type Provider struct {
	provider.Provider
	store  Store
	opts   ProviderOptions
	logger zerolog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// WrapProvider returns next unchanged when caching is disabled.
func WrapProvider(next provider.Provider, store Store, opts ProviderOptions) provider.Provider {
	if store == nil || opts.TTL <= 0 {
		return next
	}
	return &Provider{
		Provider: next,
		store:    store,
		opts:     opts,
		logger:   log.With().Str("component", "cache").Logger(),
	}
}

// Caption returns a cached caption for identical image bytes.
func (p *Provider) Caption(ctx context.Context, auth provider.Auth, img provider.Image) (string, error) {
	key := NewKey(provider.OpCaption, p.opts.Model, auth.Identity, []byte(img.DataURL))
	var caption string
	if p.lookup(ctx, key, &caption) {
		return caption, nil
	}

	caption, err := p.Provider.Caption(ctx, auth, img)
	if err != nil {
		return "", err
	}
	p.save(ctx, key, caption)
	return caption, nil
}

// Illustrate returns a cached illustration for an identical prompt.
func (p *Provider) Illustrate(ctx context.Context, auth provider.Auth, prompt string) (provider.Illustration, error) {
	key := NewKey(provider.OpIllustrate, p.opts.Model, auth.Identity, []byte(prompt))
	var ill provider.Illustration
	if p.lookup(ctx, key, &ill) {
		return ill, nil
	}

	ill, err := p.Provider.Illustrate(ctx, auth, prompt)
	if err != nil {
		return provider.Illustration{}, err
	}
	p.save(ctx, key, ill)
	return ill, nil
}

func (p *Provider) lookup(ctx context.Context, key Key, v any) bool {
	err := p.store.GetJSON(ctx, key, v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrCacheMiss):
		return false
	default:
		p.logger.Warn().Err(err).Str("operation", key.Operation).Msg("Cache read failed")
		return false
	}
}

func (p *Provider) save(ctx context.Context, key Key, v any) {
	if err := p.store.SetJSON(ctx, key, v, p.opts.TTL); err != nil {
		p.logger.Warn().Err(err).Str("operation", key.Operation).Msg("Cache write failed")
	}
}

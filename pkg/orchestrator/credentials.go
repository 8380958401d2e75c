package orchestrator

import (
	"os"

	"github.com/Sternrassler/pixstory/pkg/provider"
)

// Credentials supplies the caller identity and the provider key for a run.
type Credentials interface {
	Identity() string
	ProviderKey() string
}

// StaticCredentials is a fixed identity and key.
type StaticCredentials struct {
	ID  string
	Key string
}

// Identity implements Credentials.
func (c StaticCredentials) Identity() string { return c.ID }

// ProviderKey implements Credentials.
func (c StaticCredentials) ProviderKey() string { return c.Key }

// EnvCredentials reads identity and key from environment variables each
// time they are asked for.
type EnvCredentials struct {
	IdentityVar string
	KeyVar      string
}

// Identity implements Credentials.
func (c EnvCredentials) Identity() string { return os.Getenv(c.IdentityVar) }

// ProviderKey implements Credentials.
func (c EnvCredentials) ProviderKey() string { return os.Getenv(c.KeyVar) }

// Resolve turns credentials into provider auth. It fails with
// KindInvalidRequest when either part is missing.
func Resolve(creds Credentials) (provider.Auth, error) {
	if creds == nil {
		return provider.Auth{}, InvalidRequest("no credential source")
	}
	auth := provider.Auth{Identity: creds.Identity(), APIKey: creds.ProviderKey()}
	if !auth.Valid() {
		switch {
		case auth.Identity == "":
			return provider.Auth{}, InvalidRequest("missing caller identity")
		default:
			return provider.Auth{}, InvalidRequest("missing provider key")
		}
	}
	return auth, nil
}

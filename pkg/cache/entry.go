package cache

import (
	"encoding/json"
	"time"
)

// Entry is the stored form of one provider result.
type Entry struct {
	Operation string          `json:"op"`
	Model     string          `json:"model,omitempty"`
	Value     json.RawMessage `json:"value"`
	StoredAt  time.Time       `json:"stored_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func newEntry(key Key, value json.RawMessage, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Operation: key.Operation,
		Model:     key.Model,
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// Fresh reports whether the entry may still be served at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Age is how long ago the entry was written.
func (e Entry) Age(now time.Time) time.Duration {
	if now.Before(e.StoredAt) {
		return 0
	}
	return now.Sub(e.StoredAt)
}

// written reports whether the entry was produced for key's operation and model.
func (e Entry) written(key Key) bool {
	return e.Operation == key.Operation && e.Model == key.Model
}

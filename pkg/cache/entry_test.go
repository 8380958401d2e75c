package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEntry_Fresh(t *testing.T) {
	stored := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := newEntry(Key{Operation: "caption"}, json.RawMessage(`"x"`), stored, time.Hour)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"just written", stored, true},
		{"half way", stored.Add(30 * time.Minute), true},
		{"at expiry", stored.Add(time.Hour), false},
		{"long gone", stored.Add(48 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entry.Fresh(tt.at); got != tt.want {
				t.Errorf("Fresh(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestEntry_Age(t *testing.T) {
	stored := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := newEntry(Key{Operation: "illustrate"}, nil, stored, time.Minute)

	if got := entry.Age(stored.Add(90 * time.Second)); got != 90*time.Second {
		t.Errorf("Age = %v, want 1m30s", got)
	}
	if got := entry.Age(stored.Add(-time.Second)); got != 0 {
		t.Errorf("Age before StoredAt = %v, want 0", got)
	}
}

func TestEntry_Written(t *testing.T) {
	key := Key{Operation: "caption", Model: "gpt-4o-mini"}
	entry := newEntry(key, nil, time.Now(), time.Minute)

	tests := []struct {
		name string
		key  Key
		want bool
	}{
		{"same key", key, true},
		{"other model", Key{Operation: "caption", Model: "dall-e-3"}, false},
		{"other operation", Key{Operation: "illustrate", Model: "gpt-4o-mini"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entry.written(tt.key); got != tt.want {
				t.Errorf("written = %v, want %v", got, tt.want)
			}
		})
	}
}

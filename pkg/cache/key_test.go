package cache

import (
	"strings"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "all fields",
			key:  Key{Operation: "caption", Model: "gpt-4o-mini", Digest: "abc", Identity: "u1"},
			want: "pixstory:cache:caption:gpt-4o-mini:user=u1:abc",
		},
		{
			name: "no model",
			key:  Key{Operation: "illustrate", Digest: "abc", Identity: "u1"},
			want: "pixstory:cache:illustrate:user=u1:abc",
		},
		{
			name: "no identity",
			key:  Key{Operation: "caption", Model: "m", Digest: "abc"},
			want: "pixstory:cache:caption:m:abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewKey(t *testing.T) {
	a := NewKey("caption", "m", "u1", []byte("image-a"))
	b := NewKey("caption", "m", "u1", []byte("image-a"))
	c := NewKey("caption", "m", "u1", []byte("image-b"))
	d := NewKey("caption", "m", "u2", []byte("image-a"))

	if a.String() != b.String() {
		t.Errorf("same input produced different keys: %s vs %s", a, b)
	}
	if a.String() == c.String() {
		t.Error("different inputs produced the same key")
	}
	if a.String() == d.String() {
		t.Error("different identities produced the same key")
	}
	if len(a.Digest) != 64 {
		t.Errorf("digest length = %d, want 64", len(a.Digest))
	}
	if !strings.HasPrefix(a.String(), KeyPrefix+":") {
		t.Errorf("key %q missing prefix", a)
	}
}

package identity

import (
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEnsureIdentity(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		keep      bool
	}{
		{name: "short token", candidate: "v1", keep: true},
		{name: "uuid", candidate: "3f2504e0-4f89-41d3-9a0c-0305e82c3301", keep: true},
		{name: "base36 session id", candidate: "k2j4h5l6m7n8p9q1700000000000", keep: true},
		{name: "underscore and dash", candidate: "a_b-c", keep: true},
		{name: "empty", candidate: "", keep: false},
		{name: "slash", candidate: "a/b", keep: false},
		{name: "dot segment", candidate: "..", keep: false},
		{name: "space", candidate: "a b", keep: false},
		{name: "query chars", candidate: "a?b=c", keep: false},
		{name: "leading dash", candidate: "-abc", keep: false},
		{name: "max length", candidate: strings.Repeat("a", MaxLength), keep: true},
		{name: "too long", candidate: strings.Repeat("a", MaxLength+1), keep: false},
		{name: "unicode", candidate: "visitör", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnsureIdentity(tt.candidate)
			if tt.keep {
				assert.Equal(t, tt.candidate, got)
				return
			}
			assert.NotEqual(t, tt.candidate, got)
			_, err := uuid.Parse(got)
			assert.NoError(t, err, "minted id should be a uuid")
		})
	}
}

func TestEnsureIdentityNormalisesUUID(t *testing.T) {
	got := EnsureIdentity("3F2504E0-4F89-41D3-9A0C-0305E82C3301")
	assert.Equal(t, "3f2504e0-4f89-41d3-9a0c-0305e82c3301", got)
}

func TestEnsureIdentityIsPathSafe(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := EnsureIdentity("")
		assert.Equal(t, id, url.PathEscape(id))
		assert.True(t, Valid(id))
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

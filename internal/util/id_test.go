package util

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("prop")
	assert.True(t, strings.HasPrefix(id, "prop_"))
	assert.Len(t, id, len("prop_")+32)
	assert.Len(t, NewID(""), 32)
}

func TestNewShareTokenAlphabet(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		token := NewShareToken()
		require.Len(t, token, ShareTokenLength)
		for _, r := range token {
			assert.Contains(t, shareTokenAlphabet, string(r))
		}
		seen[token] = struct{}{}
	}
	assert.Greater(t, len(seen), 45)
}

func TestNewBlockUIDIsUUID(t *testing.T) {
	_, err := uuid.Parse(NewBlockUID())
	require.NoError(t, err)
}

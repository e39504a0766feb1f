package pandu

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "gsk_ab...wxyz", MaskKey("gsk_abcdefgh1234wxyz"))
	assert.Equal(t, "***", MaskKey("short"))
	assert.Equal(t, "***", MaskKey(""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "héll", truncate("héllo", 4))
	assert.Equal(t, "", truncate("", 5))
}

func TestLastN(t *testing.T) {
	s := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{4, 5}, lastN(s, 2))
	assert.Equal(t, s, lastN(s, 5))
	assert.Equal(t, s, lastN(s, 10))
	assert.Nil(t, lastN(s, 0))
	assert.Nil(t, lastN(s, -1))
}

func TestStructToSlogValueRedaction(t *testing.T) {
	lvl := &slog.LevelVar{}
	config := &AIConfig{
		Provider:   "groq",
		GroqAPIKey: "gsk_super_secret_key",
		LogLevel:   lvl,
	}

	v := structToSlogValue(config)
	require.Equal(t, slog.KindGroup, v.Kind())

	attrs := map[string]string{}
	for _, attr := range v.Group() {
		attrs[attr.Key] = attr.Value.String()
	}

	assert.Equal(t, "groq", attrs["provider"])
	assert.Equal(t, "[redacted]", attrs["groq_api_key"])
	assert.NotContains(t, attrs["groq_api_key"], "secret")
}

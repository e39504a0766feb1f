package pandu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	// default config has no discord token
	cfg := DefaultConfig()
	cfg.Redis.URL = "redis://localhost:6379"
	_, err = New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Token")

	cfg.DatabaseType = "oracle"
	cfg.Discord.Token = "test-token"
	_, err = New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DatabaseType")
}

func TestNewWiresComponents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redis.URL = "redis://localhost:6379"
	cfg.Discord.Token = "test-token"
	cfg.API.Listen = "127.0.0.1:0"

	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.api.listener.Close()
	})

	assert.NotNil(t, p.store)
	assert.NotNil(t, p.keyPool)
	assert.NotNil(t, p.invoker)
	assert.NotNil(t, p.conversations)
	assert.NotNil(t, p.discord)
	assert.NotNil(t, p.api)

	// nothing is connected until Run
	assert.False(t, p.keyPool.Connected())
}

package pandu

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultDatabaseType, cfg.DatabaseType)
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel.Level())
	assert.Equal(t, DefaultStartupTimeout, cfg.StartupTimeout)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)

	require.NotNil(t, cfg.Redis)
	assert.Equal(t, DefaultRedisPoolSize, cfg.Redis.PoolSize)
	assert.Equal(t, DefaultRedisTimeout, cfg.Redis.Timeout)

	require.NotNil(t, cfg.AI)
	assert.Equal(t, "groq", cfg.AI.Provider)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.AI.Model)
	assert.Equal(t, time.Minute, cfg.AI.RotateCooldown)
	assert.Equal(t, DefaultAIHistoryLimit, cfg.AI.HistoryLimit)
	assert.NotEmpty(t, cfg.AI.SystemPrompt)

	require.NotNil(t, cfg.Discord)
	assert.Equal(t, ".", cfg.Discord.CommandPrefix)
	assert.Equal(t, slog.LevelWarn, cfg.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, cfg.Discord.DiscordGoLogLevel.Level())

	require.NotNil(t, cfg.API)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.Equal(t, "tcp", cfg.API.ListenNetwork)
	assert.NotEmpty(t, cfg.API.CORS.AllowMethods)
}

func TestDefaultFallbacks(t *testing.T) {
	fallbacks := DefaultFallbacks()
	require.Len(t, fallbacks, 1)
	assert.Equal(t, "pollinations_free", fallbacks[0].Provider)
	assert.Equal(t, "openai", fallbacks[0].Model)
}

func TestDefaultCORSConfigIsACopy(t *testing.T) {
	cors := DefaultCORSConfig()
	require.NotEmpty(t, cors.AllowMethods)
	cors.AllowMethods[0] = "TRACE"
	assert.NotEqual(t, "TRACE", DefaultCORSAllowMethods[0])
}

func TestProviderCatalog(t *testing.T) {
	assert.Equal(t, "Groq", providerDisplayName("groq"))
	assert.Equal(t, "Pollinations (Free)", providerDisplayName("pollinations_free"))
	assert.Equal(t, "mystery", providerDisplayName("mystery"))

	assert.NotEmpty(t, providerModels("groq"))
	assert.Empty(t, providerModels("mystery"))

	info := modelInfo("groq", "llama-3.3-70b-versatile")
	assert.Equal(t, "Llama 3.3 70B Versatile", info.Name)

	info = modelInfo("groq", "no-such-model")
	assert.Equal(t, "no-such-model", info.Name)
	assert.Equal(t, "unknown", info.Version)

	// free tier never requires a key; everything else does
	for name, provider := range aiProviders {
		if name == ProviderPollinationsFree {
			assert.False(t, provider.RequiresKey)
		} else {
			assert.True(t, provider.RequiresKey, name)
		}
	}
}

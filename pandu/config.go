//nolint:lll // struct tags can't be split
package pandu

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix = "PANDU_ENV_PREFIX"
	DefaultEnvPrefix   = "PANDU"

	DefaultDatabaseType          = "sqlite"
	DefaultDatabase              = "pandu.sqlite3"
	DefaultLogLevel              = slog.LevelInfo
	DefaultStartupTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 60 * time.Second
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultRedisKeyPrefix = ""
	DefaultRedisPoolSize  = 10
	DefaultRedisTimeout   = 5 * time.Second
	DefaultRedisLogLevel  = slog.LevelInfo

	DefaultAIProvider             = "groq"
	DefaultAIModel                = "llama-3.3-70b-versatile"
	DefaultAIRequestTimeout       = 60 * time.Second
	DefaultAIMaxRequestsPerSecond = 2
	DefaultAIHistoryLimit         = 10
	DefaultAIMaxTokens            = 1000
	DefaultAITemperature          = 0.7
	DefaultRotateCooldown         = time.Minute
	DefaultAILogLevel             = slog.LevelInfo

	DefaultFallbackProvider = "pollinations_free"
	DefaultFallbackModel    = "openai"

	DefaultCommandPrefix         = "."
	DefaultDiscordErrorMessage   = "sorry, something went wrong!"
	DefaultDiscordStartupMessage = "I'm here!"
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	discordMaxMessageLength      = 2000

	DefaultAPIListen         = "0.0.0.0:3000"
	defaultListenNetwork     = "tcp"
	DefaultAPILogLevel       = slog.LevelInfo
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second
	DefaultCORSMaxAge        = 12 * time.Hour

	// DefaultConversationLimit caps the per-channel history retained between
	// requests. The invoker trims further before each outbound call.
	DefaultConversationLimit = 20
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"Cache-Control",
	}
)

type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Redis configures the credential/model store
	Redis *RedisConfig `yaml:"redis" mapstructure:"redis" json:"redis"`

	// AI holds provider selection, env-fallback keys and request tuning
	AI *AIConfig `yaml:"ai" mapstructure:"ai" json:"ai"`

	// API configures the health/status HTTP server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// RedisConfig configures the connection to the Redis instance that holds
// per-provider credential and model lists.
type RedisConfig struct {
	// Redis connection URL (redis://[:password@]host:port[/db])
	URL string `yaml:"url" mapstructure:"url" json:"url" log:"[redacted]"`

	// Prefix prepended to every key written by the bot
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix" json:"key_prefix"`

	// Connection pool size
	PoolSize int `yaml:"pool_size" mapstructure:"pool_size" json:"pool_size"`

	// Read/write/pool timeout for store operations
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// AIConfig configures provider selection and the env-fallback credentials
// used when a provider's managed key pool is empty.
type AIConfig struct {
	// Default provider for guilds without stored settings
	Provider string `yaml:"provider" mapstructure:"provider" json:"provider"`

	// Default model ID for the default provider
	Model string `yaml:"model" mapstructure:"model" json:"model"`

	// System prompt prepended to every request
	SystemPrompt string `yaml:"system_prompt" mapstructure:"system_prompt" json:"system_prompt"`

	GroqAPIKey         string `yaml:"groq_api_key" mapstructure:"groq_api_key" json:"groq_api_key" log:"[redacted]"`
	OpenRouterAPIKey   string `yaml:"openrouter_api_key" mapstructure:"openrouter_api_key" json:"openrouter_api_key" log:"[redacted]"`
	HuggingFaceAPIKey  string `yaml:"huggingface_api_key" mapstructure:"huggingface_api_key" json:"huggingface_api_key" log:"[redacted]"`
	PollinationsAPIKey string `yaml:"pollinations_api_key" mapstructure:"pollinations_api_key" json:"pollinations_api_key" log:"[redacted]"`
	ElevenLabsAPIKey   string `yaml:"elevenlabs_api_key" mapstructure:"elevenlabs_api_key" json:"elevenlabs_api_key" log:"[redacted]"`

	// Timeout for each outbound provider call
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=1s"`

	// Cooldown applied to a key when its provider rate-limits it
	RotateCooldown time.Duration `yaml:"rotate_cooldown" mapstructure:"rotate_cooldown" json:"rotate_cooldown" binding:"min=1s"`

	// Outbound request pacing across all providers
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"min=1"`

	// Number of prior messages included in each outbound request
	HistoryLimit int `yaml:"history_limit" mapstructure:"history_limit" json:"history_limit" binding:"min=0"`

	// Ordered list of providers tried when the configured one fails
	Fallbacks []FallbackTarget `yaml:"fallbacks" mapstructure:"fallbacks" json:"fallbacks"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// FallbackTarget is one rung of the cross-provider fallback ladder.
type FallbackTarget struct {
	Provider string `yaml:"provider" mapstructure:"provider" json:"provider" binding:"required"`
	Model    string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Prefix for text commands (e.g. ".ask")
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix"`

	// User IDs permitted to run credential/model admin commands
	AdminIDs []string `yaml:"admin_ids" mapstructure:"admin_ids" json:"admin_ids"`

	// If set, the bot sends StartupMessage to this channel on connect
	NotificationChannelID string `yaml:"notification_channel_id" mapstructure:"notification_channel_id" json:"notification_channel_id"`

	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	httpClient *http.Client
}

// APIConfig configures the health/status HTTP server. On platforms like
// Render the health endpoint doubles as the keep-alive target.
type APIConfig struct {
	// The address and port on which the server should listen
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"hostname_port"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix")
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"oneof=tcp tcp4 tcp6 unix"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"min=1s"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"min=1s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"min=1s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"min=1s"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	MaxAge       time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	return CORSConfig{
		AllowOrigins: []string{},
		AllowMethods: defaultMethods,
		AllowHeaders: defaultHeaders,
		MaxAge:       DefaultCORSMaxAge,
	}
}

// DefaultFallbacks returns the default cross-provider fallback ladder.
// Pollinations' free tier needs no credential, so it terminates the ladder.
func DefaultFallbacks() []FallbackTarget {
	return []FallbackTarget{
		{Provider: DefaultFallbackProvider, Model: DefaultFallbackModel},
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	aiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}
	redisLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	aiLogLevel.Set(DefaultAILogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)
	redisLogLevel.Set(DefaultRedisLogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Redis: &RedisConfig{
			KeyPrefix: DefaultRedisKeyPrefix,
			PoolSize:  DefaultRedisPoolSize,
			Timeout:   DefaultRedisTimeout,
			LogLevel:  redisLogLevel,
		},
		AI: &AIConfig{
			Provider:             DefaultAIProvider,
			Model:                DefaultAIModel,
			SystemPrompt:         DefaultSystemPrompt,
			RequestTimeout:       DefaultAIRequestTimeout,
			RotateCooldown:       DefaultRotateCooldown,
			MaxRequestsPerSecond: DefaultAIMaxRequestsPerSecond,
			HistoryLimit:         DefaultAIHistoryLimit,
			Fallbacks:            DefaultFallbacks(),
			LogLevel:             aiLogLevel,
		},
		Discord: &DiscordConfig{
			CommandPrefix:     DefaultCommandPrefix,
			StartupMessage:    DefaultDiscordStartupMessage,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}

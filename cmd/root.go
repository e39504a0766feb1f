package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/dctoing3-dot/pandu/pandu"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = pandu.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "pandu [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(","),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", pandu.DefaultDatabase)
	viper.SetDefault("database_type", pandu.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		pandu.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		pandu.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", pandu.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", pandu.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", pandu.DefaultShutdownTimeout)

	// Redis config
	viper.SetDefault("redis.url", "redis://localhost:6379")
	viper.SetDefault("redis.key_prefix", pandu.DefaultRedisKeyPrefix)
	viper.SetDefault("redis.pool_size", pandu.DefaultRedisPoolSize)
	viper.SetDefault("redis.timeout", pandu.DefaultRedisTimeout)
	viper.SetDefault("redis.log_level", pandu.DefaultRedisLogLevel.String())

	// AI config
	viper.SetDefault("ai.provider", pandu.DefaultAIProvider)
	viper.SetDefault("ai.model", pandu.DefaultAIModel)
	viper.SetDefault("ai.system_prompt", pandu.DefaultSystemPrompt)
	viper.SetDefault("ai.groq_api_key", "")
	viper.SetDefault("ai.openrouter_api_key", "")
	viper.SetDefault("ai.huggingface_api_key", "")
	viper.SetDefault("ai.pollinations_api_key", "")
	viper.SetDefault("ai.elevenlabs_api_key", "")
	viper.SetDefault("ai.request_timeout", pandu.DefaultAIRequestTimeout)
	viper.SetDefault("ai.rotate_cooldown", pandu.DefaultRotateCooldown)
	viper.SetDefault(
		"ai.max_requests_per_second",
		pandu.DefaultAIMaxRequestsPerSecond,
	)
	viper.SetDefault("ai.history_limit", pandu.DefaultAIHistoryLimit)
	viper.SetDefault("ai.log_level", pandu.DefaultAILogLevel.String())

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.command_prefix", pandu.DefaultCommandPrefix)
	viper.SetDefault("discord.admin_ids", []string{})
	viper.SetDefault("discord.notification_channel_id", "")
	viper.SetDefault(
		"discord.startup_message",
		pandu.DefaultDiscordStartupMessage,
	)
	viper.SetDefault(
		"discord.log_level",
		pandu.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		pandu.DefaultDiscordgoLogLevel.String(),
	)

	// API config
	viper.SetDefault("api.listen", pandu.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", pandu.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", pandu.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		pandu.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", pandu.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", pandu.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		pandu.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		pandu.DefaultCORSAllowMethods,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", pandu.DefaultCORSMaxAge)

	envPrefix := os.Getenv(pandu.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = pandu.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"discord.admin_ids",
		viper.GetStringSlice("discord.admin_ids"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"redis.log_level",
		"ai.log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}

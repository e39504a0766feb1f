package pandu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var structValidator = validator.New()

//nolint:gochecknoinits
func init() {
	structValidator.SetTagName("binding")
}

// Pandu is the top-level bot: discord gateway, AI invoker, key pool, guild
// settings and the status HTTP server, wired together from one Config.
type Pandu struct {
	config *Config
	logger *slog.Logger

	db            *gorm.DB
	store         *Store
	keyPool       *KeyPool
	settings      *SettingsStore
	conversations *conversationStore
	invoker       *Invoker
	discord       *Discord
	api           *API

	startedAt time.Time
}

// New creates a Pandu instance from the given configuration. Nothing is
// connected yet; Run establishes all connections.
func New(config *Config) (*Pandu, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if err := structValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Pandu{
		config: config,
		logger: newLogger("pandu", config.LogLevel),
	}

	store, err := NewStore(config.Redis)
	if err != nil {
		return nil, err
	}
	p.store = store
	p.keyPool = NewKeyPool(
		store,
		newLogger("keypool", config.Redis.LogLevel),
		config.HTTPClient,
	)
	p.invoker = NewInvoker(p.keyPool, config.AI, config.HTTPClient)
	p.conversations = newConversationStore(DefaultConversationLimit)

	config.Discord.httpClient = config.HTTPClient

	p.discord, err = newDiscord(p, config.Discord)
	if err != nil {
		return nil, err
	}
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	p.api, err = newAPI(p, config.API)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Run starts the bot and blocks until ctx is canceled, then shuts down
// within the configured shutdown timeout. Redis being down at startup is
// not fatal: the key pool degrades to env-configured credentials until the
// store comes back.
func (p *Pandu) Run(ctx context.Context) error {
	startupCtx, startupCancel := context.WithTimeout(ctx, p.config.StartupTimeout)
	defer startupCancel()

	p.startedAt = time.Now()
	p.logger.LogAttrs(
		ctx,
		slog.LevelInfo,
		"starting",
		slog.Any("config", p.config),
	)

	db, err := openDatabase(
		p.config,
		newLogger("db", p.config.DatabaseLogLevel).Handler(),
	)
	if err != nil {
		return err
	}
	p.db = db
	p.settings = newSettingsStore(db, p.config.AI, p.logger)

	if err := p.store.Connect(startupCtx); err != nil {
		p.logger.Warn(
			"credential store unavailable, using env fallback keys",
			tint.Err(err),
		)
	}

	if err := p.discord.open(); err != nil {
		return err
	}

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- p.api.serve()
	}()

	select {
	case err := <-apiErr:
		p.shutdown()
		return fmt.Errorf("api server exited: %w", err)
	case <-ctx.Done():
		p.logger.Info("shutting down")
		p.shutdown()
		return nil
	}
}

func (p *Pandu) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		p.config.ShutdownTimeout,
	)
	defer cancel()

	if err := p.discord.close(); err != nil {
		p.logger.Warn("error closing discord session", tint.Err(err))
	}
	if err := p.api.httpServer.Shutdown(shutdownCtx); err != nil {
		p.logger.Warn("error shutting down api server", tint.Err(err))
	}
	if err := p.store.Close(); err != nil {
		p.logger.Warn("error closing store", tint.Err(err))
	}
	if p.db != nil {
		if sqlDB, err := p.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				p.logger.Warn("error closing database", tint.Err(err))
			}
		}
	}
	p.logger.Info("shutdown complete")
}

package pandu

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// GuildSettings is the per-guild bot configuration: which provider/model to
// use and the system prompt sent with every request.
type GuildSettings struct {
	GuildID      string `gorm:"primaryKey" json:"guild_id"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ConversationLog is a write-only audit record of one completed exchange.
type ConversationLog struct {
	ID        uint   `gorm:"primarykey"`
	GuildID   string `gorm:"index"`
	ChannelID string `gorm:"index"`
	UserID    string `gorm:"index"`
	Prompt    string
	Response  string
	Provider  string
	Model     string
	LatencyMs int64
	CreatedAt time.Time
}

// openDatabase opens the configured sqlite or postgres database and runs
// migrations for the bot's models.
func openDatabase(config *Config, logHandler slog.Handler) (*gorm.DB, error) {
	gormLogger := newGORMLogger(logHandler, config.DatabaseSlowThreshold)

	var dialector gorm.Dialector
	switch config.DatabaseType {
	case "sqlite":
		dialector = sqlite.Open(config.Database)
	case "postgres":
		dialector = postgres.Open(config.Database)
	default:
		return nil, fmt.Errorf("unknown database type: %s", config.DatabaseType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.AutoMigrate(&GuildSettings{}, &ConversationLog{}); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}

// logConversation records a completed exchange. Failures are logged and
// swallowed - auditing never blocks a reply.
func logConversation(db *gorm.DB, logger *slog.Logger, rec *ConversationLog) {
	if db == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.Create(rec).Error; err != nil {
		logger.Warn("failed to log conversation", tint.Err(err))
	}
}

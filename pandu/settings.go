package pandu

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// SettingsStore caches per-guild settings on top of the database. The cache
// is write-through; entries are loaded lazily on first access.
type SettingsStore struct {
	db       *gorm.DB
	logger   *slog.Logger
	defaults GuildSettings

	mu    sync.RWMutex
	cache map[string]GuildSettings
}

func newSettingsStore(db *gorm.DB, config *AIConfig, logger *slog.Logger) *SettingsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsStore{
		db:     db,
		logger: logger,
		defaults: GuildSettings{
			Provider:     config.Provider,
			Model:        config.Model,
			SystemPrompt: config.SystemPrompt,
		},
		cache: map[string]GuildSettings{},
	}
}

// Get returns the guild's settings, falling back to configured defaults for
// guilds that never customized anything.
func (s *SettingsStore) Get(guildID string) GuildSettings {
	s.mu.RLock()
	settings, ok := s.cache[guildID]
	s.mu.RUnlock()
	if ok {
		return settings
	}

	settings = s.defaults
	settings.GuildID = guildID

	if s.db != nil {
		var stored GuildSettings
		err := s.db.First(&stored, "guild_id = ?", guildID).Error
		switch {
		case err == nil:
			settings = stored
		case !errors.Is(err, gorm.ErrRecordNotFound):
			s.logger.Warn("failed to load guild settings", "guild_id", guildID, tint.Err(err))
		}
	}

	s.mu.Lock()
	s.cache[guildID] = settings
	s.mu.Unlock()
	return settings
}

// Update mutates one guild's settings through fn and persists the result.
func (s *SettingsStore) Update(guildID string, fn func(*GuildSettings)) GuildSettings {
	settings := s.Get(guildID)
	fn(&settings)
	settings.GuildID = guildID

	if s.db != nil {
		if err := s.db.Save(&settings).Error; err != nil {
			s.logger.Warn("failed to save guild settings", "guild_id", guildID, tint.Err(err))
		}
	}

	s.mu.Lock()
	s.cache[guildID] = settings
	s.mu.Unlock()
	return settings
}

// conversationStore keeps rolling per-channel history in memory, capped at
// limit messages. History is advisory context for the AI, not durable state;
// the durable audit trail lives in ConversationLog.
type conversationStore struct {
	mu        sync.Mutex
	byChannel map[string][]ChatMessage
	limit     int
}

func newConversationStore(limit int) *conversationStore {
	if limit <= 0 {
		limit = DefaultConversationLimit
	}
	return &conversationStore{
		byChannel: map[string][]ChatMessage{},
		limit:     limit,
	}
}

// History returns a copy of the channel's retained messages.
func (c *conversationStore) History(channelID string) []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := c.byChannel[channelID]
	out := make([]ChatMessage, len(history))
	copy(out, history)
	return out
}

// Append records one user/assistant exchange, trimming to the cap.
func (c *conversationStore) Append(channelID string, messages ...ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := append(c.byChannel[channelID], messages...)
	if len(history) > c.limit {
		history = history[len(history)-c.limit:]
	}
	c.byChannel[channelID] = history
}

// Clear drops the channel's history.
func (c *conversationStore) Clear(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byChannel, channelID)
}

package pandu

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t testing.TB) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "pandu_test.sqlite3")
	db, err := gorm.Open(
		sqlite.Open(dbPath),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&GuildSettings{}, &ConversationLog{}))
	return db
}

func testAIConfig() *AIConfig {
	return &AIConfig{
		Provider:     DefaultAIProvider,
		Model:        DefaultAIModel,
		SystemPrompt: "be helpful",
	}
}

func TestSettingsDefaults(t *testing.T) {
	store := newSettingsStore(testDB(t), testAIConfig(), nil)

	settings := store.Get("guild-1")
	assert.Equal(t, "guild-1", settings.GuildID)
	assert.Equal(t, DefaultAIProvider, settings.Provider)
	assert.Equal(t, DefaultAIModel, settings.Model)
	assert.Equal(t, "be helpful", settings.SystemPrompt)
}

func TestSettingsUpdatePersists(t *testing.T) {
	db := testDB(t)
	store := newSettingsStore(db, testAIConfig(), nil)

	updated := store.Update("guild-1", func(s *GuildSettings) {
		s.Provider = ProviderOpenRouter
		s.Model = "qwen/qwen3-4b:free"
	})
	assert.Equal(t, ProviderOpenRouter, updated.Provider)

	// a fresh store (cold cache) reads the persisted row
	fresh := newSettingsStore(db, testAIConfig(), nil)
	settings := fresh.Get("guild-1")
	assert.Equal(t, ProviderOpenRouter, settings.Provider)
	assert.Equal(t, "qwen/qwen3-4b:free", settings.Model)

	// other guilds are unaffected
	other := fresh.Get("guild-2")
	assert.Equal(t, DefaultAIProvider, other.Provider)
}

func TestSettingsNilDatabase(t *testing.T) {
	store := newSettingsStore(nil, testAIConfig(), nil)

	settings := store.Get("guild-1")
	assert.Equal(t, DefaultAIProvider, settings.Provider)

	updated := store.Update("guild-1", func(s *GuildSettings) {
		s.Model = "gemma2-9b-it"
	})
	assert.Equal(t, "gemma2-9b-it", updated.Model)
	assert.Equal(t, "gemma2-9b-it", store.Get("guild-1").Model)
}

func TestConversationStore(t *testing.T) {
	store := newConversationStore(4)

	assert.Empty(t, store.History("chan-1"))

	for i := 0; i < 3; i++ {
		store.Append(
			"chan-1",
			ChatMessage{Role: "user", Content: fmt.Sprintf("q%d", i)},
			ChatMessage{Role: "assistant", Content: fmt.Sprintf("a%d", i)},
		)
	}

	history := store.History("chan-1")
	require.Len(t, history, 4)
	assert.Equal(t, "q1", history[0].Content)
	assert.Equal(t, "a2", history[3].Content)

	// channels are independent
	assert.Empty(t, store.History("chan-2"))

	// History returns a copy
	history[0].Content = "mutated"
	assert.Equal(t, "q1", store.History("chan-1")[0].Content)

	store.Clear("chan-1")
	assert.Empty(t, store.History("chan-1"))
}

func TestLogConversation(t *testing.T) {
	db := testDB(t)

	logConversation(db, nil, &ConversationLog{
		GuildID:   "guild-1",
		ChannelID: "chan-1",
		UserID:    "user-1",
		Prompt:    "hi",
		Response:  "hello",
		Provider:  "Groq",
		Model:     "Llama 3.3 70B Versatile",
		LatencyMs: 42,
	})

	var logs []ConversationLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "hi", logs[0].Prompt)
	assert.Equal(t, int64(42), logs[0].LatencyMs)

	// nil db is a no-op
	logConversation(nil, nil, &ConversationLog{})
}

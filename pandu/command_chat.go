package pandu

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	openai "github.com/sashabaranov/go-openai"
)

// handleAsk runs one AI request for the channel: current guild settings,
// rolling channel history, and the invoker's recovery ladder. Terminal
// failures surface as a plain message; users never see stack traces or
// store errors.
func (d *Discord) handleAsk(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		d.reply(m, fmt.Sprintf("Usage: `%sask <question>`", d.config.CommandPrefix))
		return
	}

	if err := d.session.ChannelTyping(m.ChannelID); err != nil {
		d.logger.Debug("error sending typing indicator")
	}

	settings := d.p.settings.Get(m.GuildID)
	history := d.p.conversations.History(m.ChannelID)

	resp, err := d.p.invoker.Invoke(
		ctx,
		settings.Provider,
		settings.Model,
		question,
		history,
		settings.SystemPrompt,
	)
	if err != nil {
		d.reply(m, fmt.Sprintf("%s (%s)", DefaultDiscordErrorMessage, err.Error()))
		return
	}

	d.p.conversations.Append(
		m.ChannelID,
		ChatMessage{Role: openai.ChatMessageRoleUser, Content: question},
		ChatMessage{Role: openai.ChatMessageRoleAssistant, Content: resp.Text},
	)
	logConversation(d.p.db, d.logger, &ConversationLog{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		Prompt:    question,
		Response:  resp.Text,
		Provider:  resp.Provider,
		Model:     resp.Model,
		LatencyMs: resp.Latency.Milliseconds(),
	})

	d.replyEmbed(m, &discordgo.MessageEmbed{
		Color:       embedColor,
		Description: truncate(resp.Text, 4096),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf(
				"%s • %s (%s) • %dms",
				resp.Provider,
				resp.Model,
				resp.Version,
				resp.Latency.Milliseconds(),
			),
		},
	})
}

// handleProvider switches the guild's AI provider, resetting the model to
// the provider's first catalog entry.
func (d *Discord) handleProvider(
	_ context.Context,
	m *discordgo.MessageCreate,
	args []string,
) {
	if len(args) == 0 {
		settings := d.p.settings.Get(m.GuildID)
		d.reply(m, fmt.Sprintf(
			"Current provider: **%s** (model `%s`). Use `%sproviders` to list options.",
			providerDisplayName(settings.Provider),
			settings.Model,
			d.config.CommandPrefix,
		))
		return
	}

	name := strings.ToLower(args[0])
	info, ok := aiProviders[name]
	if !ok {
		names := make([]string, 0, len(aiProviders))
		for key := range aiProviders {
			names = append(names, key)
		}
		d.reply(m, "Unknown provider. Options: "+strings.Join(names, ", "))
		return
	}
	if len(info.Models) == 0 {
		d.reply(m, "Provider has no models configured")
		return
	}

	settings := d.p.settings.Update(m.GuildID, func(s *GuildSettings) {
		s.Provider = name
		s.Model = info.Models[0].ID
	})
	d.reply(m, fmt.Sprintf(
		"Provider set to **%s**, model `%s`",
		info.Name,
		settings.Model,
	))
}

// handleModel switches the guild's model within the current provider,
// validating against the merged (dynamic + built-in) catalog.
func (d *Discord) handleModel(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) {
	settings := d.p.settings.Get(m.GuildID)
	models := d.p.keyPool.MergedModels(ctx, settings.Provider)

	if len(args) == 0 {
		lines := make([]string, 0, len(models))
		for _, mi := range models {
			marker := " "
			if mi.ID == settings.Model {
				marker = "▸"
			}
			lines = append(lines, fmt.Sprintf("%s `%s` — %s (%s)", marker, mi.ID, mi.Name, mi.Version))
		}
		d.replyEmbed(m, &discordgo.MessageEmbed{
			Color:       embedColor,
			Title:       fmt.Sprintf("%s models", providerDisplayName(settings.Provider)),
			Description: truncate(strings.Join(lines, "\n"), 4096),
		})
		return
	}

	modelID := args[0]
	valid := false
	for _, mi := range models {
		if mi.ID == modelID {
			valid = true
			break
		}
	}
	if !valid {
		d.reply(m, fmt.Sprintf("Unknown model `%s` for %s", modelID, providerDisplayName(settings.Provider)))
		return
	}

	d.p.settings.Update(m.GuildID, func(s *GuildSettings) {
		s.Model = modelID
	})
	d.reply(m, fmt.Sprintf("Model set to `%s`", modelID))
}

func (d *Discord) handleProviders(
	_ context.Context,
	m *discordgo.MessageCreate,
	_ []string,
) {
	settings := d.p.settings.Get(m.GuildID)
	lines := make([]string, 0, len(aiProviders))
	for key, info := range aiProviders {
		marker := " "
		if key == settings.Provider {
			marker = "▸"
		}
		keyNote := "no key needed"
		if info.RequiresKey {
			keyNote = "key required"
		}
		lines = append(lines, fmt.Sprintf(
			"%s `%s` — %s (%d models, %s)",
			marker, key, info.Name, len(info.Models), keyNote,
		))
	}
	d.replyEmbed(m, &discordgo.MessageEmbed{
		Color:       embedColor,
		Title:       "AI providers",
		Description: strings.Join(lines, "\n"),
	})
}

func (d *Discord) handleClearHistory(
	_ context.Context,
	m *discordgo.MessageCreate,
	_ []string,
) {
	d.p.conversations.Clear(m.ChannelID)
	d.reply(m, "Conversation history cleared for this channel")
}

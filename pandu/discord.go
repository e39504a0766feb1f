package pandu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const embedColor = 0x5865F2

// Discord manages the gateway session and routes prefix commands to their
// handlers.
type Discord struct {
	session            *discordgo.Session
	config             *DiscordConfig
	logger             *slog.Logger
	connected          atomic.Bool
	removeHandlerFuncs []func()
	p                  *Pandu
}

func newDiscord(p *Pandu, config *DiscordConfig) (*Discord, error) {
	d := &Discord{
		config: config,
		logger: newLogger("discord", config.LogLevel),
		p:      p,
	}

	session, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent
	if config.httpClient != nil {
		session.Client = config.httpClient
	}
	d.session = session

	return d, nil
}

// open connects to the gateway and registers event handlers.
func (d *Discord) open() error {
	d.removeHandlerFuncs = append(
		d.removeHandlerFuncs,
		d.session.AddHandler(d.handleReady),
		d.session.AddHandler(d.handleConnect),
		d.session.AddHandler(d.handleDisconnect),
		d.session.AddHandler(d.handleMessageCreate),
	)
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	return nil
}

func (d *Discord) close() error {
	for _, remove := range d.removeHandlerFuncs {
		remove()
	}
	d.removeHandlerFuncs = nil
	return d.session.Close()
}

func (d *Discord) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.logger.Info("discord ready", "username", r.User.Username)
	if d.config.NotificationChannelID != "" && d.config.StartupMessage != "" {
		_, err := d.session.ChannelMessageSend(
			d.config.NotificationChannelID,
			d.config.StartupMessage,
		)
		if err != nil {
			d.logger.Warn("error sending startup message", tint.Err(err))
		}
	}
}

func (d *Discord) handleConnect(_ *discordgo.Session, _ *discordgo.Connect) {
	d.connected.Store(true)
	d.logger.Info("connected to discord gateway")
}

func (d *Discord) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	d.connected.Store(false)
	d.logger.Warn("disconnected from discord gateway")
}

func (d *Discord) isAdmin(userID string) bool {
	for _, id := range d.config.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// commandHandler handles one prefix command. args excludes the command word.
type commandHandler func(ctx context.Context, m *discordgo.MessageCreate, args []string)

func (d *Discord) handleMessageCreate(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	if m.Author == nil || m.Author.Bot || s.State.User == nil {
		return
	}
	if m.Author.ID == s.State.User.ID {
		return
	}

	content := strings.TrimSpace(m.Content)
	prefix := d.config.CommandPrefix

	// a bare mention works like `.ask`
	mention := "<@" + s.State.User.ID + ">"
	if strings.HasPrefix(content, mention) {
		content = prefix + "ask " + strings.TrimSpace(strings.TrimPrefix(content, mention))
	}
	if !strings.HasPrefix(content, prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]

	handlers := map[string]commandHandler{
		"ask":          d.handleAsk,
		"provider":     d.handleProvider,
		"model":        d.handleModel,
		"providers":    d.handleProviders,
		"clearhistory": d.handleClearHistory,
		"addapi":       d.adminOnly(d.handleAddAPIKey),
		"removeapi":    d.adminOnly(d.handleRemoveAPIKey),
		"listapi":      d.adminOnly(d.handleListAPIKeys),
		"poolstatus":   d.adminOnly(d.handlePoolStatus),
		"addmodel":     d.adminOnly(d.handleAddModel),
		"delmodel":     d.adminOnly(d.handleRemoveModel),
		"togglemodel":  d.adminOnly(d.handleToggleModel),
		"syncmodels":   d.adminOnly(d.handleSyncModels),
	}

	handler, ok := handlers[command]
	if !ok {
		return
	}

	d.logger.Info(
		"handling command",
		"command", command,
		"user_id", m.Author.ID,
		"guild_id", m.GuildID,
		"channel_id", m.ChannelID,
	)
	handler(context.Background(), m, args)
}

// adminOnly gates a handler behind the configured admin allow-list.
func (d *Discord) adminOnly(h commandHandler) commandHandler {
	return func(ctx context.Context, m *discordgo.MessageCreate, args []string) {
		if !d.isAdmin(m.Author.ID) {
			d.reply(m, "Admin only")
			return
		}
		h(ctx, m, args)
	}
}

// send posts to a channel without a reply reference, for cases where the
// invoking message has been deleted.
func (d *Discord) send(channelID string, content string) {
	_, err := d.session.ChannelMessageSend(channelID, truncate(content, discordMaxMessageLength))
	if err != nil {
		d.logger.Warn("error sending message", tint.Err(err))
	}
}

func (d *Discord) reply(m *discordgo.MessageCreate, content string) {
	_, err := d.session.ChannelMessageSendReply(
		m.ChannelID,
		truncate(content, discordMaxMessageLength),
		m.Reference(),
	)
	if err != nil {
		d.logger.Warn("error sending reply", tint.Err(err))
	}
}

func (d *Discord) replyEmbed(m *discordgo.MessageCreate, embed *discordgo.MessageEmbed) {
	_, err := d.session.ChannelMessageSendEmbedReply(m.ChannelID, embed, m.Reference())
	if err != nil {
		d.logger.Warn("error sending embed reply", tint.Err(err))
	}
}

package pandu

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/samber/lo"
)

const minAPIKeyLength = 10

// handleAddAPIKey adds a credential to a provider's pool. The invoking
// message is deleted immediately so the raw key doesn't sit in channel
// history.
func (d *Discord) handleAddAPIKey(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) {
	if err := d.session.ChannelMessageDelete(m.ChannelID, m.ID); err != nil {
		d.logger.Warn("could not delete key message", tint.Err(err))
	}

	if len(args) < 2 {
		d.send(m.ChannelID, fmt.Sprintf(
			"Usage: `%saddapi <provider> <key>`", d.config.CommandPrefix,
		))
		return
	}
	provider := strings.ToLower(args[0])
	key := args[1]

	if !lo.Contains(keyPoolProviders, provider) {
		d.send(m.ChannelID, "Unknown provider. Options: "+strings.Join(keyPoolProviders, ", "))
		return
	}
	if len(key) < minAPIKeyLength {
		d.send(m.ChannelID, "That doesn't look like an API key")
		return
	}

	res := d.p.keyPool.AddAPIKey(ctx, provider, key)
	if !res.Success {
		d.send(m.ChannelID, res.Err)
		return
	}
	d.send(m.ChannelID, fmt.Sprintf(
		"Added key `%s` to **%s** (%d in pool)",
		MaskKey(key), provider, res.Total,
	))
}

// handleRemoveAPIKey removes a key by its 1-based position as shown by
// `listapi`.
func (d *Discord) handleRemoveAPIKey(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) {
	if len(args) < 2 {
		d.reply(m, fmt.Sprintf(
			"Usage: `%sremoveapi <provider> <number>`", d.config.CommandPrefix,
		))
		return
	}
	provider := strings.ToLower(args[0])
	n, err := strconv.Atoi(args[1])
	if err != nil {
		d.reply(m, "Number must be an integer")
		return
	}

	res := d.p.keyPool.RemoveAPIKey(ctx, provider, n-1)
	if !res.Success {
		d.reply(m, res.Err)
		return
	}
	d.reply(m, fmt.Sprintf(
		"Removed key %d from **%s** (%d remaining)", n, provider, res.Total,
	))
}

func (d *Discord) handleListAPIKeys(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) {
	if len(args) < 1 {
		d.reply(m, fmt.Sprintf(
			"Usage: `%slistapi <provider>`", d.config.CommandPrefix,
		))
		return
	}
	provider := strings.ToLower(args[0])
	keys := d.p.keyPool.Keys(ctx, provider)
	if len(keys) == 0 {
		d.reply(m, fmt.Sprintf("No keys stored for **%s**", provider))
		return
	}

	lines := make([]string, 0, len(keys))
	for i, k := range keys {
		line := fmt.Sprintf("%d. `%s` — %s (used %d times)", i+1, MaskKey(k.Key), k.Status, k.Usage)
		if k.Status == KeyStatusCooldown {
			line += fmt.Sprintf(" until <t:%d:R>", k.CooldownUntil/1000)
		}
		lines = append(lines, line)
	}
	d.replyEmbed(m, &discordgo.MessageEmbed{
		Color:       embedColor,
		Title:       fmt.Sprintf("%s keys", provider),
		Description: strings.Join(lines, "\n"),
	})
}

// handlePoolStatus shows per-provider key counts plus whether the backing
// store is reachable at all - an all-zero table means something different
// when the store is down.
func (d *Discord) handlePoolStatus(
	ctx context.Context,
	m *discordgo.MessageCreate,
	_ []string,
) {
	status := d.p.keyPool.PoolStatus(ctx)

	storeState := "🟢 connected"
	if !d.p.keyPool.Connected() {
		storeState = "🔴 unreachable"
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(keyPoolProviders))
	for _, provider := range keyPoolProviders {
		counts := status[provider]
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: provider,
			Value: fmt.Sprintf(
				"total %d / active %d / standby %d / cooldown %d",
				counts.Total, counts.Active, counts.Standby, counts.Cooldown,
			),
		})
	}
	d.replyEmbed(m, &discordgo.MessageEmbed{
		Color:       embedColor,
		Title:       "Key pool",
		Description: "Store: " + storeState,
		Fields:      fields,
	})
}

func (d *Discord) handleAddModel(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) {
	if len(args) < 2 {
		d.reply(m, fmt.Sprintf(
			"Usage: `%saddmodel <provider> <model-id> [name...]`", d.config.CommandPrefix,
		))
		return
	}
	provider := strings.ToLower(args[0])
	id := args[1]
	name := strings.Join(args[2:], " ")

	res := d.p.keyPool.AddModel(ctx, provider, id, name, "custom", "")
	if !res.Success {
		d.reply(m, res.Err)
		return
	}
	d.reply(m, fmt.Sprintf(
		"Added model `%s` to **%s** (%d in catalog)", id, provider, res.Total,
	))
}

func (d *Discord) handleRemoveModel(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) {
	if len(args) < 2 {
		d.reply(m, fmt.Sprintf(
			"Usage: `%sdelmodel <provider> <model-id>`", d.config.CommandPrefix,
		))
		return
	}
	provider := strings.ToLower(args[0])
	id := args[1]

	res := d.p.keyPool.RemoveModel(ctx, provider, id)
	if !res.Success {
		d.reply(m, res.Err)
		return
	}
	d.reply(m, fmt.Sprintf(
		"Removed model `%s` from **%s** (%d remaining)", id, provider, res.Total,
	))
}

func (d *Discord) handleToggleModel(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) {
	if len(args) < 2 {
		d.reply(m, fmt.Sprintf(
			"Usage: `%stogglemodel <provider> <model-id>`", d.config.CommandPrefix,
		))
		return
	}
	provider := strings.ToLower(args[0])
	id := args[1]

	res := d.p.keyPool.ToggleModel(ctx, provider, id)
	if !res.Success {
		d.reply(m, res.Err)
		return
	}
	state := "disabled"
	if res.Enabled {
		state = "enabled"
	}
	d.reply(m, fmt.Sprintf("Model `%s` is now %s", id, state))
}

// handleSyncModels refreshes the openrouter dynamic catalog from the public
// model listing. `syncmodels all` includes paid models; the default keeps
// only the free tier.
func (d *Discord) handleSyncModels(
	ctx context.Context,
	m *discordgo.MessageCreate,
	args []string,
) {
	freeOnly := true
	if len(args) > 0 && strings.EqualFold(args[0], "all") {
		freeOnly = false
	}

	count, err := d.p.keyPool.SyncOpenRouterModels(ctx, freeOnly)
	if err != nil {
		d.logger.Warn("model sync failed", tint.Err(err))
		d.reply(m, "Model sync failed: "+err.Error())
		return
	}
	d.reply(m, fmt.Sprintf("Synced %d OpenRouter models (free_only=%t)", count, freeOnly))
}

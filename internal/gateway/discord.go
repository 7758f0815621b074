package gateway

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
)

// DiscordMessageLimit is the longest message Discord accepts, in characters
const DiscordMessageLimit = 2000

// DiscordAdapter implements the Adapter interface for Discord.
type DiscordAdapter struct {
	session     *discordgo.Session
	bus         *MessageBus
	config      DiscordConfig
	logger      *pkgLogger.Logger
	botUserID   string
	allowGuilds map[string]bool
	allowChans  map[string]bool
	allowUsers  map[string]bool
}

// NewDiscordAdapter creates a Discord adapter.
func NewDiscordAdapter(bus *MessageBus, cfg DiscordConfig, logger *pkgLogger.Logger) (*DiscordAdapter, error) {
	token := cfg.ResolveToken()
	if token == "" {
		return nil, errors.New("discord token is not configured")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	a := &DiscordAdapter{
		session:     dg,
		bus:         bus,
		config:      cfg,
		logger:      logger.WithComponent("discord"),
		allowGuilds: toSet(cfg.AllowedGuildIDs),
		allowChans:  toSet(cfg.AllowedChannelIDs),
		allowUsers:  toSet(cfg.AllowedUserIDs),
	}
	dg.AddHandler(a.handleMessage)
	dg.AddHandler(a.handleReady)
	return a, nil
}

func (a *DiscordAdapter) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.botUserID = r.User.ID
	a.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Discord bot connected", "user", r.User.Username)
}

func (a *DiscordAdapter) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == a.botUserID || m.Author.Bot {
		return
	}
	if !a.allowed(m.Message) {
		return
	}

	text := stripMention(m.Content, a.botUserID)
	if text == "" {
		return
	}

	a.bus.Inbound <- InboundMessage{
		ChannelType: "discord",
		ChannelID:   m.ChannelID,
		PeerID:      m.Author.ID,
		PeerName:    displayName(m.Message),
		Text:        text,
		ReplyToID:   m.ID,
		Timestamp:   m.Timestamp,
	}
}

func (a *DiscordAdapter) allowed(m *discordgo.Message) bool {
	if len(a.allowUsers) > 0 && !a.allowUsers[m.Author.ID] {
		return false
	}
	if m.GuildID != "" && len(a.allowGuilds) > 0 && !a.allowGuilds[m.GuildID] {
		return false
	}
	if len(a.allowChans) > 0 && !a.allowChans[m.ChannelID] {
		return false
	}
	// in guild channels with mention_only, only respond when mentioned
	if m.GuildID != "" && a.config.MentionOnly && !isBotMentioned(m.Mentions, a.botUserID) {
		return false
	}
	return true
}

// Start connects to Discord and blocks until ctx is cancelled.
func (a *DiscordAdapter) Start(ctx context.Context) error {
	a.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Starting Discord adapter")
	if err := a.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord connection")
	}
	<-ctx.Done()
	return a.session.Close()
}

func (a *DiscordAdapter) Stop() error {
	return a.session.Close()
}

// Send sends a message to a Discord channel, split to fit the message
// limit. Only the first chunk is threaded as a reply.
func (a *DiscordAdapter) Send(_ context.Context, msg OutboundMessage) error {
	for i, chunk := range splitMessage(msg.Text, DiscordMessageLimit) {
		var err error
		if i == 0 && msg.ReplyToID != "" {
			ref := &discordgo.MessageReference{MessageID: msg.ReplyToID, ChannelID: msg.ChannelID}
			_, err = a.session.ChannelMessageSendReply(msg.ChannelID, chunk, ref)
		} else {
			_, err = a.session.ChannelMessageSend(msg.ChannelID, chunk)
		}
		if err != nil {
			return errors.Wrap(err, "failed to send discord message")
		}
	}
	return nil
}

func (a *DiscordAdapter) SendTyping(_ context.Context, channelID string) error {
	return a.session.ChannelTyping(channelID)
}

// splitMessage splits text into chunks of at most maxLen characters,
// preferring to cut after a newline.
func splitMessage(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := maxLen
		for i := maxLen - 1; i > 0; i-- {
			if runes[i] == '\n' {
				cutAt = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
	}
	return chunks
}

// displayName prefers the guild nickname, then the global display name
func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func stripMention(text, botID string) string {
	if botID != "" {
		text = strings.ReplaceAll(text, "<@"+botID+">", "")
		text = strings.ReplaceAll(text, "<@!"+botID+">", "")
	}
	return strings.TrimSpace(text)
}

func isBotMentioned(mentions []*discordgo.User, botID string) bool {
	for _, u := range mentions {
		if u.ID == botID {
			return true
		}
	}
	return false
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

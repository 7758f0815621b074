package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/fpt/klein-dm/internal/session"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
	"github.com/fpt/klein-dm/pkg/turn"
)

// Gateway routes channel messages to game sessions.
type Gateway struct {
	config   *Config
	bus      *MessageBus
	service  session.Service
	adapters map[string]Adapter
	reaper   *Reaper
	logger   *pkgLogger.Logger
}

// NewGateway creates a gateway over service. A Discord adapter is added
// when a token is configured.
func NewGateway(cfg *Config, service session.Service, logger *pkgLogger.Logger) (*Gateway, error) {
	gw := &Gateway{
		config:   cfg,
		bus:      NewMessageBus(64),
		service:  service,
		adapters: make(map[string]Adapter),
		logger:   logger.WithComponent("gateway"),
	}

	if cfg.Discord.ResolveToken() != "" {
		discord, err := NewDiscordAdapter(gw.bus, cfg.Discord, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create discord adapter")
		}
		gw.adapters["discord"] = discord
	}

	idle, err := cfg.IdleTimeout()
	if err != nil {
		return nil, err
	}
	if ev, ok := service.(Evictor); ok && idle > 0 {
		gw.reaper = NewReaper(ev, idle, logger)
	}
	return gw, nil
}

// AddAdapter registers an adapter under channelType
func (gw *Gateway) AddAdapter(channelType string, a Adapter) {
	gw.adapters[channelType] = a
}

// Run starts all adapters and processes messages. Blocks until ctx is cancelled.
func (gw *Gateway) Run(ctx context.Context) error {
	if len(gw.adapters) == 0 {
		return errors.New("no channel adapters configured")
	}
	for name, a := range gw.adapters {
		gw.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Starting adapter", "adapter", name)
		go func(n string, ad Adapter) {
			if err := ad.Start(ctx); err != nil {
				gw.logger.ErrorWithIntention(pkgLogger.IntentionError, "Adapter failed", "adapter", n, "error", err)
			}
		}(name, a)
	}
	if gw.reaper != nil {
		go gw.reaper.Start(ctx)
	}
	go gw.dispatchOutbound(ctx)

	gw.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Gateway running, processing messages")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-gw.bus.Inbound:
			// the session's orchestrator serializes steps on the same channel
			go gw.handleInbound(ctx, msg)
		}
	}
}

func (gw *Gateway) handleInbound(ctx context.Context, msg InboundMessage) {
	if strings.HasPrefix(msg.Text, gw.config.CommandPrefix) {
		gw.handleCommand(ctx, msg)
		return
	}

	if a, ok := gw.adapters[msg.ChannelType]; ok {
		_ = a.SendTyping(ctx, msg.ChannelID)
	}

	key := msg.Key()
	reply, err := gw.service.Submit(ctx, key, []turn.Declaration{msg.Declaration()})
	if err != nil {
		gw.logger.ErrorWithIntention(pkgLogger.IntentionError, "Step failed", "key", key.String(), "error", err)
		if len(reply.Outputs) == 0 {
			gw.reply(msg, "[system] The game master could not process that. "+err.Error())
			return
		}
	}
	gw.reply(msg, FormatReply(reply))
}

func (gw *Gateway) handleCommand(ctx context.Context, msg InboundMessage) {
	parts := strings.Fields(strings.TrimPrefix(msg.Text, gw.config.CommandPrefix))
	if len(parts) == 0 {
		return
	}
	key := msg.Key()
	p := gw.config.CommandPrefix

	var response string
	switch cmd := strings.ToLower(parts[0]); cmd {
	case "history", "dump":
		dump, err := gw.service.Dump(ctx, key)
		switch {
		case errors.Is(err, session.ErrNoSession):
			response = "No game in progress in this channel."
		case err != nil:
			response = "Error: " + err.Error()
		default:
			response = "```\n" + strings.TrimRight(dump, "\n") + "\n```"
		}
	case "stats":
		stats, err := gw.service.Stats(ctx, key)
		switch {
		case errors.Is(err, session.ErrNoSession):
			response = "No game in progress in this channel."
		case err != nil:
			response = "Error: " + err.Error()
		default:
			response = stats.String()
		}
	case "clear", "reset":
		if err := gw.service.Reset(ctx, key); err != nil {
			response = "Error: " + err.Error()
		} else {
			response = "Turn stack cleared. The next message starts a new turn."
		}
	case "help":
		response = "**Commands:**\n" +
			"`" + p + "history` shows the turn stack\n" +
			"`" + p + "stats` shows turn counters\n" +
			"`" + p + "clear` discards every open turn\n" +
			"`" + p + "help` shows this help\n" +
			"Anything else is your character's declaration."
	default:
		response = fmt.Sprintf("Unknown command: %s%s. Use %shelp for available commands.", p, cmd, p)
	}
	gw.reply(msg, response)
}

func (gw *Gateway) reply(orig InboundMessage, text string) {
	gw.bus.Outbound <- orig.Reply(text)
}

func (gw *Gateway) dispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-gw.bus.Outbound:
			if a, ok := gw.adapters[msg.ChannelType]; ok {
				if err := a.Send(ctx, msg); err != nil {
					gw.logger.ErrorWithIntention(pkgLogger.IntentionError, "Failed to send outbound message", "error", err)
				}
			}
		}
	}
}

// Close shuts down all adapters.
func (gw *Gateway) Close() error {
	for _, a := range gw.adapters {
		_ = a.Stop()
	}
	return nil
}

// FormatReply renders narrator outputs for a chat channel
func FormatReply(r session.Reply) string {
	var b strings.Builder
	b.WriteString(strings.Join(r.Outputs, "\n\n"))
	if r.Awaiting != nil && len(r.Awaiting.Characters) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "*Waiting on %s", strings.Join(r.Awaiting.Characters, ", "))
		if r.Awaiting.ResponseType != "" {
			fmt.Fprintf(&b, " (%s)", strings.ReplaceAll(string(r.Awaiting.ResponseType), "_", " "))
		}
		b.WriteString("*")
	}
	if r.Error != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[system] " + r.Error)
	}
	if b.Len() == 0 {
		return "(no response)"
	}
	return b.String()
}

package gateway

import (
	"context"
	"time"

	"github.com/fpt/klein-dm/internal/session"
	"github.com/fpt/klein-dm/pkg/turn"
)

// Adapter connects one chat platform to the bus
type Adapter interface {
	// Start listens for messages until ctx is cancelled
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg OutboundMessage) error
	// SendTyping shows a typing indicator while the narrator works
	SendTyping(ctx context.Context, channelID string) error
}

// InboundMessage is a chat line from a player. Every channel hosts one game.
type InboundMessage struct {
	ChannelType string
	ChannelID   string
	PeerID      string
	PeerName    string // display name, used as the speaker
	Text        string
	ReplyToID   string
	Timestamp   time.Time
}

// Key identifies the game the message belongs to
func (m InboundMessage) Key() session.Key {
	return session.Key{ChannelType: m.ChannelType, ChannelID: m.ChannelID}
}

// Declaration is the message as game input
func (m InboundMessage) Declaration() turn.Declaration {
	return turn.Declaration{Speaker: m.PeerName, Content: m.Text}
}

// Reply addresses text back to the message's channel
func (m InboundMessage) Reply(text string) OutboundMessage {
	return OutboundMessage{ChannelType: m.ChannelType, ChannelID: m.ChannelID, Text: text, ReplyToID: m.ReplyToID}
}

// OutboundMessage is narration or a command response for a channel
type OutboundMessage struct {
	ChannelType string
	ChannelID   string
	Text        string
	ReplyToID   string
}

// MessageBus carries messages between adapters and the gateway loop
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage
}

func NewMessageBus(bufferSize int) *MessageBus {
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufferSize),
		Outbound: make(chan OutboundMessage, bufferSize),
	}
}

// Package mcp exposes game sessions as MCP tools over stdio.
package mcp

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	"github.com/fpt/klein-dm/internal/session"
	"github.com/fpt/klein-dm/pkg/turn"
)

const (
	serverName    = "klein-dm"
	serverVersion = "0.1.0"

	// ChannelType keys every MCP session
	ChannelType    = "mcp"
	defaultChannel = "default"
)

// Server hosts the MCP server.
type Server struct {
	mcpServer *server.MCPServer
	service   session.Service
}

type channelInput struct {
	Channel string `json:"channel"`
}

type submitInput struct {
	Channel string `json:"channel"`
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// New registers the session tools on a fresh MCP server.
func New(service session.Service) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false), server.WithRecovery()),
		service:   service,
	}
	s.mcpServer.AddTool(submitTool(), s.handleSubmit)
	s.mcpServer.AddTool(channelTool("dump_stack", "Renders the channel's turn stack: levels, turns and messages"), s.handleDump)
	s.mcpServer.AddTool(channelTool("turn_stats", "Reports turn counters for the channel"), s.handleStats)
	s.mcpServer.AddTool(channelTool("reset_session", "Discards every open turn of the channel"), s.handleReset)
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return errors.Wrap(err, "serve MCP")
	}
	return nil
}

func submitTool() mcp.Tool {
	return mcp.NewTool(
		"submit_input",
		mcp.WithDescription("Submits a character's declaration to the game master and returns the narration it produced"),
		mcp.WithString("speaker", mcp.Required(), mcp.Description("Character declaring the action")),
		mcp.WithString("content", mcp.Required(), mcp.Description("What the character says or does")),
		mcp.WithString("channel", mcp.Description("Game channel; defaults to \"default\"")),
	)
}

func channelTool(name, description string) mcp.Tool {
	return mcp.NewTool(
		name,
		mcp.WithDescription(description),
		mcp.WithString("channel", mcp.Description("Game channel; defaults to \"default\"")),
	)
}

func keyFor(channel string) session.Key {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = defaultChannel
	}
	return session.Key{ChannelType: ChannelType, ChannelID: channel}
}

func (s *Server) handleSubmit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in submitInput
	if err := request.BindArguments(&in); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid submit_input arguments", err), nil
	}
	if strings.TrimSpace(in.Speaker) == "" || strings.TrimSpace(in.Content) == "" {
		return mcp.NewToolResultError("speaker and content are required"), nil
	}

	reply, err := s.service.Submit(ctx, keyFor(in.Channel), []turn.Declaration{{Speaker: in.Speaker, Content: in.Content}})
	if err != nil && len(reply.Outputs) == 0 {
		return mcp.NewToolResultErrorFromErr("submit failed", err), nil
	}
	if err != nil && reply.Error == "" {
		reply.Error = err.Error()
	}
	text := strings.Join(reply.Outputs, "\n\n")
	if reply.Error != "" {
		text += "\n\n[system] " + reply.Error
	}
	return mcp.NewToolResultStructured(reply, text), nil
}

func (s *Server) handleDump(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in channelInput
	if err := request.BindArguments(&in); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
	}
	dump, err := s.service.Dump(ctx, keyFor(in.Channel))
	if errors.Is(err, session.ErrNoSession) {
		return mcp.NewToolResultText(turn.Dump(turn.Snapshot{})), nil
	}
	if err != nil {
		return mcp.NewToolResultErrorFromErr("dump failed", err), nil
	}
	return mcp.NewToolResultText(dump), nil
}

func (s *Server) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in channelInput
	if err := request.BindArguments(&in); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
	}
	stats, err := s.service.Stats(ctx, keyFor(in.Channel))
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		return mcp.NewToolResultErrorFromErr("stats failed", err), nil
	}
	return mcp.NewToolResultStructuredOnly(stats), nil
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in channelInput
	if err := request.BindArguments(&in); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
	}
	if err := s.service.Reset(ctx, keyFor(in.Channel)); err != nil {
		return mcp.NewToolResultErrorFromErr("reset failed", err), nil
	}
	return mcp.NewToolResultText("Turn stack cleared."), nil
}

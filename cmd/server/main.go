package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fpt/klein-dm/internal/config"
	"github.com/fpt/klein-dm/internal/connectrpc"
	"github.com/fpt/klein-dm/internal/mcp"
	"github.com/fpt/klein-dm/internal/session"
	"github.com/fpt/klein-dm/internal/telemetry"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
)

func main() {
	settingsPath := flag.String("settings", "", "Path to settings file")
	addr := flag.String("addr", "", "Listen address (overrides server.addr)")
	serveMCP := flag.Bool("mcp", false, "Serve the session tools over MCP on stdio instead of Connect")
	verbose := flag.Bool("v", false, "Enable verbose logging (debug level)")
	flag.Parse()

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		settings.Server.Addr = *addr
	}

	logLevel := settings.Agent.LogLevel
	if *verbose {
		logLevel = "debug"
	}
	// stdout carries the MCP protocol, so logs go to stderr
	out := os.Stderr
	pkgLogger.SetGlobalLoggerWithConsoleWriter(pkgLogger.ParseLevel(logLevel), out)
	logger := pkgLogger.NewLoggerWithConsoleWriter(pkgLogger.ParseLevel(logLevel), out)

	if err := config.ValidateSettings(settings); err != nil {
		logger.Error("Settings validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "klein-dm-server")
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	workingDir, err := os.Getwd()
	if err != nil {
		logger.Error("Failed to resolve working directory", "error", err)
		os.Exit(1)
	}
	llm, builder, err := session.Bootstrap(ctx, settings, workingDir)
	if err != nil {
		logger.Error("Failed to set up games", "error", err)
		os.Exit(1)
	}
	manager := session.NewManager(builder.Factory(), logger)

	logger.InfoWithIntention(pkgLogger.IntentionConfig, "Sessions ready",
		"model", llm.ModelID(), "flow", settings.Orchestrator.Flow)

	if *serveMCP {
		if err := mcp.New(manager).Serve(); err != nil {
			logger.Error("MCP server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := connectrpc.StartServer(ctx, settings.Server.Addr, manager, logger); err != nil {
		logger.Error("Connect server stopped", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fpt/klein-dm/internal/config"
	"github.com/fpt/klein-dm/internal/connectrpc"
	"github.com/fpt/klein-dm/internal/gateway"
	"github.com/fpt/klein-dm/internal/session"
	"github.com/fpt/klein-dm/internal/telemetry"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to gateway config (default: $HOME/.klein-dm/gateway.json)")
	settingsPath := flag.String("settings", "", "Path to settings file for in-process games")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	out := os.Stdout
	pkgLogger.SetGlobalLoggerWithConsoleWriter(pkgLogger.ParseLevel(*logLevel), out)
	logger := pkgLogger.NewLoggerWithConsoleWriter(pkgLogger.ParseLevel(*logLevel), out)

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = gateway.DefaultConfigPath()
	}
	cfg, err := gateway.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config from %s: %v\n", cfgPath, err)
		fmt.Fprintf(os.Stderr, "Create a config file or specify --config path\n")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "klein-dm-gateway")
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

	var service session.Service
	if cfg.ServerAddr != "" {
		service = connectrpc.NewClient(&http.Client{Timeout: 5 * time.Minute}, cfg.ServerAddr)
	} else {
		service, err = localService(ctx, *settingsPath, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to set up games: %v\n", err)
			os.Exit(1)
		}
	}

	gw, err := gateway.NewGateway(cfg, service, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create gateway: %v\n", err)
		os.Exit(1)
	}
	defer gw.Close()

	fmt.Println("klein-dm gateway starting...")
	if cfg.ServerAddr != "" {
		fmt.Printf("  Server: %s\n", cfg.ServerAddr)
	} else {
		fmt.Println("  Server: in-process")
	}
	if cfg.Discord.ResolveToken() != "" {
		fmt.Println("  Discord: enabled")
	}
	if idle, _ := cfg.IdleTimeout(); idle > 0 {
		fmt.Printf("  Session timeout: %s\n", idle)
	}
	fmt.Println()

	if err := gw.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Gateway error: %v\n", err)
		os.Exit(1)
	}
}

// localService runs games in this process
func localService(ctx context.Context, settingsPath string, logger *pkgLogger.Logger) (*session.Manager, error) {
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateSettings(settings); err != nil {
		return nil, err
	}
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	_, builder, err := session.Bootstrap(ctx, settings, workingDir)
	if err != nil {
		return nil, err
	}
	return session.NewManager(builder.Factory(), logger), nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/fpt/klein-dm/internal/app"
	"github.com/fpt/klein-dm/internal/config"
	"github.com/fpt/klein-dm/internal/session"
	"github.com/fpt/klein-dm/internal/telemetry"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
)

// resolveStringFlag returns the non-empty value, preferring short flag over long flag
func resolveStringFlag(shortVal, longVal string) string {
	if shortVal != "" {
		return shortVal
	}
	return longVal
}

func printUsage() {
	fmt.Println("klein - a turn-based game master for tabletop sessions")
	fmt.Println()
	fmt.Println("Plain lines are your character's declarations; /help lists the table commands.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  klein                                  # Play as Player with the LLM flow")
	fmt.Println("  klein -p Alice --party party.yaml      # Play as Alice with a party file")
	fmt.Println("  klein --flow scripted                  # Use the built-in combat script")
	fmt.Println("  klein -b anthropic                     # Use Anthropic backend")
	fmt.Println("  klein -v                               # Enable verbose debug logging")
	fmt.Println()
	fmt.Println("Environment variables prefixed with " + config.EnvPrefix + " override settings.")
	fmt.Println()
}

func main() {
	ctx := context.Background()

	var backend = flag.String("b", "", "LLM backend (ollama, anthropic, openai, or gemini)")
	var backendLong = flag.String("backend", "", "LLM backend (ollama, anthropic, openai, or gemini)")
	var model = flag.String("m", "", "Model name to use")
	var modelLong = flag.String("model", "", "Model name to use")
	var player = flag.String("p", "", "Character you speak as (default: Player)")
	var playerLong = flag.String("player", "", "Character you speak as (default: Player)")
	var settingsPath = flag.String("settings", "", "Path to settings file")
	var flowFlag = flag.String("flow", "", "Flow controller: llm or scripted")
	var scriptPath = flag.String("script", "", "Script file for the scripted flow (default: built-in combat)")
	var partyPath = flag.String("party", "", "YAML file with the party's characters")
	var verbose = flag.Bool("v", false, "Enable verbose logging (debug level)")
	var verboseLong = flag.Bool("verbose", false, "Enable verbose logging (debug level)")
	var help = flag.Bool("h", false, "Show this help message")
	var helpLong = flag.Bool("help", false, "Show this help message")

	flag.Usage = func() {
		printUsage()
		fmt.Println("Flags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *help || *helpLong {
		flag.Usage()
		return
	}

	resolvedBackend := resolveStringFlag(*backend, *backendLong)
	resolvedModel := resolveStringFlag(*model, *modelLong)
	resolvedVerbose := *verbose || *verboseLong

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}

	logLevel := settings.Agent.LogLevel
	if resolvedVerbose {
		logLevel = "debug"
	}
	out := os.Stdout
	pkgLogger.SetGlobalLoggerWithConsoleWriter(pkgLogger.ParseLevel(logLevel), out)
	logger := pkgLogger.NewLoggerWithConsoleWriter(pkgLogger.ParseLevel(logLevel), out)

	if resolvedBackend != "" {
		settings.LLM = config.GetDefaultLLMSettingsForBackend(resolvedBackend)
	}
	if resolvedModel != "" {
		settings.LLM.Model = resolvedModel
	}
	if *flowFlag != "" {
		settings.Orchestrator.Flow = *flowFlag
	}
	if *scriptPath != "" {
		settings.Orchestrator.ScriptPath = *scriptPath
	}
	if *partyPath != "" {
		settings.Orchestrator.PartyPath = *partyPath
	}

	if err := config.ValidateSettings(settings); err != nil {
		logger.Error("Settings validation failed", "error", err)
		os.Exit(1)
	}

	shutdownTracing, err := telemetry.Setup(ctx, "klein-dm")
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
		logger.Error("Failed to set up the game", "error", err)
		os.Exit(1)
	}
	game, err := builder.Build("local")
	if err != nil {
		logger.Error("Failed to create game", "error", err)
		os.Exit(1)
	}

	var historyFile string
	if userConfig, err := config.DefaultUserConfig(); err == nil {
		if historyFile, err = userConfig.GetProjectHistoryFile(workingDir); err != nil {
			logger.Warn("Input history disabled", "error", err)
		}
	}

	repl := app.NewREPL(game, llm, settings, app.Options{
		Speaker:     resolveStringFlag(*player, *playerLong),
		HistoryFile: historyFile,
		Out:         out,
		Colored:     term.IsTerminal(int(out.Fd())),
		Script:      builder.Script(),
	})
	if err := repl.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		fmt.Fprintln(os.Stderr, "Interactive mode needs a terminal.")
		os.Exit(1)
	}
}

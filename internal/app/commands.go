package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/fpt/klein-dm/internal/config"
	"github.com/fpt/klein-dm/pkg/agent/domain"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
	"github.com/fpt/klein-dm/pkg/turn"
)

// SlashCommand represents a command that starts with /
type SlashCommand struct {
	Name        string
	Args        string
	Description string
	// Handler returns true when the REPL should exit
	Handler func(ctx context.Context, r *REPL, args string) bool
}

func getSlashCommands() []SlashCommand {
	return []SlashCommand{
		{Name: "help", Description: "Show available commands", Handler: func(_ context.Context, r *REPL, _ string) bool {
			r.showHelp()
			return false
		}},
		{Name: "dump", Description: "Show the full turn stack", Handler: func(_ context.Context, r *REPL, _ string) bool {
			fmt.Fprint(r.out, fitWidth(r.game.Orchestrator.Dump(), r.width()))
			return false
		}},
		{Name: "stats", Description: "Show turn counters", Handler: func(_ context.Context, r *REPL, _ string) bool {
			fmt.Fprintln(r.out, r.game.Orchestrator.Stats().String())
			return false
		}},
		{Name: "history", Args: "[n]", Description: "Show the last n completed root turns", Handler: cmdHistory},
		{Name: "state", Description: "Show character attributes", Handler: func(_ context.Context, r *REPL, _ string) bool {
			if s := r.game.State.Format(); s != "" {
				fmt.Fprint(r.out, s)
			} else {
				fmt.Fprintln(r.out, "No characters tracked.")
			}
			return false
		}},
		{Name: "objective", Args: "<text>", Description: "Replace the active turn's objective", Handler: cmdObjective},
		{Name: "react", Args: "<speaker>: <text>[; ...]", Description: "Queue reactions under the active turn", Handler: cmdReact},
		{Name: "end", Args: "[next]", Description: "End the active turn, optionally naming the next participant", Handler: cmdEnd},
		{Name: "as", Args: "<speaker>", Description: "Speak as another character", Handler: cmdAs},
		{Name: "backend", Args: "[name]", Description: "Switch the model backend", Handler: cmdBackend},
		{Name: "clear", Args: "[history]", Description: "Discard every open turn and start over, or only the round history", Handler: cmdClear},
		{Name: "quit", Description: "Exit the game", Handler: func(_ context.Context, r *REPL, _ string) bool {
			fmt.Fprintln(r.out, "Goodbye!")
			return true
		}},
		{Name: "exit", Description: "Exit the game (alias for quit)", Handler: func(_ context.Context, r *REPL, _ string) bool {
			fmt.Fprintln(r.out, "Goodbye!")
			return true
		}},
	}
}

// handleSlashCommand runs input as a slash command. Returns true if the
// command requests exit.
func (r *REPL) handleSlashCommand(ctx context.Context, input string) bool {
	name, args, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(input), "/"), " ")
	if name == "" {
		r.showHelp()
		return false
	}
	for _, cmd := range getSlashCommands() {
		if cmd.Name == strings.ToLower(name) {
			return cmd.Handler(ctx, r, strings.TrimSpace(args))
		}
	}
	fmt.Fprintf(r.out, "Unknown command: /%s. Type /help for available commands.\n", name)
	return false
}

func cmdHistory(_ context.Context, r *REPL, args string) bool {
	n := r.settings.Orchestrator.HistoryTurns
	if args != "" {
		v, err := strconv.Atoi(args)
		if err != nil || v <= 0 {
			fmt.Fprintln(r.out, "Usage: /history [n] with n > 0")
			return false
		}
		n = v
	}
	history := r.game.Orchestrator.Snapshot().RecentHistory(n)
	if len(history) == 0 {
		fmt.Fprintln(r.out, "No completed turns yet.")
		return false
	}
	for _, h := range history {
		fmt.Fprintln(r.out, fitWidth(h, r.width()))
	}
	return false
}

func cmdClear(_ context.Context, r *REPL, args string) bool {
	switch strings.ToLower(args) {
	case "":
		r.game.Orchestrator.Reset()
		fmt.Fprintln(r.out, "Turn stack cleared.")
	case "history":
		r.game.Orchestrator.ClearHistory()
		fmt.Fprintln(r.out, "Round history cleared.")
	default:
		fmt.Fprintln(r.out, "Usage: /clear [history]")
	}
	return false
}

func cmdObjective(ctx context.Context, r *REPL, args string) bool {
	if args == "" {
		fmt.Fprintln(r.out, "Current objective: "+orNone(r.game.Orchestrator.Snapshot().Objective()))
		return false
	}
	r.applyDirective(ctx, domain.SetObjective{Text: args}, "Objective set.")
	return false
}

func cmdReact(ctx context.Context, r *REPL, args string) bool {
	decls, err := ParseDeclarations(args)
	if err != nil {
		fmt.Fprintf(r.out, "%v. Usage: /react <speaker>: <text>[; <speaker>: <text>]\n", err)
		return false
	}
	d := domain.QueueReactions{Declarations: decls}
	if r.script != nil {
		d.Objective = r.script.ReactionObjective()
	}
	r.applyDirective(ctx, d, fmt.Sprintf("Queued %d reaction(s).", len(decls)))
	return false
}

func cmdEnd(ctx context.Context, r *REPL, args string) bool {
	r.applyDirective(ctx, domain.EndTurn{NextParticipant: args}, "Turn ended.")
	return false
}

func cmdAs(_ context.Context, r *REPL, args string) bool {
	if args == "" {
		fmt.Fprintln(r.out, "Speaking as "+r.speaker)
		return false
	}
	r.speaker = args
	if r.rl != nil {
		r.rl.SetPrompt(r.prompt())
	}
	fmt.Fprintln(r.out, "Now speaking as "+args)
	return false
}

func cmdBackend(ctx context.Context, r *REPL, args string) bool {
	backend := strings.ToLower(args)
	if backend == "" {
		var err error
		if backend, err = r.selectBackend(); err != nil {
			fmt.Fprintln(r.out, "Cancelled.")
			return false
		}
	}
	llmSettings := r.settings.LLM
	if backend != llmSettings.Backend {
		d := config.GetDefaultLLMSettingsForBackend(backend)
		llmSettings.Backend, llmSettings.Model, llmSettings.BaseURL = d.Backend, d.Model, d.BaseURL
	}
	llm, err := r.newLLM(ctx, llmSettings)
	if err != nil {
		fmt.Fprintf(r.out, "Failed to switch backend: %v\n", err)
		return false
	}
	prev := r.llm.Swap(llm)
	r.settings.LLM = llmSettings
	r.logger.InfoWithIntention(pkgLogger.IntentionConfig, "Backend switched", "from", prev.ModelID(), "to", llm.ModelID())
	fmt.Fprintf(r.out, "Now using %s\n", llm.ModelID())
	return false
}

// applyDirective applies d and reports the outcome. Returns false on error.
func (r *REPL) applyDirective(ctx context.Context, d domain.Directive, done string) bool {
	if err := r.game.Orchestrator.Apply(ctx, d); err != nil {
		if errors.Is(err, turn.ErrStructural) || errors.Is(err, domain.ErrAgentProtocol) {
			fmt.Fprintf(r.out, "Cannot %s: %v\n", strings.ReplaceAll(string(d.Kind()), "_", " "), err)
		} else {
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
		return false
	}
	if done != "" {
		fmt.Fprintln(r.out, done)
	}
	return true
}

// ParseDeclarations reads "Speaker: text; Speaker: text". A part without
// a colon is a speaker with no content.
func ParseDeclarations(s string) ([]turn.Declaration, error) {
	var decls []turn.Declaration
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		speaker, content, _ := strings.Cut(part, ":")
		speaker = strings.TrimSpace(speaker)
		if speaker == "" {
			return nil, errors.Errorf("declaration %q has no speaker", part)
		}
		decls = append(decls, turn.Declaration{Speaker: speaker, Content: strings.TrimSpace(content)})
	}
	if len(decls) == 0 {
		return nil, errors.New("no declarations")
	}
	return decls, nil
}

func (r *REPL) showHelp() {
	fmt.Fprintln(r.out, "Commands:")
	for _, cmd := range getSlashCommands() {
		usage := "/" + cmd.Name
		if cmd.Args != "" {
			usage += " " + cmd.Args
		}
		fmt.Fprintf(r.out, "  %-32s %s\n", usage, cmd.Description)
	}
	fmt.Fprintln(r.out, "Anything else is a declaration by the current speaker.")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

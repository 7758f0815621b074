package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/manifoldco/promptui"
	"github.com/pkg/errors"

	"github.com/fpt/klein-dm/internal/agents"
	"github.com/fpt/klein-dm/internal/config"
	"github.com/fpt/klein-dm/internal/session"
	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/fpt/klein-dm/pkg/agent/events"
	"github.com/fpt/klein-dm/pkg/client"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
	"github.com/fpt/klein-dm/pkg/turn"
)

// Options configures a REPL
type Options struct {
	Speaker     string
	HistoryFile string
	Out         io.Writer
	Colored     bool
	// Script enables the reaction objective for /react
	Script *agents.Script
}

// REPL is an interactive table for one game: plain lines are declarations
// by the current speaker, slash commands drive the turn stack directly.
type REPL struct {
	game     *session.Game
	llm      *client.SwitchableLLM
	settings *config.Settings
	script   *agents.Script
	speaker  string
	history  string
	out      io.Writer
	colored  bool
	logger   *pkgLogger.Logger
	rl       *readline.Instance

	selectBackend func() (string, error)
	newLLM        func(context.Context, config.LLMSettings) (domain.StructuredLLM, error)
	width         func() int
}

func NewREPL(game *session.Game, llm *client.SwitchableLLM, settings *config.Settings, opts Options) *REPL {
	r := &REPL{
		game:          game,
		llm:           llm,
		settings:      settings,
		script:        opts.Script,
		speaker:       opts.Speaker,
		history:       opts.HistoryFile,
		out:           opts.Out,
		colored:       opts.Colored,
		logger:        pkgLogger.NewComponentLogger("repl"),
		selectBackend: selectBackend,
		newLLM:        client.NewStructuredLLM,
		width:         terminalWidth,
	}
	if r.speaker == "" {
		r.speaker = "Player"
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	return r
}

func (r *REPL) prompt() string { return r.speaker + "> " }

// Run reads lines until EOF, an interrupt on an empty line, or /quit
func (r *REPL) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            r.prompt(),
		HistoryFile:       r.history,
		AutoComplete:      createAutoCompleter(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		HistoryLimit:      2000,
		FuncFilterInputRune: func(c rune) (rune, bool) {
			return c, c != readline.CharCtrlZ
		},
		Stdout: r.out,
	})
	if err != nil {
		return errors.Wrap(err, "failed to initialize interactive mode")
	}
	defer rl.Close()
	r.rl = rl
	defer r.game.Orchestrator.Events().AddHandler(r.onEvent)()

	WriteSplashScreen(r.out, r.width(), r.colored)
	fmt.Fprintf(r.out, "Model: %s\n", r.llm.ModelID())
	if obj := r.game.Orchestrator.Snapshot().Objective(); obj != "" {
		fmt.Fprintf(r.out, "Objective: %s\n", obj)
	}
	fmt.Fprintln(r.out, "Type what your character does. Commands start with '/'; /help lists them.")
	fmt.Fprintln(r.out, strings.Repeat("=", 60))

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if r.handleSlashCommand(ctx, line) {
				return nil
			}
			continue
		}
		r.runStep(ctx, line)
	}
}

// runStep submits one declaration with Ctrl+C cancelling the step
func (r *REPL) runStep(ctx context.Context, text string) {
	stepCtx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(r.out)
			cancel()
		case <-stepCtx.Done():
		}
	}()

	r.submit(stepCtx, text)

	signal.Stop(sigChan)
	cancel()
}

func (r *REPL) submit(ctx context.Context, text string) {
	res, err := r.game.Orchestrator.Step(ctx, []turn.Declaration{{Speaker: r.speaker, Content: text}})
	if err != nil && len(res.Outputs) == 0 {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(r.out, "Step cancelled. Ready for the next declaration.")
		} else {
			fmt.Fprintln(r.out, paint(colorRed, "Error: "+err.Error(), r.colored))
		}
		return
	}
	WriteResponseHeader(r.out, r.llm.ModelID(), r.colored)
	WriteResult(r.out, res, r.colored)
}

// onEvent shows structural progress between narrator outputs
func (r *REPL) onEvent(e events.Event) {
	var line string
	switch d := e.Data.(type) {
	case events.DirectiveData:
		line = fmt.Sprintf("» %s, turn %s", strings.ReplaceAll(d.Kind, "_", " "), d.ActiveTurnID)
		if d.Objective != "" {
			line += ": " + d.Objective
		}
	case events.ErrorData:
		if e.Type != events.EventTypeCondensationFallback {
			return
		}
		line = "» turn " + e.TurnID + " kept its raw messages: " + d.Error.Error()
	default:
		return
	}
	fmt.Fprintln(r.out, paint(colorFaint, line, r.colored))
}

func createAutoCompleter() *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, cmd := range getSlashCommands() {
		if cmd.Name == "backend" {
			var backends []readline.PrefixCompleterInterface
			for _, b := range client.Backends {
				backends = append(backends, readline.PcItem(b))
			}
			items = append(items, readline.PcItem("/"+cmd.Name, backends...))
			continue
		}
		items = append(items, readline.PcItem("/"+cmd.Name))
	}
	return readline.NewPrefixCompleter(items...)
}

// selectBackend shows an interactive backend selector
func selectBackend() (string, error) {
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}?",
		Active:   "▸ {{ . | cyan }}",
		Inactive: "  {{ . | cyan }}",
		Selected: "{{ . | cyan }}",
	}
	p := promptui.Select{
		Label:     "Choose a backend",
		Items:     client.Backends,
		Templates: templates,
		Size:      len(client.Backends),
	}
	_, backend, err := p.Run()
	return backend, err
}

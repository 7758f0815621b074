package session

import (
	"context"

	"github.com/pkg/errors"

	"github.com/fpt/klein-dm/internal/agents"
	"github.com/fpt/klein-dm/internal/config"
	"github.com/fpt/klein-dm/internal/gamestate"
	"github.com/fpt/klein-dm/internal/prompt"
	"github.com/fpt/klein-dm/pkg/agent/contextbuild"
	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/fpt/klein-dm/pkg/agent/orchestrator"
	"github.com/fpt/klein-dm/pkg/client"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
)

// GameBuilder assembles the collaborators of a game from settings. The
// script and prompts are loaded once; each game gets its own party store
// and scripted-flow position.
type GameBuilder struct {
	llm      domain.StructuredLLM
	prompts  prompt.Set
	settings config.OrchestratorSettings
	script   *agents.Script
	logger   *pkgLogger.Logger
}

func NewGameBuilder(llm domain.StructuredLLM, prompts prompt.Set, settings config.OrchestratorSettings) (*GameBuilder, error) {
	b := &GameBuilder{
		llm:      llm,
		prompts:  prompts,
		settings: settings,
		logger:   pkgLogger.NewComponentLogger("game"),
	}
	if settings.Flow == config.FlowScripted {
		script, err := agents.LoadScript(settings.ScriptPath)
		if err != nil {
			return nil, err
		}
		b.script = script
	}
	return b, nil
}

// Script returns the scripted-flow script, or nil for the LLM flow
func (b *GameBuilder) Script() *agents.Script { return b.script }

// Build creates a game for sessionID
func (b *GameBuilder) Build(sessionID string, opts ...orchestrator.Option) (*Game, error) {
	party, err := gamestate.LoadParty(b.settings.PartyPath)
	if err != nil {
		return nil, err
	}

	narrator, err := agents.NewLLMNarrator(b.llm, b.prompts)
	if err != nil {
		return nil, err
	}
	condenser, err := agents.NewLLMCondenser(b.llm, b.prompts)
	if err != nil {
		return nil, err
	}
	extractor, err := agents.NewLLMExtractor(b.llm, b.prompts)
	if err != nil {
		return nil, err
	}

	var flow domain.FlowController
	opening := b.settings.OpeningObjective
	var reaction string
	if b.script != nil {
		flow = agents.NewScriptedFlow(b.script, party.Names())
		if opening == "" {
			opening = b.script.OpeningObjective()
		}
		reaction = b.script.ReactionObjective()
	} else {
		if flow, err = agents.NewLLMFlowController(b.llm, b.prompts); err != nil {
			return nil, err
		}
	}

	base := []orchestrator.Option{
		orchestrator.WithSessionID(sessionID),
		orchestrator.WithMaxIterations(b.settings.MaxLoopIterations),
		orchestrator.WithAgentRetries(b.settings.AgentRetries),
		orchestrator.WithOpeningObjective(opening),
		orchestrator.WithReactionObjective(reaction),
		orchestrator.WithContextOptions(contextbuild.Options{HistoryTurns: b.settings.HistoryTurns}),
	}
	orch, err := orchestrator.New(nil, orchestrator.Collaborators{
		Narrator:  narrator,
		Flow:      flow,
		Extractor: extractor,
		Condenser: condenser,
		State:     party,
	}, append(base, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create orchestrator")
	}

	b.logger.DebugWithIntention(pkgLogger.IntentionConfig, "Game assembled",
		"session_id", sessionID, "model", b.llm.ModelID(), "scripted", b.script != nil, "characters", len(party.Names()))
	return &Game{Orchestrator: orch, State: party}, nil
}

// Factory adapts Build to a Manager factory
func (b *GameBuilder) Factory() Factory {
	return func(sessionID string) (*Game, error) { return b.Build(sessionID) }
}

// Bootstrap creates the model client from settings, wraps it so the
// backend can be swapped later, and loads prompts with overrides from
// workingDir.
func Bootstrap(ctx context.Context, settings *config.Settings, workingDir string) (*client.SwitchableLLM, *GameBuilder, error) {
	llm, err := client.NewStructuredLLM(ctx, settings.LLM)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create LLM client")
	}
	prompts, err := prompt.LoadPrompts(workingDir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load prompts")
	}
	switchable := client.NewSwitchableLLM(llm)
	b, err := NewGameBuilder(switchable, prompts, settings.Orchestrator)
	if err != nil {
		return nil, nil, err
	}
	return switchable, b, nil
}

package agents

import (
	"context"
	"strings"

	"github.com/fpt/klein-dm/internal/prompt"
	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/fpt/klein-dm/pkg/client"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
	"github.com/fpt/klein-dm/pkg/turn"
)

var flowLogger = pkgLogger.NewComponentLogger("flow-controller")

type flowReply struct {
	Directive                string             `json:"directive" jsonschema:"required,enum=set_objective,enum=queue_reactions,enum=end_turn"`
	Objective                string             `json:"objective,omitempty" jsonschema:"description=Next step objective"`
	Reactions                []turn.Declaration `json:"reactions,omitempty" jsonschema:"description=Declared reactions in resolution order (queue_reactions only)"`
	NextParticipant          string             `json:"next_participant,omitempty" jsonschema:"description=Who acts next when the top-level turn ends"`
	GameStateUpdatesRequired bool               `json:"game_state_updates_required" jsonschema:"required"`
}

// LLMFlowController picks the next directive with a structured LLM
type LLMFlowController struct {
	llm    domain.StructuredLLM
	prompt *prompt.Prompt
}

func NewLLMFlowController(llm domain.StructuredLLM, prompts prompt.Set) (*LLMFlowController, error) {
	p, err := prompts.Get(prompt.FlowController)
	if err != nil {
		return nil, err
	}
	return &LLMFlowController{llm: llm, prompt: p}, nil
}

// Direct implements domain.FlowController
func (f *LLMFlowController) Direct(ctx context.Context, p domain.Payload) (domain.FlowResult, error) {
	reply, err := client.Complete[flowReply](ctx, f.llm, "flow_directive",
		f.prompt.Render(nil), p.Text, f.prompt.MaxTokens)
	if err != nil {
		return domain.FlowResult{}, err
	}
	res, err := reply.toResult()
	if err != nil {
		return domain.FlowResult{}, err
	}
	flowLogger.DebugWithIntention(pkgLogger.IntentionDirective, "Directive received",
		"turn", p.TurnID, "kind", res.Directive.Kind(), "extract", res.ExtractionRequired)
	return res, nil
}

func (r flowReply) toResult() (domain.FlowResult, error) {
	objective := strings.TrimSpace(r.Objective)
	d, err := domain.ParseDirective(r.Directive, objective, r.Reactions, strings.TrimSpace(r.NextParticipant))
	if err != nil {
		return domain.FlowResult{}, err
	}
	res := domain.FlowResult{Directive: d, ExtractionRequired: r.GameStateUpdatesRequired}
	// set_objective carries its text in the directive itself
	if d.Kind() != domain.DirectiveSetObjective {
		res.Objective = objective
	}
	return res, nil
}

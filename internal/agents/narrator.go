package agents

import (
	"context"
	"strings"

	"github.com/fpt/klein-dm/internal/prompt"
	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/fpt/klein-dm/pkg/client"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
)

var narratorLogger = pkgLogger.NewComponentLogger("narrator")

type narratorReply struct {
	Narrative         string           `json:"narrative" jsonschema:"required,description=The game narrative and your message to the active player(s)"`
	GameStepCompleted bool             `json:"game_step_completed" jsonschema:"required,description=True only if the current step objective is met"`
	AwaitingResponse  *awaitingPayload `json:"awaiting_response,omitempty" jsonschema:"description=Who should respond next and how"`
	Facts             []domain.Fact    `json:"facts,omitempty" jsonschema:"description=Rulings and facts to remember for this turn and its reactions"`
}

type awaitingPayload struct {
	Characters   []string `json:"characters" jsonschema:"required"`
	ResponseType string   `json:"response_type" jsonschema:"required,enum=action,enum=initiative,enum=saving_throw,enum=reaction,enum=free_form,enum=none"`
	Prompt       string   `json:"prompt,omitempty"`
}

// LLMNarrator is the Dungeon Master voice backed by a structured LLM
type LLMNarrator struct {
	llm    domain.StructuredLLM
	prompt *prompt.Prompt
}

func NewLLMNarrator(llm domain.StructuredLLM, prompts prompt.Set) (*LLMNarrator, error) {
	p, err := prompts.Get(prompt.Narrator)
	if err != nil {
		return nil, err
	}
	return &LLMNarrator{llm: llm, prompt: p}, nil
}

// Narrate implements domain.Narrator
func (n *LLMNarrator) Narrate(ctx context.Context, p domain.Payload) (domain.NarratorResult, error) {
	reply, err := client.Complete[narratorReply](ctx, n.llm, "narration",
		n.prompt.Render(nil), p.Text, n.prompt.MaxTokens)
	if err != nil {
		return domain.NarratorResult{}, err
	}
	if strings.TrimSpace(reply.Narrative) == "" {
		return domain.NarratorResult{}, domain.ProtocolError("narration: empty narrative")
	}

	res := domain.NarratorResult{
		Content:      strings.TrimSpace(reply.Narrative),
		StepComplete: reply.GameStepCompleted,
		Awaiting:     toAwaiting(reply.AwaitingResponse),
		Facts:        toFacts(reply.Facts),
	}
	narratorLogger.DebugWithIntention(pkgLogger.IntentionNarration, "Narration received",
		"turn", p.TurnID, "step_complete", res.StepComplete, "chars", len(res.Content))
	return res, nil
}

func toFacts(in []domain.Fact) []domain.Fact {
	var out []domain.Fact
	for _, f := range in {
		f.Key, f.Value = strings.TrimSpace(f.Key), strings.TrimSpace(f.Value)
		if f.Key == "" || f.Value == "" {
			continue
		}
		if f.Type = strings.ToLower(strings.TrimSpace(f.Type)); f.Type == "" {
			f.Type = "fact"
		}
		out = append(out, f)
	}
	return out
}

func toAwaiting(a *awaitingPayload) *domain.Awaiting {
	if a == nil {
		return nil
	}
	out := &domain.Awaiting{Prompt: a.Prompt}
	for _, c := range a.Characters {
		if c = strings.TrimSpace(c); c != "" {
			out.Characters = append(out.Characters, c)
		}
	}
	switch rt := domain.ResponseType(strings.ToLower(strings.TrimSpace(a.ResponseType))); rt {
	case domain.ResponseAction, domain.ResponseInitiative, domain.ResponseSavingThrow,
		domain.ResponseReaction, domain.ResponseFreeForm, domain.ResponseNone:
		out.ResponseType = rt
	case "":
		out.ResponseType = domain.ResponseNone
	default:
		// models occasionally invent types; keep the characters and let anyone answer
		out.ResponseType = domain.ResponseFreeForm
	}
	return out
}

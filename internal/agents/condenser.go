package agents

import (
	"context"
	"strconv"
	"strings"

	"github.com/fpt/klein-dm/internal/prompt"
	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/fpt/klein-dm/pkg/client"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
	"github.com/fpt/klein-dm/pkg/turn"
)

var condenserLogger = pkgLogger.NewComponentLogger("condenser")

type condenseReply struct {
	CondensedSummary string `json:"condensed_summary" jsonschema:"required,description=Structured action-resolution summary with nested subturns"`
}

// LLMCondenser summarizes a finished turn as an action/resolution block
type LLMCondenser struct {
	llm    domain.StructuredLLM
	prompt *prompt.Prompt
}

func NewLLMCondenser(llm domain.StructuredLLM, prompts prompt.Set) (*LLMCondenser, error) {
	p, err := prompts.Get(prompt.Condenser)
	if err != nil {
		return nil, err
	}
	return &LLMCondenser{llm: llm, prompt: p}, nil
}

// Condense implements turn.Condenser
func (c *LLMCondenser) Condense(ctx context.Context, t turn.Context) (string, error) {
	reply, err := client.Complete[condenseReply](ctx, c.llm, "condensation",
		c.prompt.Render(nil), condenseInput(t), c.prompt.MaxTokens)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(reply.CondensedSummary)
	if summary == "" {
		return "", domain.ProtocolError("condensation: empty summary")
	}
	// the header is what ties the summary back to its turn; restore it when dropped
	if header := turn.SummaryHeader(t); !strings.HasPrefix(summary, header) {
		summary = header + "\n" + summary
	}
	condenserLogger.DebugWithIntention(pkgLogger.IntentionCondense, "Turn condensed",
		"turn", t.ID, "messages", len(t.Messages))
	return summary, nil
}

func condenseInput(t turn.Context) string {
	var b strings.Builder
	b.WriteString("turn_id: " + t.ID + "\n")
	b.WriteString("character: " + t.ActiveParticipant + "\n")
	b.WriteString("level: " + strconv.Itoa(t.Level) + "\n")
	if t.StepObjective != "" {
		b.WriteString("last objective: " + t.StepObjective + "\n")
	}
	b.WriteString("\nTURN MESSAGES (CHRONOLOGICAL ORDER):\n")
	b.WriteString(turn.RawSummary(t))
	return b.String()
}

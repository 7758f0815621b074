package agents

import (
	"context"
	"sort"
	"strings"

	"github.com/fpt/klein-dm/internal/prompt"
	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/fpt/klein-dm/pkg/client"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
)

var extractorLogger = pkgLogger.NewComponentLogger("state-extractor")

type extractReply struct {
	Deltas []domain.AttributeDelta `json:"deltas" jsonschema:"required"`
}

// LLMExtractor turns resolved messages into attribute deltas
type LLMExtractor struct {
	llm    domain.StructuredLLM
	prompt *prompt.Prompt
}

func NewLLMExtractor(llm domain.StructuredLLM, prompts prompt.Set) (*LLMExtractor, error) {
	p, err := prompts.Get(prompt.StateExtractor)
	if err != nil {
		return nil, err
	}
	return &LLMExtractor{llm: llm, prompt: p}, nil
}

// Extract implements domain.StateExtractor. Deltas naming characters that
// are not in state, or carrying an unknown op, are dropped.
func (e *LLMExtractor) Extract(ctx context.Context, p domain.Payload, state domain.GameState) ([]domain.AttributeDelta, error) {
	input := renderState(state) + p.Text
	reply, err := client.Complete[extractReply](ctx, e.llm, "state_extraction",
		e.prompt.Render(nil), input, e.prompt.MaxTokens)
	if err != nil {
		return nil, err
	}

	var out []domain.AttributeDelta
	for _, d := range reply.Deltas {
		d.Character = strings.TrimSpace(d.Character)
		d.Attribute = strings.ToLower(strings.TrimSpace(d.Attribute))
		d.Op = domain.DeltaOp(strings.ToLower(string(d.Op)))
		if d.Character == "" || d.Attribute == "" {
			continue
		}
		if len(state) > 0 {
			if _, ok := state[d.Character]; !ok {
				extractorLogger.WarnWithIntention(pkgLogger.IntentionExtraction, "Dropping delta for unknown character",
					"character", d.Character, "attribute", d.Attribute)
				continue
			}
		}
		if d.Op != domain.DeltaSet && d.Op != domain.DeltaAdd {
			extractorLogger.WarnWithIntention(pkgLogger.IntentionExtraction, "Dropping delta with unknown op",
				"character", d.Character, "op", d.Op)
			continue
		}
		out = append(out, d)
	}
	extractorLogger.DebugWithIntention(pkgLogger.IntentionExtraction, "Deltas extracted",
		"turn", p.TurnID, "received", len(reply.Deltas), "kept", len(out))
	return out, nil
}

func renderState(state domain.GameState) string {
	if len(state) == 0 {
		return ""
	}
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("<current_state>\n")
	for _, name := range names {
		attrs := state[name]
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("  " + name + ":")
		for _, k := range keys {
			b.WriteString(" " + k + "=" + attrs[k])
		}
		b.WriteString("\n")
	}
	b.WriteString("</current_state>\n")
	return b.String()
}

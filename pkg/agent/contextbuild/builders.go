// Package contextbuild turns a turn.Snapshot into the payload each
// collaborator is allowed to see. All builders are pure.
package contextbuild

import (
	"fmt"
	"strings"

	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/fpt/klein-dm/pkg/turn"
)

// DefaultHistoryTurns is how many closed root turns the narrator sees
const DefaultHistoryTurns = 3

// Options tune the narrator and flow-controller payloads
type Options struct {
	HistoryTurns int
	// RuleTypes filters the merged rules cache; empty keeps every entry
	RuleTypes []string
}

// Narrator builds the narrator payload: the ancestor chain with full
// message lists, the active objective and the unresponded input.
func Narrator(snap turn.Snapshot, opts Options) domain.Payload {
	return chainPayload(snap, opts)
}

// FlowController builds the flow-controller payload. It sees the same
// ancestor chain as the narrator, never an isolated view.
func FlowController(snap turn.Snapshot, opts Options) domain.Payload {
	return chainPayload(snap, opts)
}

func chainPayload(snap turn.Snapshot, opts Options) domain.Payload {
	active, ok := snap.Active()
	if !ok {
		return domain.Payload{}
	}
	chain := snap.AncestorChain()
	newMsgs := active.UnrespondedLive()

	var b strings.Builder
	fmt.Fprintf(&b, "<objective>%s</objective>\n", escape(active.StepObjective))

	if history := snap.RecentHistory(opts.HistoryTurns); len(history) > 0 {
		b.WriteString("<history_turns>\n")
		for _, h := range history {
			b.WriteString(escape(h))
			b.WriteByte('\n')
		}
		b.WriteString("</history_turns>\n")
	}

	b.WriteString("<current_turn>\n")
	for i, t := range chain {
		writeTurnLog(&b, t, i == len(chain)-1)
	}
	b.WriteString("</current_turn>\n")

	writeKnownRules(&b, snap.MergedCache(opts.RuleTypes...))
	writeNewMessages(&b, newMsgs)

	return domain.Payload{
		Text:        b.String(),
		TurnID:      active.ID,
		Level:       active.Level,
		Participant: active.ActiveParticipant,
		Objective:   active.StepObjective,
		Chain:       chain,
		NewMessages: newMsgs,
	}
}

// StateExtractor builds the extractor payload from the unresponded live
// messages of the active turn only. Ancestors and condensed summaries are
// excluded so a change already extracted in a child is not counted again.
func StateExtractor(snap turn.Snapshot) domain.Payload {
	active, ok := snap.Active()
	if !ok {
		return domain.Payload{}
	}
	msgs := active.UnrespondedLive()

	var b strings.Builder
	fmt.Fprintf(&b, "<game_context turn_id=\"%s\" level=\"%d\" participant=\"%s\"/>\n",
		attr(active.ID), active.Level, attr(active.ActiveParticipant))
	b.WriteString("<turn_log>\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "  <message speaker=\"%s\">%s</message>\n", attr(m.Speaker), escape(m.Content))
	}
	b.WriteString("</turn_log>\n")

	return domain.Payload{
		Text:        b.String(),
		TurnID:      active.ID,
		Level:       active.Level,
		Participant: active.ActiveParticipant,
		Objective:   active.StepObjective,
		NewMessages: msgs,
	}
}

package domain

import (
	"strings"

	"github.com/fpt/klein-dm/pkg/turn"
)

// DirectiveKind names a structural directive issued by the flow-controller
type DirectiveKind string

const (
	DirectiveSetObjective   DirectiveKind = "set_objective"
	DirectiveQueueReactions DirectiveKind = "queue_reactions"
	DirectiveEndTurn        DirectiveKind = "end_turn"
)

// Directive is one of SetObjective, QueueReactions or EndTurn.
// The set is closed: the orchestrator switches over it exhaustively.
type Directive interface {
	Kind() DirectiveKind
	// Validate reports a malformed directive as ErrAgentProtocol
	Validate() error
	isDirective()
}

// SetObjective replaces the active turn's step objective
type SetObjective struct {
	Text string
}

// QueueReactions opens a new level of subturns under the active turn.
// Every queued turn starts with Objective.
type QueueReactions struct {
	Declarations []turn.Declaration
	Objective    string
}

// EndTurn condenses the active turn into its parent. On the root level it
// closes the round and opens a new root turn for NextParticipant.
type EndTurn struct {
	NextParticipant string
}

func (SetObjective) Kind() DirectiveKind   { return DirectiveSetObjective }
func (QueueReactions) Kind() DirectiveKind { return DirectiveQueueReactions }
func (EndTurn) Kind() DirectiveKind        { return DirectiveEndTurn }

func (SetObjective) isDirective()   {}
func (QueueReactions) isDirective() {}
func (EndTurn) isDirective()        {}

func (d SetObjective) Validate() error {
	if strings.TrimSpace(d.Text) == "" {
		return ProtocolError("set_objective without objective text")
	}
	return nil
}

func (d QueueReactions) Validate() error {
	if len(d.Declarations) == 0 {
		return ProtocolError("queue_reactions without declarations")
	}
	for i, decl := range d.Declarations {
		if strings.TrimSpace(decl.Speaker) == "" {
			return ProtocolError("queue_reactions declaration %d has no speaker", i)
		}
	}
	return nil
}

func (EndTurn) Validate() error { return nil }

// ParseDirective builds a directive from its wire kind
func ParseDirective(kind string, objective string, decls []turn.Declaration, next string) (Directive, error) {
	switch DirectiveKind(strings.ToLower(strings.TrimSpace(kind))) {
	case DirectiveSetObjective:
		return SetObjective{Text: objective}, nil
	case DirectiveQueueReactions:
		return QueueReactions{Declarations: decls, Objective: objective}, nil
	case DirectiveEndTurn:
		return EndTurn{NextParticipant: next}, nil
	default:
		return nil, ProtocolError("unknown directive %q", kind)
	}
}

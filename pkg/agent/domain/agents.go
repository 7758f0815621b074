package domain

import (
	"context"

	"github.com/fpt/klein-dm/pkg/turn"
)

// Payload is what a context builder hands to one collaborator. Text is the
// rendered prompt body; the other fields carry the same data structured.
type Payload struct {
	Text        string
	TurnID      string
	Level       int
	Participant string
	Objective   string
	// Chain is the ancestor chain, root first. Empty for the state extractor.
	Chain       []turn.Context
	NewMessages []turn.Message
}

// ResponseType says what kind of reply the narrator is waiting for
type ResponseType string

const (
	ResponseAction      ResponseType = "action"
	ResponseInitiative  ResponseType = "initiative"
	ResponseSavingThrow ResponseType = "saving_throw"
	ResponseReaction    ResponseType = "reaction"
	ResponseFreeForm    ResponseType = "free_form"
	ResponseNone        ResponseType = "none"
)

// Awaiting names who should speak next
type Awaiting struct {
	Characters   []string     `json:"characters"`
	ResponseType ResponseType `json:"response_type"`
	Prompt       string       `json:"prompt,omitempty"`
}

// Fact is a ruling or piece of game state the narrator wants remembered
// for the rest of the active turn and any reaction opened under it
type Fact struct {
	Key   string `json:"key" jsonschema:"required,description=Short identifier such as shield_spell or goblin_cover"`
	Type  string `json:"type" jsonschema:"required,enum=rule,enum=fact,enum=spell,enum=condition"`
	Value string `json:"value" jsonschema:"required,description=The ruling or value to remember"`
}

// NarratorResult is the narrator's reply for one call
type NarratorResult struct {
	Content      string
	StepComplete bool
	Awaiting     *Awaiting
	Facts        []Fact
}

// FlowResult is the flow-controller's reply: exactly one directive
type FlowResult struct {
	Directive Directive
	// Objective, when set, becomes the new active turn's objective after
	// EndTurn, and the queued turns' objective when QueueReactions has none.
	Objective          string
	ExtractionRequired bool
}

// Narrator produces player-facing content and judges step completion
type Narrator interface {
	Narrate(ctx context.Context, p Payload) (NarratorResult, error)
}

// FlowController advances objectives and issues structural directives
type FlowController interface {
	Direct(ctx context.Context, p Payload) (FlowResult, error)
}

// StateExtractor turns the active turn's new live messages into attribute deltas
type StateExtractor interface {
	Extract(ctx context.Context, p Payload, state GameState) ([]AttributeDelta, error)
}

// Condenser summarizes a terminating turn
type Condenser = turn.Condenser

package agents

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fpt/klein-dm/pkg/agent/domain"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
)

//go:embed scripts/combat.yaml
var defaultScript []byte

// Step is one objective of a script
type Step struct {
	Objective string `yaml:"objective"`
	// Extract requests state extraction once this step completes
	Extract bool `yaml:"extract,omitempty"`
}

// Script is a fixed sequence of objectives for main turns and for
// reaction turns.
type Script struct {
	Name     string `yaml:"name"`
	Main     []Step `yaml:"main"`
	Reaction []Step `yaml:"reaction"`
	// RoundStart is the main step later root turns begin at; earlier
	// steps run once per session.
	RoundStart int `yaml:"round_start"`
}

// ParseScript decodes and validates a YAML script
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScript reads a script file; an empty path selects the built-in
// combat script.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return ParseScript(defaultScript)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return ParseScript(data)
}

func (s *Script) Validate() error {
	if len(s.Main) == 0 {
		return fmt.Errorf("script %q has no main steps", s.Name)
	}
	if len(s.Reaction) == 0 {
		return fmt.Errorf("script %q has no reaction steps", s.Name)
	}
	if s.RoundStart < 0 || s.RoundStart >= len(s.Main) {
		return fmt.Errorf("script %q: round_start %d out of range", s.Name, s.RoundStart)
	}
	for i, st := range s.Main {
		if strings.TrimSpace(st.Objective) == "" {
			return fmt.Errorf("script %q: main step %d has no objective", s.Name, i)
		}
	}
	for i, st := range s.Reaction {
		if strings.TrimSpace(st.Objective) == "" {
			return fmt.Errorf("script %q: reaction step %d has no objective", s.Name, i)
		}
	}
	return nil
}

// OpeningObjective is the first main objective
func (s *Script) OpeningObjective() string { return s.Main[0].Objective }

// ReactionObjective is the first reaction objective
func (s *Script) ReactionObjective() string { return s.Reaction[0].Objective }

// ScriptedFlow is a flow-controller without a model: each completed step
// advances the active turn to the next objective of its script, and a turn
// whose script is exhausted ends. Root turns hand over to the next name in
// order and restart the main script at RoundStart.
type ScriptedFlow struct {
	script *Script
	order  []string
	logger *pkgLogger.Logger

	mu  sync.Mutex
	pos map[string]int // turn id -> index of the step in progress
	// set when a root turn ended; the next unseen root turn starts at RoundStart
	roundPending bool
}

func NewScriptedFlow(script *Script, order []string) *ScriptedFlow {
	return &ScriptedFlow{
		script: script,
		order:  append([]string(nil), order...),
		logger: pkgLogger.NewComponentLogger("scripted-flow"),
		pos:    map[string]int{},
	}
}

// Direct implements domain.FlowController
func (f *ScriptedFlow) Direct(_ context.Context, p domain.Payload) (domain.FlowResult, error) {
	if p.TurnID == "" {
		return domain.FlowResult{}, domain.ProtocolError("scripted flow: no active turn")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	steps := f.script.Main
	if p.Level > 0 {
		steps = f.script.Reaction
	}
	cur, seen := f.pos[p.TurnID]
	if !seen && p.Level == 0 && f.roundPending {
		cur = f.script.RoundStart
		f.roundPending = false
	}
	extract := cur < len(steps) && steps[cur].Extract

	if next := cur + 1; next < len(steps) {
		f.pos[p.TurnID] = next
		f.logger.DebugWithIntention(pkgLogger.IntentionDirective, "Advancing script",
			"turn", p.TurnID, "step", next, "of", len(steps))
		return domain.FlowResult{
			Directive:          domain.SetObjective{Text: steps[next].Objective},
			ExtractionRequired: extract,
		}, nil
	}

	delete(f.pos, p.TurnID)
	if p.Level > 0 {
		// the interrupted turn resumes at its own objective
		return domain.FlowResult{Directive: domain.EndTurn{}, ExtractionRequired: extract}, nil
	}
	f.roundPending = true
	return domain.FlowResult{
		Directive:          domain.EndTurn{NextParticipant: f.nextAfter(p.Participant)},
		Objective:          f.script.Main[f.script.RoundStart].Objective,
		ExtractionRequired: extract,
	}, nil
}

// Reset forgets all per-turn progress
func (f *ScriptedFlow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = map[string]int{}
	f.roundPending = false
}

func (f *ScriptedFlow) nextAfter(participant string) string {
	if len(f.order) == 0 {
		return ""
	}
	for i, name := range f.order {
		if strings.EqualFold(name, participant) {
			return f.order[(i+1)%len(f.order)]
		}
	}
	return f.order[0]
}

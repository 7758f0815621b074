package turn

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/pkg/errors"
)

// ErrStructural is returned when an operation does not fit the current
// stack shape. The stack is never modified when it is returned.
var ErrStructural = errors.New("structural error")

func structural(format string, args ...any) error {
	return errors.Wrapf(ErrStructural, format, args...)
}

// Condenser turns a terminating turn into a single summary text
type Condenser interface {
	Condense(ctx context.Context, t Context) (string, error)
}

// Stack is the turn stack of one game session: LIFO across levels, FIFO
// within a level. The front of the top level is the active turn.
//
// Stack is not safe for concurrent use; it has exactly one writer.
type Stack struct {
	levels [][]*Context

	seq          uint64
	rootCounter  int
	totalStarted int
	completed    []string

	now func() time.Time
}

// NewStack returns an empty stack. A root turn must be opened before any
// other operation succeeds.
func NewStack() *Stack {
	return &Stack{now: time.Now}
}

// Empty reports whether no turn is open
func (s *Stack) Empty() bool { return len(s.levels) == 0 }

// Depth is the number of levels on the stack
func (s *Stack) Depth() int { return len(s.levels) }

func (s *Stack) active() *Context {
	if len(s.levels) == 0 {
		return nil
	}
	return s.levels[len(s.levels)-1][0]
}

// Active returns a copy of the active turn
func (s *Stack) Active() (Context, bool) {
	a := s.active()
	if a == nil {
		return Context{}, false
	}
	return a.clone(), true
}

func (s *Stack) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// StartRootTurn opens a new level-0 turn with an empty cache.
// Only one root turn may be open at a time.
func (s *Stack) StartRootTurn(participant, objective string) (Context, error) {
	if !s.Empty() {
		return Context{}, structural("root turn %s is still open", s.levels[0][0].ID)
	}
	s.rootCounter++
	s.totalStarted++
	root := &Context{
		ID:                fmt.Sprintf("%d", s.rootCounter),
		ActiveParticipant: participant,
		StepObjective:     objective,
		Cache:             map[string]CacheEntry{},
		Metadata:          map[string]string{},
		StartedAt:         s.now(),
	}
	s.levels = append(s.levels, []*Context{root})
	return root.clone(), nil
}

// StartAndQueueTurns pushes a new level holding one child turn per
// declaration, each seeded with the declaration as a live message, a copy
// of the parent's cache and objective. It returns the first declared turn.
func (s *Stack) StartAndQueueTurns(decls []Declaration, objective string) (Context, error) {
	parent := s.active()
	if parent == nil {
		return Context{}, structural("start turns on an empty stack")
	}
	if len(decls) == 0 {
		return Context{}, structural("start turns without declarations")
	}

	level := len(s.levels)
	queue := make([]*Context, 0, len(decls))
	for _, d := range decls {
		parent.children++
		id := fmt.Sprintf("%s.%d", parent.ID, parent.children)
		child := &Context{
			ID:                id,
			Level:             level,
			ActiveParticipant: d.Speaker,
			StepObjective:     objective,
			Cache:             maps.Clone(parent.Cache),
			Metadata:          map[string]string{},
			StartedAt:         s.now(),
		}
		if child.Cache == nil {
			child.Cache = map[string]CacheEntry{}
		}
		child.Messages = append(child.Messages, Message{
			Content:   d.Content,
			Speaker:   d.Speaker,
			Kind:      KindLive,
			Timestamp: s.nextSeq(),
			Origin:    id,
		})
		queue = append(queue, child)
	}
	s.levels = append(s.levels, queue)
	s.totalStarted += len(queue)
	return queue[0].clone(), nil
}

// PrepareEnd validates that the active turn can be ended and returns a
// copy of it for condensation. Nothing is modified.
func (s *Stack) PrepareEnd() (Context, error) {
	if s.Empty() {
		return Context{}, structural("end turn on an empty stack")
	}
	if len(s.levels) == 1 {
		return Context{}, structural("end turn %s: root turn has no parent", s.levels[0][0].ID)
	}
	return s.active().clone(), nil
}

// CommitEnd appends summary to the parent of turn id as a condensed
// message, dequeues the turn, pops its level when drained, and returns the
// new active turn. id must still be the active turn.
func (s *Stack) CommitEnd(id, summary string) (Context, error) {
	t, err := s.PrepareEnd()
	if err != nil {
		return Context{}, err
	}
	if t.ID != id {
		return Context{}, structural("end turn %s: active turn is %s", id, t.ID)
	}

	top := len(s.levels) - 1
	parent := s.levels[top-1][0]
	parent.Messages = append(parent.Messages, Message{
		Content:   summary,
		Speaker:   t.ActiveParticipant,
		Kind:      KindCondensedSubturn,
		Timestamp: s.nextSeq(),
		Origin:    t.ID,
	})

	s.levels[top][0].EndedAt = s.now()
	s.levels[top] = s.levels[top][1:]
	if len(s.levels[top]) == 0 {
		s.levels = s.levels[:top]
	}
	return s.active().clone(), nil
}

// EndTurnAndGetNext condenses the active subturn, folds the summary into
// its parent and returns the next active turn. If condensation fails the
// stack is left untouched and the error is returned.
func (s *Stack) EndTurnAndGetNext(ctx context.Context, c Condenser) (Context, error) {
	t, err := s.PrepareEnd()
	if err != nil {
		return Context{}, err
	}
	summary, err := c.Condense(ctx, t)
	if err != nil {
		return Context{}, errors.Wrapf(err, "condense turn %s", t.ID)
	}
	return s.CommitEnd(t.ID, summary)
}

// PrepareEndRoot validates that the root turn can be closed: no subturn
// may be open.
func (s *Stack) PrepareEndRoot() (Context, error) {
	if s.Empty() {
		return Context{}, structural("end root turn on an empty stack")
	}
	if len(s.levels) > 1 {
		return Context{}, structural("end root turn %s with %d open subturn level(s)", s.levels[0][0].ID, len(s.levels)-1)
	}
	return s.active().clone(), nil
}

// CommitEndRoot records summary in the completed-turn history and closes
// the root turn, leaving the stack empty.
func (s *Stack) CommitEndRoot(id, summary string) error {
	t, err := s.PrepareEndRoot()
	if err != nil {
		return err
	}
	if t.ID != id {
		return structural("end root turn %s: active turn is %s", id, t.ID)
	}
	s.completed = append(s.completed, summary)
	s.levels = nil
	return nil
}

// SetNextStepObjective sets the objective of the active turn
func (s *Stack) SetNextStepObjective(text string) error {
	a := s.active()
	if a == nil {
		return structural("set objective on an empty stack")
	}
	a.StepObjective = text
	return nil
}

// SetActiveParticipant changes who the active turn belongs to
func (s *Stack) SetActiveParticipant(name string) error {
	a := s.active()
	if a == nil {
		return structural("set participant on an empty stack")
	}
	a.ActiveParticipant = name
	return nil
}

// AddNewMessage appends an unresponded message to the active turn
func (s *Stack) AddNewMessage(content, speaker string, kind Kind) (Message, error) {
	a := s.active()
	if a == nil {
		return Message{}, structural("add message on an empty stack")
	}
	m := Message{
		Content:   content,
		Speaker:   speaker,
		Kind:      kind,
		Timestamp: s.nextSeq(),
		Origin:    a.ID,
	}
	a.Messages = append(a.Messages, m)
	return m, nil
}

// MarkNewMessagesAsResponded flips every unresponded live message of the
// active turn and returns how many changed.
func (s *Stack) MarkNewMessagesAsResponded() int {
	a := s.active()
	if a == nil {
		return 0
	}
	n := 0
	for i := range a.Messages {
		if a.Messages[i].IsLive() && !a.Messages[i].Responded {
			a.Messages[i].Responded = true
			n++
		}
	}
	return n
}

// CacheRule stores a fact in the active turn's cache. Children created
// later see it; existing children and siblings do not.
func (s *Stack) CacheRule(key string, entry CacheEntry) error {
	a := s.active()
	if a == nil {
		return structural("cache rule on an empty stack")
	}
	a.Cache[key] = entry
	return nil
}

// Snapshot returns a deep copy of the stack
func (s *Stack) Snapshot() Snapshot {
	snap := Snapshot{
		Levels:         make([][]Context, len(s.levels)),
		CompletedTurns: append([]string(nil), s.completed...),
	}
	for i, q := range s.levels {
		snap.Levels[i] = make([]Context, len(q))
		for j, t := range q {
			snap.Levels[i][j] = t.clone()
		}
	}
	return snap
}

// CompletedTurns returns the summaries of closed root turns, oldest first
func (s *Stack) CompletedTurns() []string {
	return append([]string(nil), s.completed...)
}

// ClearHistory drops the completed-turn history
func (s *Stack) ClearHistory() { s.completed = nil }

// Reset discards all open turns, history and counters
func (s *Stack) Reset() {
	*s = Stack{now: s.now}
}

// Stats summarizes the stack for status commands
type Stats struct {
	ActiveTurns       int    `json:"active_turns"`
	CurrentLevel      int    `json:"current_turn_level"`
	CompletedTurns    int    `json:"completed_turns"`
	TotalTurnsStarted int    `json:"total_turns_started"`
	CurrentTurnID     string `json:"current_turn_id"`
	StackDepth        int    `json:"turn_stack_depth"`
}

// String renders the counters on one line
func (st Stats) String() string {
	if st.CurrentTurnID == "" {
		return fmt.Sprintf("No active turn. Completed %d, started %d.", st.CompletedTurns, st.TotalTurnsStarted)
	}
	return fmt.Sprintf("Turn %s at level %d. Active %d, completed %d, started %d, depth %d.",
		st.CurrentTurnID, st.CurrentLevel, st.ActiveTurns, st.CompletedTurns, st.TotalTurnsStarted, st.StackDepth)
}

func (s *Stack) Stats() Stats {
	st := Stats{
		CompletedTurns:    len(s.completed),
		TotalTurnsStarted: s.totalStarted,
		StackDepth:        len(s.levels),
		CurrentLevel:      -1,
	}
	for _, q := range s.levels {
		st.ActiveTurns += len(q)
	}
	if a := s.active(); a != nil {
		st.CurrentTurnID = a.ID
		st.CurrentLevel = a.Level
	}
	return st
}

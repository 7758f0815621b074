// Package orchestrator runs the step-completion loop of one game session.
//
// An Orchestrator owns a turn.Stack and is its only writer. For each batch
// of external input it alternates between the narrator and, whenever the
// narrator reports its step complete, the flow-controller, applying one
// structural directive per round until the narrator waits for input again.
package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fpt/klein-dm/pkg/agent/contextbuild"
	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/fpt/klein-dm/pkg/agent/events"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
	"github.com/fpt/klein-dm/pkg/turn"
)

const (
	DefaultMaxIterations     = 12
	DefaultAgentRetries      = 2
	DefaultOpeningObjective  = "Greet the players and describe the opening scene."
	DefaultReactionObjective = "Resolve the reaction the active character declared."
)

const tracerName = "github.com/fpt/klein-dm/pkg/agent/orchestrator"

// Collaborators are the external services the loop calls. Narrator and
// Flow are required; the others degrade gracefully when nil.
type Collaborators struct {
	Narrator  domain.Narrator
	Flow      domain.FlowController
	Extractor domain.StateExtractor
	Condenser domain.Condenser
	State     domain.StateStore
}

// Result is everything one Step produced, in call order
type Result struct {
	Outputs    []string
	Deltas     []domain.AttributeDelta
	Awaiting   *domain.Awaiting
	Iterations int
	// Err marks a step that ended early: protocol exhaustion or the loop guard
	Err error
}

// Orchestrator drives one session's turn stack
type Orchestrator struct {
	mu     sync.Mutex
	stack  *turn.Stack
	collab Collaborators

	sessionID         string
	maxIterations     int
	retries           int
	openingObjective  string
	reactionObjective string
	buildOpts         contextbuild.Options

	emitter events.EventEmitter
	logger  *pkgLogger.Logger
	tracer  trace.Tracer
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithAgentRetries sets how many times a protocol error is retried
func WithAgentRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.retries = n
		}
	}
}

func WithOpeningObjective(text string) Option {
	return func(o *Orchestrator) {
		if text != "" {
			o.openingObjective = text
		}
	}
}

// WithReactionObjective sets the objective of queued reaction turns when
// the directive names none
func WithReactionObjective(text string) Option {
	return func(o *Orchestrator) {
		if text != "" {
			o.reactionObjective = text
		}
	}
}

func WithContextOptions(opts contextbuild.Options) Option {
	return func(o *Orchestrator) { o.buildOpts = opts }
}

func WithEventEmitter(e events.EventEmitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

func WithSessionID(id string) Option {
	return func(o *Orchestrator) { o.sessionID = id }
}

func WithLogger(l *pkgLogger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator over stack. A nil stack starts empty.
func New(stack *turn.Stack, collab Collaborators, opts ...Option) (*Orchestrator, error) {
	if collab.Narrator == nil || collab.Flow == nil {
		return nil, errors.New("orchestrator requires a narrator and a flow-controller")
	}
	if stack == nil {
		stack = turn.NewStack()
	}
	o := &Orchestrator{
		stack:             stack,
		collab:            collab,
		maxIterations:     DefaultMaxIterations,
		retries:           DefaultAgentRetries,
		openingObjective:  DefaultOpeningObjective,
		reactionObjective: DefaultReactionObjective,
		buildOpts:         contextbuild.Options{HistoryTurns: contextbuild.DefaultHistoryTurns},
		emitter:           events.NewSimpleEventEmitter(),
		tracer:            otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = pkgLogger.NewComponentLogger("orchestrator")
	}
	if o.sessionID != "" {
		o.logger = o.logger.WithSession(o.sessionID)
	}
	return o, nil
}

// Events returns the emitter the orchestrator reports to
func (o *Orchestrator) Events() events.EventEmitter { return o.emitter }

func (o *Orchestrator) SessionID() string { return o.sessionID }

// Snapshot returns a deep copy of the current stack
func (o *Orchestrator) Snapshot() turn.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stack.Snapshot()
}

// Dump renders the current stack for history commands
func (o *Orchestrator) Dump() string {
	return turn.Dump(o.Snapshot())
}

func (o *Orchestrator) Stats() turn.Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stack.Stats()
}

// Reset discards every open turn and the completed-turn history, and
// resets collaborators that track turns of their own.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stack.Reset()
	for _, c := range []any{o.collab.Narrator, o.collab.Flow, o.collab.Extractor, o.collab.Condenser} {
		if r, ok := c.(resetter); ok {
			r.Reset()
		}
	}
	o.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Turn stack cleared")
}

// ClearHistory forgets completed root turns but keeps the open ones
func (o *Orchestrator) ClearHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stack.ClearHistory()
	o.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Completed-turn history cleared")
}

// resetter is implemented by collaborators that keep per-turn state
type resetter interface {
	Reset()
}

// Step feeds one batch of external input through the loop and returns
// every narrator output it produced, in order. Calls are serialized.
func (o *Orchestrator) Step(ctx context.Context, inputs []turn.Declaration) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "orchestrator.step", trace.WithAttributes(
		attribute.String("session.id", o.sessionID),
		attribute.Int("inputs", len(inputs)),
	))
	defer span.End()

	res, err := o.step(ctx, inputs)
	span.SetAttributes(attribute.Int("iterations", res.Iterations), attribute.Int("outputs", len(res.Outputs)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (o *Orchestrator) step(ctx context.Context, inputs []turn.Declaration) (Result, error) {
	var res Result

	if o.stack.Empty() {
		participant := turn.SpeakerNarrator
		if len(inputs) > 0 && inputs[0].Speaker != "" {
			participant = inputs[0].Speaker
		}
		if _, err := o.stack.StartRootTurn(participant, o.openingObjective); err != nil {
			return res, err
		}
	} else if a, _ := o.stack.Active(); a.Level == 0 && a.ActiveParticipant == turn.SpeakerNarrator &&
		len(inputs) > 0 && inputs[0].Speaker != "" {
		// a root opened by an operator command belongs to whoever speaks first
		if err := o.stack.SetActiveParticipant(inputs[0].Speaker); err != nil {
			return res, err
		}
	}
	for _, in := range inputs {
		if _, err := o.stack.AddNewMessage(in.Content, in.Speaker, turn.KindLive); err != nil {
			return res, err
		}
	}
	o.emit(events.EventTypeStepStarted, nil, nil)

	for i := 0; ; i++ {
		res.Iterations = i
		if i >= o.maxIterations {
			return o.loopGuard(res)
		}
		iter := &events.IterationInfo{Current: i, Maximum: o.maxIterations}
		if err := ctx.Err(); err != nil {
			o.logger.InfoWithIntention(pkgLogger.IntentionCancel, "Step cancelled, stack left as is")
			return res, err
		}

		// narrator
		payload := contextbuild.Narrator(o.stack.Snapshot(), o.buildOpts)
		nr, err := withRetry(ctx, o, "narrator", func(ctx context.Context) (domain.NarratorResult, error) {
			r, err := o.collab.Narrator.Narrate(ctx, payload)
			if err == nil && strings.TrimSpace(r.Content) == "" {
				err = domain.ProtocolError("narrator returned empty content")
			}
			return r, err
		})
		if err != nil {
			return o.failStep(ctx, res, "narrator", err)
		}

		if _, err := o.stack.AddNewMessage(nr.Content, turn.SpeakerNarrator, turn.KindLive); err != nil {
			return res, err
		}
		res.Outputs = append(res.Outputs, nr.Content)
		res.Awaiting = nr.Awaiting
		o.cacheFacts(nr.Facts)
		o.emit(events.EventTypeNarration, events.NarrationData{Content: nr.Content, StepComplete: nr.StepComplete}, iter)
		o.logger.DebugWithIntention(pkgLogger.IntentionNarration, "Narrator replied", "step_complete", nr.StepComplete, "iteration", i)

		if !nr.StepComplete {
			o.stack.MarkNewMessagesAsResponded()
			res.Iterations = i + 1
			o.emit(events.EventTypeStepFinished, nil, iter)
			return res, nil
		}

		// flow-controller
		snap := o.stack.Snapshot()
		flowPayload := contextbuild.FlowController(snap, o.buildOpts)
		fr, err := withRetry(ctx, o, "flow-controller", func(ctx context.Context) (domain.FlowResult, error) {
			r, err := o.collab.Flow.Direct(ctx, flowPayload)
			if err != nil {
				return r, err
			}
			if r.Directive == nil {
				return r, domain.ProtocolError("flow-controller returned no directive")
			}
			return r, r.Directive.Validate()
		})
		if err != nil {
			return o.failStep(ctx, res, "flow-controller", err)
		}

		var deltas []domain.AttributeDelta
		if fr.ExtractionRequired {
			deltas, err = o.extract(ctx, snap)
			if err != nil {
				return res, err
			}
		}

		if err := o.apply(ctx, fr, deltas, iter); err != nil {
			return res, err
		}
		res.Deltas = append(res.Deltas, deltas...)
	}
}

// Apply applies a single directive outside the loop, for operator commands.
// It follows the same all-or-nothing rules as directives from the flow-controller.
func (o *Orchestrator) Apply(ctx context.Context, d domain.Directive) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if d == nil {
		return domain.ProtocolError("nil directive")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	if o.stack.Empty() {
		if _, err := o.stack.StartRootTurn(turn.SpeakerNarrator, o.openingObjective); err != nil {
			return err
		}
	}
	return o.apply(ctx, domain.FlowResult{Directive: d}, nil, nil)
}

// apply commits fr atomically. All collaborator I/O (condensation) runs
// before the first mutation; once committing starts nothing can fail and
// ctx is no longer consulted.
func (o *Orchestrator) apply(ctx context.Context, fr domain.FlowResult, deltas []domain.AttributeDelta, iter *events.IterationInfo) error {
	var commit func() error

	switch d := fr.Directive.(type) {
	case domain.SetObjective:
		if _, ok := o.stack.Active(); !ok {
			return errors.Wrap(turn.ErrStructural, "set objective on an empty stack")
		}
		commit = func() error { return o.stack.SetNextStepObjective(d.Text) }

	case domain.QueueReactions:
		if o.stack.Empty() {
			return errors.Wrap(turn.ErrStructural, "queue reactions on an empty stack")
		}
		commit = func() error {
			_, err := o.stack.StartAndQueueTurns(d.Declarations, firstNonEmpty(d.Objective, fr.Objective, o.reactionObjective))
			return err
		}

	case domain.EndTurn:
		if o.stack.Depth() > 1 {
			t, err := o.stack.PrepareEnd()
			if err != nil {
				return err
			}
			summary, err := o.condense(ctx, t)
			if err != nil {
				return err
			}
			commit = func() error {
				if _, err := o.stack.CommitEnd(t.ID, summary); err != nil {
					return err
				}
				return o.setObjectiveIfAny(fr.Objective)
			}
		} else {
			t, err := o.stack.PrepareEndRoot()
			if err != nil {
				return err
			}
			summary, err := o.condense(ctx, t)
			if err != nil {
				return err
			}
			next := strings.TrimSpace(d.NextParticipant)
			if next == "" {
				next = t.ActiveParticipant
			}
			commit = func() error {
				if err := o.stack.CommitEndRoot(t.ID, summary); err != nil {
					return err
				}
				_, err := o.stack.StartRootTurn(next, firstNonEmpty(fr.Objective, o.openingObjective))
				return err
			}
		}

	default:
		return domain.ProtocolError("unsupported directive %T", fr.Directive)
	}

	// commit
	o.stack.MarkNewMessagesAsResponded()
	if err := commit(); err != nil {
		return errors.Wrapf(err, "commit %s", fr.Directive.Kind())
	}
	o.applyDeltas(deltas, iter)

	active, _ := o.stack.Active()
	o.emit(events.EventTypeDirective, events.DirectiveData{
		Kind:         string(fr.Directive.Kind()),
		Objective:    active.StepObjective,
		ActiveTurnID: active.ID,
	}, iter)
	o.logger.InfoWithIntention(pkgLogger.IntentionDirective, "Directive applied",
		"kind", fr.Directive.Kind(), "active_turn", active.ID, "level", active.Level)
	return nil
}

func (o *Orchestrator) setObjectiveIfAny(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return o.stack.SetNextStepObjective(text)
}

func firstNonEmpty(texts ...string) string {
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

// cacheFacts stores narrator facts on the active turn, where reactions
// queued under it inherit them
func (o *Orchestrator) cacheFacts(facts []domain.Fact) {
	for _, f := range facts {
		if err := o.stack.CacheRule(f.Key, turn.CacheEntry{Type: f.Type, Value: f.Value}); err != nil {
			o.logger.Warn("Could not cache fact", "key", f.Key, "error", err)
			continue
		}
		o.logger.DebugWithIntention(pkgLogger.IntentionNarration, "Fact cached", "key", f.Key, "type", f.Type)
	}
}

// condense summarizes t. An unavailable or misbehaving condenser is
// replaced by the raw transcript; only cancellation is returned.
func (o *Orchestrator) condense(ctx context.Context, t turn.Context) (string, error) {
	if o.collab.Condenser == nil {
		return turn.RawSummary(t), nil
	}
	summary, err := withRetry(ctx, o, "condenser", func(ctx context.Context) (string, error) {
		s, err := o.collab.Condenser.Condense(ctx, t)
		if err == nil && strings.TrimSpace(s) == "" {
			err = domain.ProtocolError("condenser returned an empty summary")
		}
		return s, err
	})
	if err == nil {
		return summary, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	o.logger.Warn("Condensation unavailable, using raw transcript", "turn", t.ID, "error", err)
	o.emit(events.EventTypeCondensationFallback, events.ErrorData{Error: err, Context: t.ID}, nil)
	return turn.RawSummary(t), nil
}

// extract runs state extraction over the isolated view of snap. Failures
// other than cancellation skip the delta.
func (o *Orchestrator) extract(ctx context.Context, snap turn.Snapshot) ([]domain.AttributeDelta, error) {
	if o.collab.Extractor == nil {
		o.logger.Debug("State extraction requested but no extractor configured")
		return nil, nil
	}
	payload := contextbuild.StateExtractor(snap)
	if len(payload.NewMessages) == 0 {
		return nil, nil
	}
	var state domain.GameState
	if o.collab.State != nil {
		state = o.collab.State.Snapshot()
	}

	deltas, err := withRetry(ctx, o, "state-extractor", func(ctx context.Context) ([]domain.AttributeDelta, error) {
		return o.collab.Extractor.Extract(ctx, payload, state)
	})
	if err == nil {
		return deltas, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	o.logger.Warn("State extraction unavailable, skipping delta", "turn", payload.TurnID, "error", err)
	o.emit(events.EventTypeExtractionSkipped, events.ErrorData{Error: err, Context: payload.TurnID}, nil)
	return nil, nil
}

func (o *Orchestrator) applyDeltas(deltas []domain.AttributeDelta, iter *events.IterationInfo) {
	if len(deltas) == 0 {
		return
	}
	if o.collab.State != nil {
		if err := o.collab.State.Apply(deltas); err != nil {
			o.logger.Warn("State store rejected deltas", "count", len(deltas), "error", err)
		}
	}
	o.emit(events.EventTypeExtraction, events.ExtractionData{Deltas: len(deltas)}, iter)
	o.logger.InfoWithIntention(pkgLogger.IntentionExtraction, "State deltas extracted", "count", len(deltas))
}

// failStep handles a collaborator error inside the loop. Protocol errors
// that survived every retry become a user-visible system line with the
// stack untouched; anything else aborts the step.
func (o *Orchestrator) failStep(ctx context.Context, res Result, name string, err error) (Result, error) {
	if ctx.Err() != nil {
		o.logger.InfoWithIntention(pkgLogger.IntentionCancel, "Step cancelled during collaborator call", "collaborator", name)
		return res, ctx.Err()
	}
	if errors.Is(err, domain.ErrAgentProtocol) {
		o.logger.Error("Collaborator kept returning malformed results", "collaborator", name, "error", err)
		res.Outputs = append(res.Outputs, SystemMessage("The "+name+" could not produce a usable reply. Nothing was changed; please try again."))
		res.Err = err
		return res, nil
	}
	return res, errors.Wrapf(err, "%s call failed", name)
}

func (o *Orchestrator) loopGuard(res Result) (Result, error) {
	err := errors.Wrapf(domain.ErrLoopGuardExceeded, "no pause for input after %d iterations", o.maxIterations)
	o.logger.Error("Step-completion loop exceeded its bound", "max_iterations", o.maxIterations)
	o.logger.Error("Turn stack at loop guard:\n" + turn.Dump(o.stack.Snapshot()))
	o.stack.MarkNewMessagesAsResponded()
	o.emit(events.EventTypeLoopGuard, events.ErrorData{Error: err}, &events.IterationInfo{Current: res.Iterations, Maximum: o.maxIterations})
	res.Err = err
	return res, err
}

// SystemMessage formats a user-visible notice from the engine itself
func SystemMessage(text string) string {
	return "[" + turn.SpeakerSystem + "] " + text
}

func (o *Orchestrator) emit(t events.EventType, data any, iter *events.IterationInfo) {
	if o.emitter == nil {
		return
	}
	turnID := ""
	if a, ok := o.stack.Active(); ok {
		turnID = a.ID
	}
	o.emitter.Emit(events.Event{Type: t, SessionID: o.sessionID, TurnID: turnID, Data: data, Iteration: iter})
}

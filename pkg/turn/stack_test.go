package turn

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

// recordingCondenser returns "summary of <id>" and remembers every call
type recordingCondenser struct {
	calls []string
	err   error
}

func (c *recordingCondenser) Condense(_ context.Context, t Context) (string, error) {
	c.calls = append(c.calls, t.ID)
	if c.err != nil {
		return "", c.err
	}
	return "summary of " + t.ID, nil
}

func newRootStack(t *testing.T) *Stack {
	t.Helper()
	s := NewStack()
	if _, err := s.StartRootTurn("T0", "open the fight"); err != nil {
		t.Fatalf("StartRootTurn failed: %v", err)
	}
	return s
}

func checkInvariants(t *testing.T, s *Stack) {
	t.Helper()
	snap := s.Snapshot()
	for i, q := range snap.Levels {
		if len(q) == 0 {
			t.Fatalf("level %d is empty but still on the stack", i)
		}
	}
	a, ok := s.Active()
	if ok != !snap.Empty() {
		t.Fatalf("Active() ok=%v but snapshot empty=%v", ok, snap.Empty())
	}
	if ok {
		want := snap.Levels[len(snap.Levels)-1][0]
		if a.ID != want.ID {
			t.Fatalf("active turn %s is not the front of the top level (%s)", a.ID, want.ID)
		}
	}
}

func TestReactionsEndInOrderIntoParent(t *testing.T) {
	s := newRootStack(t)
	c := &recordingCondenser{}

	front, err := s.StartAndQueueTurns([]Declaration{{Speaker: "B", Content: "x"}, {Speaker: "C", Content: "y"}}, "resolve the reaction")
	if err != nil {
		t.Fatalf("StartAndQueueTurns failed: %v", err)
	}
	if front.ActiveParticipant != "B" {
		t.Fatalf("expected B to be active, got %s", front.ActiveParticipant)
	}
	if front.StepObjective != "resolve the reaction" {
		t.Fatalf("first reaction objective = %q", front.StepObjective)
	}
	snap := s.Snapshot()
	if len(snap.Levels) != 2 || len(snap.Levels[1]) != 2 || len(snap.Levels[0]) != 1 {
		t.Fatalf("unexpected shape after queueing: %s", Dump(snap))
	}

	next, err := s.EndTurnAndGetNext(context.Background(), c)
	if err != nil {
		t.Fatalf("first EndTurnAndGetNext failed: %v", err)
	}
	if next.ActiveParticipant != "C" {
		t.Fatalf("expected C to be active, got %s", next.ActiveParticipant)
	}
	if next.StepObjective != "resolve the reaction" {
		t.Fatalf("queued sibling objective = %q", next.StepObjective)
	}
	if s.Depth() != 2 {
		t.Fatalf("expected level 1 to remain, depth=%d", s.Depth())
	}

	next, err = s.EndTurnAndGetNext(context.Background(), c)
	if err != nil {
		t.Fatalf("second EndTurnAndGetNext failed: %v", err)
	}
	if next.ID != "1" || s.Depth() != 1 {
		t.Fatalf("expected root turn restored, got %s at depth %d", next.ID, s.Depth())
	}
	if next.StepObjective != "open the fight" {
		t.Errorf("parent objective changed to %q", next.StepObjective)
	}

	condensed := next.Condensed()
	if len(condensed) != 2 {
		t.Fatalf("expected 2 condensed messages on T0, got %d", len(condensed))
	}
	if condensed[0].Content != "summary of 1.1" || condensed[1].Content != "summary of 1.2" {
		t.Errorf("condensed messages out of order: %q, %q", condensed[0].Content, condensed[1].Content)
	}
	if condensed[0].Timestamp >= condensed[1].Timestamp {
		t.Errorf("timestamps not increasing: %d then %d", condensed[0].Timestamp, condensed[1].Timestamp)
	}
	if strings.Join(c.calls, ",") != "1.1,1.2" {
		t.Errorf("expected one condensation per turn, got %v", c.calls)
	}
}

func TestStructuralErrorsDoNotMutate(t *testing.T) {
	c := &recordingCondenser{}

	empty := NewStack()
	if _, err := empty.StartAndQueueTurns([]Declaration{{Speaker: "A", Content: "x"}}, ""); !errors.Is(err, ErrStructural) {
		t.Errorf("expected ErrStructural on empty stack, got %v", err)
	}
	if _, err := empty.EndTurnAndGetNext(context.Background(), c); !errors.Is(err, ErrStructural) {
		t.Errorf("expected ErrStructural ending on empty stack, got %v", err)
	}

	root := newRootStack(t)
	before := Dump(root.Snapshot())
	if _, err := root.EndTurnAndGetNext(context.Background(), c); !errors.Is(err, ErrStructural) {
		t.Errorf("expected ErrStructural ending the root level, got %v", err)
	}
	if _, err := root.StartAndQueueTurns(nil, ""); !errors.Is(err, ErrStructural) {
		t.Errorf("expected ErrStructural for empty declarations, got %v", err)
	}
	if _, err := root.StartRootTurn("X", ""); !errors.Is(err, ErrStructural) {
		t.Errorf("expected ErrStructural for a second root turn, got %v", err)
	}
	if after := Dump(root.Snapshot()); after != before {
		t.Errorf("stack changed after failed operations:\nbefore:\n%s\nafter:\n%s", before, after)
	}
	if len(c.calls) != 0 {
		t.Errorf("condenser must not run for invalid ends, got %v", c.calls)
	}
}

func TestCondenserFailureLeavesStack(t *testing.T) {
	s := newRootStack(t)
	if _, err := s.StartAndQueueTurns([]Declaration{{Speaker: "B", Content: "x"}}, ""); err != nil {
		t.Fatal(err)
	}
	before := Dump(s.Snapshot())

	boom := errors.New("condenser offline")
	_, err := s.EndTurnAndGetNext(context.Background(), &recordingCondenser{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected condenser error, got %v", err)
	}
	if after := Dump(s.Snapshot()); after != before {
		t.Errorf("stack changed after condensation failure:\n%s", after)
	}
}

func TestCommitEndRejectsStaleID(t *testing.T) {
	s := newRootStack(t)
	if _, err := s.StartAndQueueTurns([]Declaration{{Speaker: "B", Content: "x"}, {Speaker: "C", Content: "y"}}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CommitEnd("1.2", "late"); !errors.Is(err, ErrStructural) {
		t.Errorf("expected ErrStructural for non-active id, got %v", err)
	}
}

func TestHierarchicalIDs(t *testing.T) {
	s := newRootStack(t)
	c := &recordingCondenser{}

	first, _ := s.StartAndQueueTurns([]Declaration{{Speaker: "B", Content: "shield"}}, "")
	if first.ID != "1.1" || first.Level != 1 {
		t.Fatalf("expected 1.1 at level 1, got %s at %d", first.ID, first.Level)
	}
	nested, _ := s.StartAndQueueTurns([]Declaration{{Speaker: "G", Content: "counter"}, {Speaker: "H", Content: "dodge"}}, "")
	if nested.ID != "1.1.1" || nested.Level != 2 {
		t.Fatalf("expected 1.1.1 at level 2, got %s at %d", nested.ID, nested.Level)
	}
	second, _ := s.EndTurnAndGetNext(context.Background(), c)
	if second.ID != "1.1.2" {
		t.Fatalf("expected sibling 1.1.2, got %s", second.ID)
	}
	s.EndTurnAndGetNext(context.Background(), c)
	s.EndTurnAndGetNext(context.Background(), c)

	// a later reaction window on the same parent continues the numbering
	later, _ := s.StartAndQueueTurns([]Declaration{{Speaker: "C", Content: "rage"}}, "")
	if later.ID != "1.2" {
		t.Fatalf("expected 1.2 for the second batch, got %s", later.ID)
	}
}

func TestCacheInheritance(t *testing.T) {
	s := newRootStack(t)
	s.CacheRule("shield", CacheEntry{Type: "spell", Value: "+5 AC"})

	if _, err := s.StartAndQueueTurns([]Declaration{{Speaker: "B", Content: "x"}, {Speaker: "C", Content: "y"}}, ""); err != nil {
		t.Fatal(err)
	}
	b, _ := s.Active()
	if b.Cache["shield"].Value != "+5 AC" {
		t.Fatalf("child did not inherit parent cache: %+v", b.Cache)
	}

	s.CacheRule("opportunity", CacheEntry{Type: "rule", Value: "leaving reach"})
	s.EndTurnAndGetNext(context.Background(), &recordingCondenser{})

	cTurn, _ := s.Active()
	if cTurn.ActiveParticipant != "C" {
		t.Fatalf("expected C active, got %s", cTurn.ActiveParticipant)
	}
	if _, leaked := cTurn.Cache["opportunity"]; leaked {
		t.Errorf("sibling cache write leaked into C: %+v", cTurn.Cache)
	}

	root := s.Snapshot().Levels[0][0]
	if _, leaked := root.Cache["opportunity"]; leaked {
		t.Errorf("child cache write leaked into parent: %+v", root.Cache)
	}
}

func TestNewRootTurnStartsWithEmptyCache(t *testing.T) {
	s := newRootStack(t)
	s.CacheRule("grapple", CacheEntry{Type: "rule", Value: "contested athletics"})

	root, _ := s.PrepareEndRoot()
	if err := s.CommitEndRoot(root.ID, "round one"); err != nil {
		t.Fatalf("CommitEndRoot failed: %v", err)
	}
	next, err := s.StartRootTurn("Bob", "")
	if err != nil {
		t.Fatalf("StartRootTurn failed: %v", err)
	}
	if len(next.Cache) != 0 {
		t.Errorf("new root turn inherited cache: %+v", next.Cache)
	}
	if next.ID != "2" {
		t.Errorf("expected root id 2, got %s", next.ID)
	}
	if got := s.CompletedTurns(); len(got) != 1 || got[0] != "round one" {
		t.Errorf("unexpected history %v", got)
	}
}

func TestEndRootWithOpenSubturn(t *testing.T) {
	s := newRootStack(t)
	s.StartAndQueueTurns([]Declaration{{Speaker: "B", Content: "x"}}, "")
	if _, err := s.PrepareEndRoot(); !errors.Is(err, ErrStructural) {
		t.Errorf("expected ErrStructural, got %v", err)
	}
}

func TestRandomSequenceKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := newRootStack(t)
	c := &recordingCondenser{}

	for i := 0; i < 500; i++ {
		switch rng.Intn(3) {
		case 0:
			n := 1 + rng.Intn(3)
			decls := make([]Declaration, n)
			for j := range decls {
				decls[j] = Declaration{Speaker: fmt.Sprintf("P%d", j), Content: "react"}
			}
			if _, err := s.StartAndQueueTurns(decls, ""); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
		case 1:
			// ending the root level is rejected; everything else must succeed
			if _, err := s.EndTurnAndGetNext(context.Background(), c); err != nil && !errors.Is(err, ErrStructural) {
				t.Fatalf("step %d: unexpected error %v", i, err)
			}
		case 2:
			if _, err := s.AddNewMessage("hello", "P0", KindLive); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
		}
		checkInvariants(t, s)
	}
}

func TestMarkNewMessagesAsResponded(t *testing.T) {
	s := newRootStack(t)
	s.AddNewMessage("I attack", "Alice", KindLive)
	s.AddNewMessage("Roll to hit", SpeakerNarrator, KindLive)

	if n := s.MarkNewMessagesAsResponded(); n != 2 {
		t.Fatalf("expected 2 flipped, got %d", n)
	}
	a, _ := s.Active()
	if len(a.UnrespondedLive()) != 0 {
		t.Errorf("expected no unresponded messages, got %d", len(a.UnrespondedLive()))
	}
	if n := s.MarkNewMessagesAsResponded(); n != 0 {
		t.Errorf("second mark should flip nothing, got %d", n)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := newRootStack(t)
	s.AddNewMessage("first", "Alice", KindLive)
	snap := s.Snapshot()

	s.AddNewMessage("second", "Alice", KindLive)
	s.SetNextStepObjective("changed")
	s.CacheRule("k", CacheEntry{Type: "rule", Value: "v"})
	s.MarkNewMessagesAsResponded()

	root := snap.Levels[0][0]
	if len(root.Messages) != 1 || root.Messages[0].Responded {
		t.Errorf("snapshot messages changed: %+v", root.Messages)
	}
	if root.StepObjective != "open the fight" {
		t.Errorf("snapshot objective changed: %q", root.StepObjective)
	}
	if len(root.Cache) != 0 {
		t.Errorf("snapshot cache changed: %+v", root.Cache)
	}
}

func TestStats(t *testing.T) {
	s := newRootStack(t)
	s.StartAndQueueTurns([]Declaration{{Speaker: "B", Content: "x"}, {Speaker: "C", Content: "y"}}, "")

	st := s.Stats()
	want := Stats{ActiveTurns: 3, CurrentLevel: 1, TotalTurnsStarted: 3, CurrentTurnID: "1.1", StackDepth: 2}
	if st != want {
		t.Errorf("Stats() = %+v, want %+v", st, want)
	}

	s.Reset()
	if st := s.Stats(); st.StackDepth != 0 || st.CurrentLevel != -1 || st.TotalTurnsStarted != 0 {
		t.Errorf("unexpected stats after Reset: %+v", st)
	}
}

func TestSetActiveParticipant(t *testing.T) {
	s := NewStack()
	if err := s.SetActiveParticipant("Alice"); !errors.Is(err, ErrStructural) {
		t.Errorf("expected ErrStructural on an empty stack, got %v", err)
	}
	s.StartRootTurn(SpeakerNarrator, "open")
	if err := s.SetActiveParticipant("Alice"); err != nil {
		t.Fatal(err)
	}
	if a, _ := s.Active(); a.ActiveParticipant != "Alice" {
		t.Errorf("participant = %q", a.ActiveParticipant)
	}
}

func TestClearHistoryKeepsOpenTurns(t *testing.T) {
	s := newRootStack(t)
	root, _ := s.PrepareEndRoot()
	s.CommitEndRoot(root.ID, "round one")
	s.StartRootTurn("Bob", "next round")
	s.AddNewMessage("I search the room", "Bob", KindLive)

	s.ClearHistory()
	if got := s.CompletedTurns(); len(got) != 0 {
		t.Errorf("history not cleared: %v", got)
	}
	st := s.Stats()
	if st.CurrentTurnID != "2" || st.CompletedTurns != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
	if a, _ := s.Active(); len(a.Messages) != 1 {
		t.Errorf("open turn lost its messages: %+v", a.Messages)
	}
}

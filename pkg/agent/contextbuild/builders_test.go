package contextbuild

import (
	"context"
	"strings"
	"testing"

	"github.com/fpt/klein-dm/pkg/turn"
)

type fixedCondenser struct{}

func (fixedCondenser) Condense(_ context.Context, t turn.Context) (string, error) {
	return turn.SummaryHeader(t) + "\nResolution: CONDENSED-" + t.ID, nil
}

// nestedStack builds: root "1" (Alice) with one condensed child 1.1,
// active level-1 turn 1.2 (Bob) with a queued sibling 1.3 (Cara).
func nestedStack(t *testing.T) *turn.Stack {
	t.Helper()
	s := turn.NewStack()
	if _, err := s.StartRootTurn("Alice", "Resolve Alice's attack"); err != nil {
		t.Fatal(err)
	}
	s.AddNewMessage("I attack the goblin", "Alice", turn.KindLive)
	s.MarkNewMessagesAsResponded()
	if _, err := s.StartAndQueueTurns([]turn.Declaration{
		{Speaker: "Gob", Content: "I hiss"},
		{Speaker: "Bob", Content: "I cast Shield on Alice"},
		{Speaker: "Cara", Content: "SIBLING-SECRET"},
	}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.EndTurnAndGetNext(context.Background(), fixedCondenser{}); err != nil {
		t.Fatal(err)
	}
	s.SetNextStepObjective("Confirm Bob's reaction")
	s.AddNewMessage("Is that allowed?", "Bob", turn.KindLive)
	return s
}

func TestNarratorSeesAncestorChain(t *testing.T) {
	s := nestedStack(t)
	p := Narrator(s.Snapshot(), Options{HistoryTurns: DefaultHistoryTurns})

	if p.TurnID != "1.2" || p.Level != 1 || p.Participant != "Bob" {
		t.Fatalf("unexpected payload header: %+v", p)
	}
	if len(p.Chain) != 2 || p.Chain[0].ID != "1" || p.Chain[1].ID != "1.2" {
		t.Fatalf("unexpected chain: %+v", p.Chain)
	}
	for _, want := range []string{
		"<objective>Confirm Bob's reaction</objective>",
		"I attack the goblin",
		"CONDENSED-1.1",
		"I cast Shield on Alice",
		"<new_messages>",
		`<message speaker="Bob">Is that allowed?</message>`,
	} {
		if !strings.Contains(p.Text, want) {
			t.Errorf("narrator text missing %q:\n%s", want, p.Text)
		}
	}
	if strings.Contains(p.Text, "SIBLING-SECRET") {
		t.Errorf("queued sibling leaked into narrator context:\n%s", p.Text)
	}
	if strings.Count(p.Text, "Is that allowed?") != 1 {
		t.Errorf("new input must appear once:\n%s", p.Text)
	}
}

func TestFlowControllerMatchesNarratorChain(t *testing.T) {
	snap := nestedStack(t).Snapshot()
	n := Narrator(snap, Options{})
	f := FlowController(snap, Options{})
	if n.Text != f.Text {
		t.Errorf("flow-controller context differs from narrator context")
	}
	// Bob's seeded declaration and his question are both unresponded
	if len(f.NewMessages) != 2 {
		t.Errorf("expected 2 new messages, got %d", len(f.NewMessages))
	}
}

func TestStateExtractorIsolation(t *testing.T) {
	s := nestedStack(t)

	// pop back to the root, which now holds three condensed summaries
	s.MarkNewMessagesAsResponded()
	s.EndTurnAndGetNext(context.Background(), fixedCondenser{})
	s.EndTurnAndGetNext(context.Background(), fixedCondenser{})
	s.AddNewMessage("The goblin falls", turn.SpeakerNarrator, turn.KindLive)

	for _, snap := range []turn.Snapshot{nestedStack(t).Snapshot(), s.Snapshot()} {
		p := StateExtractor(snap)
		for _, m := range p.NewMessages {
			if m.IsCondensed() {
				t.Fatalf("extractor payload carries a condensed message: %+v", m)
			}
		}
		if strings.Contains(p.Text, "CONDENSED") {
			t.Errorf("extractor text contains condensed content:\n%s", p.Text)
		}
		if len(p.Chain) != 0 {
			t.Errorf("extractor payload must not carry the ancestor chain")
		}
	}

	root := StateExtractor(s.Snapshot())
	if len(root.NewMessages) != 1 || root.NewMessages[0].Content != "The goblin falls" {
		t.Errorf("expected only the unresponded root message, got %+v", root.NewMessages)
	}
	if strings.Contains(root.Text, "I attack the goblin") {
		t.Errorf("responded messages leaked into extractor text:\n%s", root.Text)
	}
}

func TestHistoryTurnsAreBounded(t *testing.T) {
	s := turn.NewStack()
	for i, summary := range []string{"round-A", "round-B", "round-C", "round-D"} {
		root, err := s.StartRootTurn("P", "")
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if err := s.CommitEndRoot(root.ID, summary); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
	}
	s.StartRootTurn("P", "next")

	p := Narrator(s.Snapshot(), Options{HistoryTurns: 3})
	if strings.Contains(p.Text, "round-A") {
		t.Errorf("oldest history turn should be dropped:\n%s", p.Text)
	}
	for _, want := range []string{"round-B", "round-C", "round-D"} {
		if !strings.Contains(p.Text, want) {
			t.Errorf("missing history %q", want)
		}
	}
}

func TestEscaping(t *testing.T) {
	s := turn.NewStack()
	s.StartRootTurn(`Al "the" <bold>`, "")
	s.AddNewMessage("a < b && c", "Al", turn.KindLive)

	p := Narrator(s.Snapshot(), Options{})
	if !strings.Contains(p.Text, `participant="Al &quot;the&quot; &lt;bold&gt;"`) {
		t.Errorf("participant not escaped:\n%s", p.Text)
	}
	if !strings.Contains(p.Text, "a &lt; b &amp;&amp; c") {
		t.Errorf("content not escaped:\n%s", p.Text)
	}
}

func TestKnownRules(t *testing.T) {
	s := turn.NewStack()
	s.StartRootTurn("Alice", "")
	s.CacheRule("shield", turn.CacheEntry{Type: "spell", Value: "+5 AC"})
	s.CacheRule("alice_hp", turn.CacheEntry{Type: "fact", Value: "12"})

	p := Narrator(s.Snapshot(), Options{RuleTypes: []string{"spell"}})
	if !strings.Contains(p.Text, `<rule key="shield" type="spell">+5 AC</rule>`) {
		t.Errorf("missing rule:\n%s", p.Text)
	}
	if strings.Contains(p.Text, "alice_hp") {
		t.Errorf("filtered entry rendered:\n%s", p.Text)
	}
}

func TestEmptySnapshot(t *testing.T) {
	if p := Narrator(turn.NewStack().Snapshot(), Options{}); p.Text != "" {
		t.Errorf("expected empty payload, got %q", p.Text)
	}
	if p := StateExtractor(turn.NewStack().Snapshot()); p.Text != "" {
		t.Errorf("expected empty payload, got %q", p.Text)
	}
}

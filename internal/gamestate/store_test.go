package gamestate

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/fpt/klein-dm/pkg/agent/domain"
)

const party = `
characters:
  - name: Alice
    attributes: {hp: 12, ac: 15, conditions: ""}
  - name: Bob
    attributes:
      hp: 9
      class: wizard
`

func TestParseParty(t *testing.T) {
	s, err := ParseParty([]byte(party))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Names(); !reflect.DeepEqual(got, []string{"Alice", "Bob"}) {
		t.Errorf("names = %v", got)
	}
	snap := s.Snapshot()
	if snap["Alice"]["hp"] != "12" || snap["Bob"]["class"] != "wizard" {
		t.Errorf("unexpected snapshot: %v", snap)
	}
	if got := s.Format(); got != "Alice ac=15 conditions= hp=12\nBob class=wizard hp=9\n" {
		t.Errorf("format = %q", got)
	}

	if _, err := ParseParty([]byte("characters:\n  - attributes: {hp: 1}\n")); err == nil {
		t.Error("expected error for nameless character")
	}
}

func TestLoadParty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "party.yaml")
	os.WriteFile(path, []byte(party), 0644)

	s, err := LoadParty(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Names()) != 2 {
		t.Errorf("expected 2 characters")
	}
	empty, err := LoadParty("")
	if err != nil || len(empty.Names()) != 0 {
		t.Errorf("empty path should give an empty store, got %v %v", empty.Names(), err)
	}
	if _, err := LoadParty(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		deltas []domain.AttributeDelta
		want   map[string]string // Alice's attributes afterwards
	}{
		{
			name:   "damage",
			deltas: []domain.AttributeDelta{{Character: "Alice", Attribute: "HP", Op: domain.DeltaAdd, Value: "-8"}},
			want:   map[string]string{"hp": "4", "ac": "15"},
		},
		{
			name: "heal then set",
			deltas: []domain.AttributeDelta{
				{Character: "Alice", Attribute: "hp", Op: domain.DeltaAdd, Value: "+3"},
				{Character: "Alice", Attribute: "ac", Op: domain.DeltaSet, Value: "20"},
			},
			want: map[string]string{"hp": "15", "ac": "20"},
		},
		{
			name: "conditions append once",
			deltas: []domain.AttributeDelta{
				{Character: "Alice", Attribute: "conditions", Op: domain.DeltaAdd, Value: "prone"},
				{Character: "Alice", Attribute: "conditions", Op: domain.DeltaAdd, Value: "poisoned"},
				{Character: "Alice", Attribute: "conditions", Op: domain.DeltaAdd, Value: "Prone"},
			},
			want: map[string]string{"hp": "12", "ac": "15", "conditions": "prone, poisoned"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			s.Upsert("Alice", map[string]string{"hp": "12", "ac": "15"})
			if err := s.Apply(tt.deltas); err != nil {
				t.Fatal(err)
			}
			if got := s.Snapshot()["Alice"]; !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyIsAllOrNothing(t *testing.T) {
	s := NewStore()
	s.Upsert("Alice", map[string]string{"hp": "12", "class": "fighter"})
	before := s.Snapshot()

	err := s.Apply([]domain.AttributeDelta{
		{Character: "Alice", Attribute: "hp", Op: domain.DeltaAdd, Value: "-5"},
		{Character: "Alice", Attribute: "class", Op: domain.DeltaAdd, Value: "2"},
	})
	if !errors.Is(err, ErrInvalidDelta) {
		t.Fatalf("expected ErrInvalidDelta, got %v", err)
	}
	if !reflect.DeepEqual(s.Snapshot(), before) {
		t.Errorf("failed apply changed state: %v", s.Snapshot())
	}

	for _, bad := range []domain.AttributeDelta{
		{Character: "", Attribute: "hp", Op: domain.DeltaSet, Value: "1"},
		{Character: "Alice", Attribute: "hp", Op: "multiply", Value: "2"},
	} {
		if err := s.Apply([]domain.AttributeDelta{bad}); !errors.Is(err, ErrInvalidDelta) {
			t.Errorf("%+v: expected ErrInvalidDelta, got %v", bad, err)
		}
	}
}

func TestApplyCreatesCharacter(t *testing.T) {
	s := NewStore()
	err := s.Apply([]domain.AttributeDelta{{Character: "Wolf", Attribute: "hp", Op: domain.DeltaAdd, Value: "11"}})
	if err != nil {
		t.Fatal(err)
	}
	if s.Snapshot()["Wolf"]["hp"] != "11" || len(s.Names()) != 1 {
		t.Errorf("summoned character not created: %v", s.Snapshot())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.Upsert("Alice", map[string]string{"hp": "12"})
	snap := s.Snapshot()
	snap["Alice"]["hp"] = "0"
	if s.Snapshot()["Alice"]["hp"] != "12" {
		t.Error("snapshot aliases the store")
	}
}

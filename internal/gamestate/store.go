// Package gamestate keeps character attributes for one session. It sits
// outside the turn engine: the orchestrator hands it extracted deltas and
// reads snapshots for the state extractor.
package gamestate

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fpt/klein-dm/pkg/agent/domain"
)

// ErrInvalidDelta marks a delta that cannot be applied
var ErrInvalidDelta = errors.New("invalid attribute delta")

// Store is an in-memory domain.StateStore
type Store struct {
	mu    sync.RWMutex
	chars map[string]map[string]string
	order []string
}

func NewStore() *Store {
	return &Store{chars: map[string]map[string]string{}}
}

// Upsert adds a character or merges attrs into an existing one
func (s *Store) Upsert(name string, attrs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(name, attrs)
}

func (s *Store) upsertLocked(name string, attrs map[string]string) {
	cur, ok := s.chars[name]
	if !ok {
		cur = map[string]string{}
		s.chars[name] = cur
		s.order = append(s.order, name)
	}
	for k, v := range attrs {
		cur[strings.ToLower(k)] = v
	}
}

// Names returns characters in the order they were added
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Snapshot implements domain.StateStore
func (s *Store) Snapshot() domain.GameState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(domain.GameState, len(s.chars))
	for name, attrs := range s.chars {
		c := make(map[string]string, len(attrs))
		for k, v := range attrs {
			c[k] = v
		}
		out[name] = c
	}
	return out
}

// Apply implements domain.StateStore. Either every delta applies or none
// does. Unknown characters are created, which covers summoned creatures.
func (s *Store) Apply(deltas []domain.AttributeDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// stage on copies of the touched characters
	staged := map[string]map[string]string{}
	for i, d := range deltas {
		if strings.TrimSpace(d.Character) == "" || strings.TrimSpace(d.Attribute) == "" {
			return errors.Wrapf(ErrInvalidDelta, "delta %d: character and attribute are required", i)
		}
		attrs, ok := staged[d.Character]
		if !ok {
			attrs = map[string]string{}
			for k, v := range s.chars[d.Character] {
				attrs[k] = v
			}
			staged[d.Character] = attrs
		}
		key := strings.ToLower(strings.TrimSpace(d.Attribute))
		next, err := applyOne(attrs[key], d)
		if err != nil {
			return errors.Wrapf(err, "delta %d (%s.%s)", i, d.Character, key)
		}
		attrs[key] = next
	}

	for name, attrs := range staged {
		s.upsertLocked(name, attrs)
	}
	return nil
}

func applyOne(current string, d domain.AttributeDelta) (string, error) {
	value := strings.TrimSpace(d.Value)
	switch d.Op {
	case domain.DeltaSet:
		return value, nil
	case domain.DeltaAdd:
		amount, err := strconv.Atoi(strings.TrimPrefix(value, "+"))
		if err != nil {
			// non-numeric add appends to a list attribute such as conditions
			return appendItem(current, value), nil
		}
		if current == "" {
			return strconv.Itoa(amount), nil
		}
		base, err := strconv.Atoi(current)
		if err != nil {
			return "", errors.Wrapf(ErrInvalidDelta, "cannot add %d to non-numeric value %q", amount, current)
		}
		return strconv.Itoa(base + amount), nil
	default:
		return "", errors.Wrapf(ErrInvalidDelta, "unknown op %q", d.Op)
	}
}

func appendItem(list, item string) string {
	if item == "" {
		return list
	}
	var items []string
	for _, it := range strings.Split(list, ",") {
		if it = strings.TrimSpace(it); it != "" {
			if strings.EqualFold(it, item) {
				return list
			}
			items = append(items, it)
		}
	}
	return strings.Join(append(items, item), ", ")
}

// Format renders the store for status commands, one character per line
func (s *Store) Format() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b strings.Builder
	for _, name := range s.order {
		attrs := s.chars[name]
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(name)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, attrs[k])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

type partyFile struct {
	Characters []struct {
		Name       string         `yaml:"name"`
		Attributes map[string]any `yaml:"attributes"`
	} `yaml:"characters"`
}

// ParseParty builds a store from a YAML party document:
//
//	characters:
//	  - name: Alice
//	    attributes: {hp: 12, ac: 15}
func ParseParty(data []byte) (*Store, error) {
	var pf partyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, errors.Wrap(err, "failed to parse party")
	}
	s := NewStore()
	for i, c := range pf.Characters {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, errors.Errorf("party character %d has no name", i)
		}
		attrs := make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			attrs[k] = fmt.Sprint(v)
		}
		s.Upsert(name, attrs)
	}
	return s, nil
}

// LoadParty reads a party file; an empty path yields an empty store
func LoadParty(path string) (*Store, error) {
	if path == "" {
		return NewStore(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read party %s", path)
	}
	return ParseParty(data)
}

var _ domain.StateStore = (*Store)(nil)

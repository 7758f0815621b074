package turn

import (
	"maps"
	"strconv"
	"strings"
	"time"
)

// CacheEntry is one fact or rule remembered for a turn and its descendants
type CacheEntry struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// Context is the state of one turn or subturn
type Context struct {
	ID                string
	Level             int
	ActiveParticipant string
	StepObjective     string
	Messages          []Message
	// Cache is the rules/fact cache, inherited by value from the parent
	Cache     map[string]CacheEntry
	Metadata  map[string]string
	StartedAt time.Time
	EndedAt   time.Time

	children int
}

// clone copies the message list and both maps so the copy shares nothing mutable
func (c *Context) clone() Context {
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	cp.Cache = maps.Clone(c.Cache)
	cp.Metadata = maps.Clone(c.Metadata)
	if cp.Cache == nil {
		cp.Cache = map[string]CacheEntry{}
	}
	if cp.Metadata == nil {
		cp.Metadata = map[string]string{}
	}
	return cp
}

// IsRoot reports whether this is a level-0 turn
func (c Context) IsRoot() bool { return c.Level == 0 }

// UnrespondedLive returns live messages not yet folded into an agent call
func (c Context) UnrespondedLive() []Message {
	var out []Message
	for _, m := range c.Messages {
		if m.IsLive() && !m.Responded {
			out = append(out, m)
		}
	}
	return out
}

// Condensed returns the summaries of terminated children, in append order
func (c Context) Condensed() []Message {
	var out []Message
	for _, m := range c.Messages {
		if m.IsCondensed() {
			out = append(out, m)
		}
	}
	return out
}

// RawSummary renders the turn as a plain transcript in the condensed
// summary layout. Used when no condensation service is available.
func RawSummary(c Context) string {
	var b strings.Builder
	b.WriteString(SummaryHeader(c))
	for _, m := range c.Messages {
		b.WriteByte('\n')
		if m.IsCondensed() {
			b.WriteString(indent(m.Content, "  "))
			continue
		}
		b.WriteString(m.Speaker)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// SummaryHeader is the first line of every condensed summary
func SummaryHeader(c Context) string {
	who := c.ActiveParticipant
	if who == "" {
		who = "unknown"
	}
	return "[Turn " + c.ID + " - " + who + " (Level " + strconv.Itoa(c.Level) + ")]"
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

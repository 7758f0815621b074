package turn

// Kind distinguishes live conversation from folded child-turn summaries
type Kind int

const (
	KindLive Kind = iota
	KindCondensedSubturn
)

func (k Kind) String() string {
	switch k {
	case KindLive:
		return "live"
	case KindCondensedSubturn:
		return "condensed"
	default:
		return "unknown"
	}
}

// Well-known speakers that are not game participants
const (
	SpeakerNarrator = "narrator"
	SpeakerSystem   = "system"
)

// Message is one utterance inside a turn. Only Responded changes after creation.
type Message struct {
	Content   string `json:"content"`
	Speaker   string `json:"speaker"`
	Kind      Kind   `json:"kind"`
	Responded bool   `json:"responded"`
	// Timestamp is a per-stack sequence number, strictly increasing
	Timestamp uint64 `json:"timestamp"`
	// Origin is the id of the turn that produced the message
	Origin string `json:"origin"`
}

func (m Message) IsLive() bool      { return m.Kind == KindLive }
func (m Message) IsCondensed() bool { return m.Kind == KindCondensedSubturn }

// Declaration is an external utterance or a declared reaction: who and what
type Declaration struct {
	Speaker string `json:"speaker" yaml:"speaker" jsonschema:"description=Character declaring the action"`
	Content string `json:"content" yaml:"content" jsonschema:"description=What the character declares"`
}

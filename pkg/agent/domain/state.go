package domain

// GameState is a read-only view of character attributes: character -> attribute -> value
type GameState map[string]map[string]string

// DeltaOp is how an AttributeDelta changes its attribute
type DeltaOp string

const (
	DeltaSet DeltaOp = "set"
	DeltaAdd DeltaOp = "add"
)

// AttributeDelta is one extracted change to a character attribute
type AttributeDelta struct {
	Character string  `json:"character" jsonschema:"required,description=Character whose attribute changes"`
	Attribute string  `json:"attribute" jsonschema:"required,description=Attribute name such as hp or conditions"`
	Op        DeltaOp `json:"op" jsonschema:"required,enum=set,enum=add"`
	Value     string  `json:"value" jsonschema:"required,description=New value for set or signed amount for add"`
	Reason    string  `json:"reason,omitempty"`
}

// StateStore owns game state outside the turn engine
type StateStore interface {
	Snapshot() GameState
	Apply(deltas []AttributeDelta) error
}

package types

// Event is the canonical record emitted by native modules. Attributes are
// string-encoded so events can be serialized and mirrored off-chain without
// knowledge of module internals.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

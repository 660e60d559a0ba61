package types

// Event is the wire form of a protocol event: the transition name plus its
// string-encoded attributes, as produced by events.Event.Event().
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

package models

// Attribute is a key/value pair a service attaches to the result of an
// operation. Attributes end up in the event log, so they must never carry
// secrets.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

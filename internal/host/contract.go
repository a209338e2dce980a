package host

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rflorenc/state-handoff/internal/models"
	"github.com/rflorenc/state-handoff/internal/store"
)

// Env describes the context a handler runs in.
type Env struct {
	Time time.Time
	// Sender is the verified identity of the caller. It is empty for queries.
	Sender   models.Addr
	Contract ContractInfo
}

// ContractInfo identifies the instance a handler runs as.
type ContractInfo struct {
	Address  models.Addr
	CodeHash string
}

// Deps are the collaborators a handler may use. Store is scoped to the
// running instance; for queries it rejects writes.
type Deps struct {
	Store   store.KV
	Querier Querier
	Logger  *slog.Logger
}

// Querier issues read-only queries to other instances. The callee sees no
// sender identity.
type Querier interface {
	Query(ctx context.Context, addr models.Addr, codeHash string, msg json.RawMessage) ([]byte, error)
}

// Message is an outbound execute call from one instance to another. The
// host delivers it in the same transaction, with the emitting instance as
// sender.
type Message struct {
	Contract models.Addr     `json:"contract"`
	CodeHash string          `json:"code_hash"`
	Msg      json.RawMessage `json:"msg"`
}

// Response is the result of instantiate and execute handlers.
type Response struct {
	Messages   []Message          `json:"messages,omitempty"`
	Attributes []models.Attribute `json:"attributes,omitempty"`
	Data       json.RawMessage    `json:"data,omitempty"`
}

// NewResponse returns an empty response.
func NewResponse() *Response {
	return &Response{}
}

// AddAttribute appends a key/value attribute.
func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, models.Attribute{Key: key, Value: value})
	return r
}

// AddMessage appends an outbound message.
func (r *Response) AddMessage(m Message) *Response {
	r.Messages = append(r.Messages, m)
	return r
}

// Attr returns the value of the first attribute named key.
func (r *Response) Attr(key string) string {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// Contract is the code a service instance runs.
type Contract interface {
	Instantiate(ctx context.Context, env Env, deps Deps, msg json.RawMessage) (*Response, error)
	Execute(ctx context.Context, env Env, deps Deps, msg json.RawMessage) (*Response, error)
	Query(ctx context.Context, env Env, deps Deps, msg json.RawMessage) ([]byte, error)
}

// ActionLister is implemented by contracts that declare their execute
// variants. Metrics label any other action as UnknownAction.
type ActionLister interface {
	Actions() []string
}

// UnknownAction is the metrics label for undeclared execute variants.
const UnknownAction = "unknown"

// MessageAction returns the variant name of a tagged-union message such as
// {"request_migration":{...}}, or "" when msg is not a single-key object.
func MessageAction(msg json.RawMessage) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(msg, &m); err != nil || len(m) != 1 {
		return ""
	}
	for k := range m {
		return k
	}
	return ""
}

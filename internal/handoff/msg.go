package handoff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rflorenc/state-handoff/internal/models"
)

// Message variant names. They double as the "action" attribute.
const (
	actionInstantiate        = "instantiate"
	actionRequestMigration   = "request_migration"
	actionTransfer           = "transfer"
	actionSetMigrationSecret = "set_migration_secret"
	actionPullMigration      = "pull_migration"
)

// SourceInitMsg seeds a source's ledger. Every field is optional.
type SourceInitMsg struct {
	Name            string           `json:"name,omitempty"`
	Decimals        *uint8           `json:"decimals,omitempty"`
	InitialBalances []models.Account `json:"initial_balances,omitempty"`
}

// SourceExecuteMsg is the execute surface of a source. Exactly one field is set.
type SourceExecuteMsg struct {
	RequestMigration *RequestMigration `json:"request_migration,omitempty"`
	Transfer         *Transfer         `json:"transfer,omitempty"`
}

// RequestMigration names the successor of a source.
type RequestMigration struct {
	Address  models.Addr `json:"address"`
	CodeHash string      `json:"code_hash"`
}

// Transfer moves funds from the sender's account.
type Transfer struct {
	Recipient models.Addr `json:"recipient"`
	Amount    models.Coin `json:"amount"`
}

// SourceQueryMsg is the query surface of a source. Exactly one field is set.
type SourceQueryMsg struct {
	MigrationAddress *struct{}          `json:"migration_address,omitempty"`
	ExportedData     *ExportedDataQuery `json:"exported_data,omitempty"`
	TokenInfo        *struct{}          `json:"token_info,omitempty"`
	Balance          *BalanceQuery      `json:"balance,omitempty"`
}

// ExportedDataQuery presents the migration secret.
type ExportedDataQuery struct {
	Secret Secret `json:"secret"`
}

// BalanceQuery asks for the funds of one account.
type BalanceQuery struct {
	Address models.Addr `json:"address"`
}

// MigrationAddressResponse answers migration_address. Address is nil until
// the source has been migrated.
type MigrationAddressResponse struct {
	Address *models.Addr `json:"address"`
}

// TokenInfoResponse answers token_info.
type TokenInfoResponse struct {
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	Mode     Mode   `json:"mode"`
}

// TargetInitMsg registers the source a target will migrate from.
type TargetInitMsg struct {
	SourceAddr     models.Addr `json:"source_addr"`
	SourceCodeHash string      `json:"source_code_hash"`
}

// TargetExecuteMsg is the execute surface of a target. Exactly one field is set.
type TargetExecuteMsg struct {
	SetMigrationSecret *SetMigrationSecret `json:"set_migration_secret,omitempty"`
	PullMigration      *struct{}           `json:"pull_migration,omitempty"`
}

// SetMigrationSecret is pushed by the source when migration is requested.
type SetMigrationSecret struct {
	Secret Secret `json:"secret"`
}

// TargetQueryMsg is the query surface of a target. Exactly one field is set.
type TargetQueryMsg struct {
	Status       *struct{} `json:"status,omitempty"`
	ImportedData *struct{} `json:"imported_data,omitempty"`
}

// TargetStatus answers status. It never includes the secret.
type TargetStatus struct {
	Owner          models.Addr `json:"owner"`
	SourceAddr     models.Addr `json:"source_addr"`
	SourceCodeHash string      `json:"source_code_hash"`
	Phase          Phase       `json:"phase"`
	ImportedAt     *time.Time  `json:"imported_at,omitempty"`
}

// decode strictly unmarshals raw into v; an empty message decodes as {}.
func decode(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// oneOf checks that exactly one variant of a tagged union is set.
func oneOf(set ...bool) error {
	n := 0
	for _, ok := range set {
		if ok {
			n++
		}
	}
	switch n {
	case 0:
		return ErrUnknownMessage
	case 1:
		return nil
	default:
		return fmt.Errorf("%w: more than one variant set", ErrInvalidMessage)
	}
}

func (m SourceExecuteMsg) validate() error {
	return oneOf(m.RequestMigration != nil, m.Transfer != nil)
}

func (m SourceQueryMsg) validate() error {
	return oneOf(m.MigrationAddress != nil, m.ExportedData != nil, m.TokenInfo != nil, m.Balance != nil)
}

func (m TargetExecuteMsg) validate() error {
	return oneOf(m.SetMigrationSecret != nil, m.PullMigration != nil)
}

func (m TargetQueryMsg) validate() error {
	return oneOf(m.Status != nil, m.ImportedData != nil)
}

// Encode marshals a message for the host. It panics only on values that
// cannot be JSON encoded, which none of the message types are.
func Encode(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("handoff: encoding %T: %v", v, err))
	}
	return data
}

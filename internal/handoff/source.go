package handoff

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/rflorenc/state-handoff/internal/host"
	"github.com/rflorenc/state-handoff/internal/logfields"
	"github.com/rflorenc/state-handoff/internal/store"
)

// SourceKind is the service kind of the retiring side of a handoff.
const SourceKind = "source"

const defaultDecimals = 6

// Source is the retiring service. It owns a ledger until it is migrated,
// then freezes and releases the ledger only to a caller holding the secret.
type Source struct {
	// Rand is the entropy source for migration secrets.
	Rand io.Reader
}

// NewSource returns a Source drawing secrets from crypto/rand.
func NewSource() *Source {
	return &Source{Rand: rand.Reader}
}

// Actions lists the execute variants of a source.
func (s *Source) Actions() []string {
	return []string{actionRequestMigration, actionTransfer}
}

func sourceState(kv store.KV) store.Singleton[SourceState] {
	return store.NewSingleton[SourceState](kv, configKey)
}

func sourceLedger(kv store.KV) store.Singleton[Ledger] {
	return store.NewSingleton[Ledger](kv, ledgerKey)
}

func (s *Source) Instantiate(ctx context.Context, env host.Env, deps host.Deps, raw json.RawMessage) (*host.Response, error) {
	var msg SourceInitMsg
	if err := decode(raw, &msg); err != nil {
		return nil, err
	}

	ledger := Ledger{Name: msg.Name, Decimals: defaultDecimals, Accounts: msg.InitialBalances}
	if msg.Decimals != nil {
		ledger.Decimals = *msg.Decimals
	}
	if err := ledger.normalize(); err != nil {
		return nil, err
	}

	state := SourceState{Owner: env.Sender, Mode: ModeRunning}
	if err := sourceState(deps.Store).Save(ctx, state); err != nil {
		return nil, err
	}
	if err := sourceLedger(deps.Store).Save(ctx, ledger); err != nil {
		return nil, err
	}

	return host.NewResponse().
		AddAttribute("action", actionInstantiate).
		AddAttribute("owner", env.Sender.String()).
		AddAttribute("accounts", strconv.Itoa(len(ledger.Accounts))), nil
}

func (s *Source) Execute(ctx context.Context, env host.Env, deps host.Deps, raw json.RawMessage) (*host.Response, error) {
	state, err := sourceState(deps.Store).Load(ctx)
	if err != nil {
		return nil, err
	}

	switch state.Mode {
	case ModeRunning:
	case ModeMigrated:
		return nil, &FrozenError{Target: state.target(), Action: host.MessageAction(raw)}
	default:
		return nil, fmt.Errorf("source %s: unknown mode %q", env.Contract.Address, state.Mode)
	}

	var msg SourceExecuteMsg
	if err := decode(raw, &msg); err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}

	switch {
	case msg.RequestMigration != nil:
		return s.requestMigration(ctx, env, deps, state, *msg.RequestMigration)
	default:
		return s.transfer(ctx, env, deps, *msg.Transfer)
	}
}

func (s *Source) requestMigration(ctx context.Context, env host.Env, deps host.Deps, state SourceState, req RequestMigration) (*host.Response, error) {
	if env.Sender != state.Owner {
		return nil, fmt.Errorf("%w: only the owner may request migration", ErrUnauthorized)
	}
	if state.MigrationTarget != nil {
		return nil, ErrAlreadyMigrated
	}
	if req.Address.Empty() || req.CodeHash == "" {
		return nil, fmt.Errorf("%w: migration target needs address and code_hash", ErrInvalidMessage)
	}
	if req.Address == env.Contract.Address {
		return nil, fmt.Errorf("%w: a service cannot migrate to itself", ErrInvalidMessage)
	}

	secret, err := NewSecret(s.Rand)
	if err != nil {
		return nil, err
	}
	target := req.Address
	state.MigrationTarget = &target
	state.MigrationSecret = secret
	state.Mode = ModeMigrated
	if err := sourceState(deps.Store).Save(ctx, state); err != nil {
		return nil, err
	}

	deps.Logger.Info("Migration requested",
		logfields.Target(target.String()),
		logfields.CodeHash(req.CodeHash))

	return host.NewResponse().
		AddAttribute("action", actionRequestMigration).
		AddAttribute("migration_target", target.String()).
		AddMessage(host.Message{
			Contract: target,
			CodeHash: req.CodeHash,
			Msg:      Encode(TargetExecuteMsg{SetMigrationSecret: &SetMigrationSecret{Secret: secret}}),
		}), nil
}

func (s *Source) transfer(ctx context.Context, env host.Env, deps host.Deps, t Transfer) (*host.Response, error) {
	if t.Recipient.Empty() || t.Amount.Denom == "" || t.Amount.Amount == 0 {
		return nil, fmt.Errorf("%w: transfer needs recipient, denom and a positive amount", ErrInvalidMessage)
	}
	ledger, err := sourceLedger(deps.Store).Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := ledger.Transfer(env.Sender, t.Recipient, t.Amount); err != nil {
		return nil, err
	}
	if err := sourceLedger(deps.Store).Save(ctx, ledger); err != nil {
		return nil, err
	}

	return host.NewResponse().
		AddAttribute("action", actionTransfer).
		AddAttribute("from", env.Sender.String()).
		AddAttribute("to", t.Recipient.String()).
		AddAttribute("amount", strconv.FormatUint(t.Amount.Amount, 10)+t.Amount.Denom), nil
}

func (s *Source) Query(ctx context.Context, _ host.Env, deps host.Deps, raw json.RawMessage) ([]byte, error) {
	var msg SourceQueryMsg
	if err := decode(raw, &msg); err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}

	switch {
	case msg.MigrationAddress != nil:
		state, err := sourceState(deps.Store).Load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(MigrationAddressResponse{Address: state.MigrationTarget})

	case msg.ExportedData != nil:
		state, err := sourceState(deps.Store).Load(ctx)
		if err != nil {
			return nil, err
		}
		// One error for both "not migrated" and "wrong secret".
		if state.Mode != ModeMigrated || !state.MigrationSecret.Equal(msg.ExportedData.Secret) {
			return nil, ErrNotAuthorized
		}
		ledger, err := sourceLedger(deps.Store).Load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ledger.Export())

	case msg.TokenInfo != nil:
		state, err := sourceState(deps.Store).Load(ctx)
		if err != nil {
			return nil, err
		}
		ledger, err := sourceLedger(deps.Store).Load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(TokenInfoResponse{Name: ledger.Name, Decimals: ledger.Decimals, Mode: state.Mode})

	default:
		if msg.Balance.Address.Empty() {
			return nil, fmt.Errorf("%w: balance needs an address", ErrInvalidMessage)
		}
		ledger, err := sourceLedger(deps.Store).Load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ledger.Account(msg.Balance.Address))
	}
}

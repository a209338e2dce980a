package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/rflorenc/state-handoff/internal/host"
	"github.com/rflorenc/state-handoff/internal/logfields"
	"github.com/rflorenc/state-handoff/internal/models"
	"github.com/rflorenc/state-handoff/internal/store"
)

// TargetKind is the service kind of the successor side of a handoff.
const TargetKind = "target"

// Target is the successor service. It receives the secret from its source
// and, when its owner says so, pulls the source's exported data.
type Target struct{}

// NewTarget returns a Target.
func NewTarget() *Target {
	return &Target{}
}

// Actions lists the execute variants of a target.
func (t *Target) Actions() []string {
	return []string{actionSetMigrationSecret, actionPullMigration}
}

func targetState(kv store.KV) store.Singleton[TargetState] {
	return store.NewSingleton[TargetState](kv, configKey)
}

func targetImported(kv store.KV) store.Singleton[models.ExportPayload] {
	return store.NewSingleton[models.ExportPayload](kv, importedKey)
}

func (t *Target) Instantiate(ctx context.Context, env host.Env, deps host.Deps, raw json.RawMessage) (*host.Response, error) {
	var msg TargetInitMsg
	if err := decode(raw, &msg); err != nil {
		return nil, err
	}
	if msg.SourceAddr.Empty() || msg.SourceCodeHash == "" {
		return nil, fmt.Errorf("%w: source_addr and source_code_hash are required", ErrInvalidMessage)
	}
	if msg.SourceAddr == env.Contract.Address {
		return nil, fmt.Errorf("%w: a service cannot migrate from itself", ErrInvalidMessage)
	}

	state := TargetState{
		Owner:          env.Sender,
		SourceAddr:     msg.SourceAddr,
		SourceCodeHash: msg.SourceCodeHash,
		Phase:          PhaseNotStarted,
	}
	if err := targetState(deps.Store).Save(ctx, state); err != nil {
		return nil, err
	}

	return host.NewResponse().
		AddAttribute("action", actionInstantiate).
		AddAttribute("owner", env.Sender.String()).
		AddAttribute("source", msg.SourceAddr.String()), nil
}

func (t *Target) Execute(ctx context.Context, env host.Env, deps host.Deps, raw json.RawMessage) (*host.Response, error) {
	var msg TargetExecuteMsg
	if err := decode(raw, &msg); err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	state, err := targetState(deps.Store).Load(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case msg.SetMigrationSecret != nil:
		return t.setMigrationSecret(ctx, env, deps, state, msg.SetMigrationSecret.Secret)
	default:
		return t.pullMigration(ctx, env, deps, state)
	}
}

func (t *Target) setMigrationSecret(ctx context.Context, env host.Env, deps host.Deps, state TargetState, secret Secret) (*host.Response, error) {
	if env.Sender != state.SourceAddr {
		return nil, fmt.Errorf("%w: only %s may set the migration secret", ErrUnauthorized, state.SourceAddr)
	}

	switch state.Phase {
	case PhaseNotStarted:
	case PhaseSecretSet, PhaseImported:
		return nil, ErrSecretAlreadySet
	default:
		return nil, fmt.Errorf("target %s: unknown phase %q", env.Contract.Address, state.Phase)
	}
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("%w: secret must be %d bytes", ErrInvalidMessage, SecretSize)
	}

	state.MigrationSecret = secret
	state.Phase = PhaseSecretSet
	if err := targetState(deps.Store).Save(ctx, state); err != nil {
		return nil, err
	}

	deps.Logger.Info("Migration secret received", logfields.Sender(env.Sender.String()))
	return host.NewResponse().AddAttribute("action", actionSetMigrationSecret), nil
}

func (t *Target) pullMigration(ctx context.Context, env host.Env, deps host.Deps, state TargetState) (*host.Response, error) {
	if env.Sender != state.Owner {
		return nil, fmt.Errorf("%w: only the owner may pull the migration", ErrUnauthorized)
	}

	switch state.Phase {
	case PhaseSecretSet:
	case PhaseNotStarted:
		return nil, ErrSecretNotSet
	case PhaseImported:
		return nil, ErrAlreadyImported
	default:
		return nil, fmt.Errorf("target %s: unknown phase %q", env.Contract.Address, state.Phase)
	}

	query := Encode(SourceQueryMsg{ExportedData: &ExportedDataQuery{Secret: state.MigrationSecret}})
	data, err := deps.Querier.Query(ctx, state.SourceAddr, state.SourceCodeHash, query)
	if err != nil {
		return nil, &RemoteQueryError{Source: state.SourceAddr, Err: err}
	}
	var payload models.ExportPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &RemoteQueryError{Source: state.SourceAddr, Err: fmt.Errorf("decoding export: %w", err)}
	}

	if err := targetImported(deps.Store).Save(ctx, payload); err != nil {
		return nil, err
	}
	now := env.Time
	state.Phase = PhaseImported
	state.ImportedAt = &now
	if err := targetState(deps.Store).Save(ctx, state); err != nil {
		return nil, err
	}

	deps.Logger.Info("Migration imported",
		slog.String("source", state.SourceAddr.String()),
		slog.Int("accounts", len(payload.Accounts)))
	return host.NewResponse().
		AddAttribute("action", actionPullMigration).
		AddAttribute("source", state.SourceAddr.String()).
		AddAttribute("accounts", strconv.Itoa(len(payload.Accounts))), nil
}

func (t *Target) Query(ctx context.Context, _ host.Env, deps host.Deps, raw json.RawMessage) ([]byte, error) {
	var msg TargetQueryMsg
	if err := decode(raw, &msg); err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}

	state, err := targetState(deps.Store).Load(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Status != nil {
		return json.Marshal(TargetStatus{
			Owner:          state.Owner,
			SourceAddr:     state.SourceAddr,
			SourceCodeHash: state.SourceCodeHash,
			Phase:          state.Phase,
			ImportedAt:     state.ImportedAt,
		})
	}

	if state.Phase != PhaseImported {
		return nil, ErrNotImported
	}
	payload, err := targetImported(deps.Store).Load(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payload)
}

package handoff

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rflorenc/state-handoff/internal/events"
	"github.com/rflorenc/state-handoff/internal/host"
	"github.com/rflorenc/state-handoff/internal/models"
	"github.com/rflorenc/state-handoff/internal/store"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	backend *store.MemoryBackend
	host    *host.Host
	feed    *events.Feed
	codes   Codes
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{backend: store.NewMemoryBackend(), feed: events.NewFeed()}
	f.host = host.New(f.backend, host.WithPublisher(f.feed))
	f.codes = Register(f.host)
	return f
}

func (f *fixture) instantiate(t *testing.T, sender models.Addr, kind string, msg any) models.Addr {
	t.Helper()
	inst, err := f.host.Instantiate(context.Background(), sender, kind, "", Encode(msg))
	require.NoError(t, err)
	return inst.Address
}

func (f *fixture) source(t *testing.T, owner models.Addr, balances ...models.Account) models.Addr {
	t.Helper()
	return f.instantiate(t, owner, SourceKind, SourceInitMsg{Name: "Handoff Token", InitialBalances: balances})
}

func (f *fixture) target(t *testing.T, owner, source models.Addr) models.Addr {
	t.Helper()
	return f.instantiate(t, owner, TargetKind, TargetInitMsg{SourceAddr: source, SourceCodeHash: f.codes.Source})
}

func (f *fixture) execute(sender, addr models.Addr, msg any) (*host.Response, error) {
	return f.host.Execute(context.Background(), sender, addr, Encode(msg))
}

func (f *fixture) query(addr models.Addr, msg any, out any) error {
	res, err := f.host.Query(context.Background(), addr, Encode(msg))
	if err != nil {
		return err
	}
	return json.Unmarshal(res, out)
}

func (f *fixture) requestMigration(to models.Addr) SourceExecuteMsg {
	return SourceExecuteMsg{RequestMigration: &RequestMigration{Address: to, CodeHash: f.codes.Target}}
}

// sourceState reads committed state directly from the backend.
func (f *fixture) sourceState(t *testing.T, addr models.Addr) SourceState {
	t.Helper()
	state, err := sourceState(store.ReadOnly(f.backend, string(addr))).Load(context.Background())
	require.NoError(t, err)
	return state
}

func (f *fixture) targetState(t *testing.T, addr models.Addr) TargetState {
	t.Helper()
	state, err := targetState(store.ReadOnly(f.backend, string(addr))).Load(context.Background())
	require.NoError(t, err)
	return state
}

func account(addr models.Addr, coins ...models.Coin) models.Account {
	return models.Account{Address: addr, Funds: coins}
}

func coin(amount uint64, denom string) models.Coin {
	return models.Coin{Denom: denom, Amount: amount}
}

var (
	pullMsg   = TargetExecuteMsg{PullMigration: &struct{}{}}
	statusMsg = TargetQueryMsg{Status: &struct{}{}}
	dataMsg   = TargetQueryMsg{ImportedData: &struct{}{}}
)

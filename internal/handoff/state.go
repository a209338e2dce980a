package handoff

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rflorenc/state-handoff/internal/models"
)

// Storage keys, fixed per instance namespace.
const (
	configKey   = "config"
	ledgerKey   = "ledger"
	importedKey = "imported"
)

// Mode is the source lifecycle. The only transition is running → migrated.
type Mode string

const (
	ModeRunning  Mode = "running"
	ModeMigrated Mode = "migrated"
)

// UnmarshalText rejects modes outside the closed set.
func (m *Mode) UnmarshalText(text []byte) error {
	switch v := Mode(text); v {
	case ModeRunning, ModeMigrated:
		*m = v
		return nil
	default:
		return fmt.Errorf("unknown mode %q", v)
	}
}

// Phase is the target lifecycle: not_started → secret_set → imported.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseSecretSet  Phase = "secret_set"
	PhaseImported   Phase = "imported"
)

// UnmarshalText rejects phases outside the closed set.
func (p *Phase) UnmarshalText(text []byte) error {
	switch v := Phase(text); v {
	case PhaseNotStarted, PhaseSecretSet, PhaseImported:
		*p = v
		return nil
	default:
		return fmt.Errorf("unknown phase %q", v)
	}
}

// SourceState is the single control record of a source instance.
// Invariant: Mode == ModeMigrated iff MigrationTarget and MigrationSecret are set.
type SourceState struct {
	Owner           models.Addr  `json:"owner"`
	MigrationTarget *models.Addr `json:"migration_target,omitempty"`
	MigrationSecret Secret       `json:"migration_secret,omitempty"`
	Mode            Mode         `json:"mode"`
}

func (s SourceState) target() models.Addr {
	if s.MigrationTarget == nil {
		return ""
	}
	return *s.MigrationTarget
}

// TargetState is the single control record of a target instance.
type TargetState struct {
	Owner           models.Addr `json:"owner"`
	SourceAddr      models.Addr `json:"source_addr"`
	SourceCodeHash  string      `json:"source_code_hash"`
	MigrationSecret Secret      `json:"migration_secret,omitempty"`
	Phase           Phase       `json:"phase"`
	ImportedAt      *time.Time  `json:"imported_at,omitempty"`
}

// Ledger is the data a source owns and eventually exports. Accounts are
// kept sorted by address, coins by denom, with no zero amounts.
type Ledger struct {
	Name     string           `json:"name"`
	Decimals uint8            `json:"decimals"`
	Accounts []models.Account `json:"accounts"`
}

// normalize merges duplicate accounts and coins and restores ordering.
func (l *Ledger) normalize() error {
	balances := make(map[models.Addr]map[string]uint64)
	for _, acct := range l.Accounts {
		if acct.Address.Empty() {
			return fmt.Errorf("%w: account without address", ErrInvalidMessage)
		}
		coins, ok := balances[acct.Address]
		if !ok {
			coins = make(map[string]uint64)
			balances[acct.Address] = coins
		}
		for _, c := range acct.Funds {
			if c.Denom == "" {
				return fmt.Errorf("%w: coin without denom for %s", ErrInvalidMessage, acct.Address)
			}
			if coins[c.Denom] > math.MaxUint64-c.Amount {
				return fmt.Errorf("%w: balance overflow for %s", ErrInvalidMessage, acct.Address)
			}
			coins[c.Denom] += c.Amount
		}
	}

	accounts := make([]models.Account, 0, len(balances))
	for addr, coins := range balances {
		acct := models.Account{Address: addr, Funds: []models.Coin{}}
		for denom, amount := range coins {
			if amount > 0 {
				acct.Funds = append(acct.Funds, models.Coin{Denom: denom, Amount: amount})
			}
		}
		if len(acct.Funds) == 0 {
			continue
		}
		sort.Slice(acct.Funds, func(i, j int) bool { return acct.Funds[i].Denom < acct.Funds[j].Denom })
		accounts = append(accounts, acct)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Address < accounts[j].Address })
	l.Accounts = accounts
	return nil
}

func (l Ledger) index(addr models.Addr) int {
	i := sort.Search(len(l.Accounts), func(i int) bool { return l.Accounts[i].Address >= addr })
	if i < len(l.Accounts) && l.Accounts[i].Address == addr {
		return i
	}
	return -1
}

// Account returns the account at addr, or an empty account.
func (l Ledger) Account(addr models.Addr) models.Account {
	if i := l.index(addr); i >= 0 {
		return l.Accounts[i]
	}
	return models.Account{Address: addr, Funds: []models.Coin{}}
}

// Transfer moves coin from one account to another.
func (l *Ledger) Transfer(from, to models.Addr, coin models.Coin) error {
	i := l.index(from)
	if have := l.Account(from).Balance(coin.Denom); i < 0 || have < coin.Amount {
		return fmt.Errorf("%w: %s has %d%s, needs %d%s", ErrInsufficientFunds, from, have, coin.Denom, coin.Amount, coin.Denom)
	}
	funds := l.Accounts[i].Funds
	for j := range funds {
		if funds[j].Denom == coin.Denom {
			funds[j].Amount -= coin.Amount
		}
	}
	l.Accounts = append(l.Accounts, models.Account{Address: to, Funds: []models.Coin{coin}})
	return l.normalize()
}

// Export builds a fresh payload from the ledger. The result shares no
// memory with l.
func (l Ledger) Export() models.ExportPayload {
	out := models.ExportPayload{
		Name:     l.Name,
		Decimals: l.Decimals,
		Accounts: make([]models.Account, len(l.Accounts)),
	}
	for i, acct := range l.Accounts {
		out.Accounts[i] = models.Account{
			Address: acct.Address,
			Funds:   append([]models.Coin{}, acct.Funds...),
		}
	}
	return out
}

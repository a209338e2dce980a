package handoff

import (
	"errors"
	"fmt"

	"github.com/rflorenc/state-handoff/internal/models"
)

var (
	// ErrUnauthorized is returned when the caller fails an identity check.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAlreadyMigrated is returned when a source already has a successor.
	ErrAlreadyMigrated = errors.New("already migrated")
	// ErrContractFrozen is returned for any execute on a migrated source.
	ErrContractFrozen = errors.New("service is frozen")
	// ErrNotAuthorized is the single denial returned by the export query.
	// It is deliberately the same for "not migrated" and "wrong secret".
	ErrNotAuthorized = errors.New("this service has not been migrated yet")
	// ErrSecretNotSet is returned when a target pulls before receiving the secret.
	ErrSecretNotSet = errors.New("migration secret has not been set by the source")
	// ErrRemoteQueryFailed matches every *RemoteQueryError.
	ErrRemoteQueryFailed = errors.New("remote query failed")
	// ErrSecretAlreadySet is returned when a target receives a second secret.
	ErrSecretAlreadySet = errors.New("migration secret already set")
	// ErrAlreadyImported is returned when a target pulls a second time.
	ErrAlreadyImported = errors.New("migration already imported")
	// ErrNotImported is returned when imported data is requested before the pull.
	ErrNotImported = errors.New("migration not imported yet")

	ErrInvalidMessage    = errors.New("invalid message")
	ErrUnknownMessage    = errors.New("unknown message")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// FrozenError rejects an execute on a source that has been migrated. A
// repeated request_migration also matches ErrAlreadyMigrated.
type FrozenError struct {
	Target models.Addr
	Action string
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("%v: migrated to %s, no further state changes are allowed", ErrContractFrozen, e.Target)
}

func (e *FrozenError) Is(target error) bool {
	if target == ErrContractFrozen {
		return true
	}
	return target == ErrAlreadyMigrated && e.Action == actionRequestMigration
}

// RemoteQueryError reports that the source rejected or failed the export
// query. It is recoverable: the target's state is left untouched.
type RemoteQueryError struct {
	Source models.Addr
	Err    error
}

func (e *RemoteQueryError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrRemoteQueryFailed, e.Source, e.Err)
}

func (e *RemoteQueryError) Unwrap() error { return e.Err }

func (e *RemoteQueryError) Is(target error) bool { return target == ErrRemoteQueryFailed }

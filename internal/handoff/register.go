// Package handoff implements a one-time, secret-gated migration of state
// from a retiring source service to its successor.
//
// The source freezes and pushes a fresh secret to the target in a single
// host transaction. The target's owner later pulls: the target presents the
// secret back to the source in a read-only query and stores what it gets.
package handoff

import "github.com/rflorenc/state-handoff/internal/host"

// Codes holds the code hashes of the registered service kinds.
type Codes struct {
	Source string
	Target string
}

// Register makes the source and target kinds available on h.
func Register(h *host.Host) Codes {
	return Codes{
		Source: h.RegisterCode(SourceKind, NewSource()),
		Target: h.RegisterCode(TargetKind, NewTarget()),
	}
}

// Package store provides the persistence substrate for service state.
//
// A Backend holds namespaced key/value records shared by every instance on a
// host. Instances never write to a backend directly: the host hands each
// transaction a Batch, and the batch is applied in one call once the whole
// transaction has succeeded.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key has never been written.
	ErrNotFound = errors.New("record not found")
	// ErrReadOnly is returned by views handed to query handlers.
	ErrReadOnly = errors.New("store is read-only")
)

// Write is a single pending record update.
type Write struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     []byte `json:"value"`
}

// Backend is a durable key/value substrate.
type Backend interface {
	// Get returns the value stored under namespace/key, or ErrNotFound.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Apply stores all writes atomically: after an error none of them is
	// visible, after success all of them are.
	Apply(ctx context.Context, writes []Write) error

	Close() error
}

// KV is the storage view a single instance sees.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// ReadOnly returns a view of namespace that rejects writes.
func ReadOnly(b Backend, namespace string) KV {
	return readOnlyKV{backend: b, namespace: namespace}
}

type readOnlyKV struct {
	backend   Backend
	namespace string
}

func (kv readOnlyKV) Get(ctx context.Context, key string) ([]byte, error) {
	return kv.backend.Get(ctx, kv.namespace, key)
}

func (readOnlyKV) Set(context.Context, string, []byte) error {
	return ErrReadOnly
}

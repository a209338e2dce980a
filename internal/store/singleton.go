package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Singleton is a typed JSON record stored under a fixed key.
type Singleton[T any] struct {
	kv  KV
	key string
}

// NewSingleton binds a singleton record to key in kv.
func NewSingleton[T any](kv KV, key string) Singleton[T] {
	return Singleton[T]{kv: kv, key: key}
}

// Load returns the stored record. A missing record is reported as ErrNotFound.
func (s Singleton[T]) Load(ctx context.Context) (T, error) {
	var v T
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return v, fmt.Errorf("load %s: %w", s.key, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", s.key, err)
	}
	return v, nil
}

// MayLoad is like Load but reports a missing record as ok=false.
func (s Singleton[T]) MayLoad(ctx context.Context) (T, bool, error) {
	v, err := s.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Save stores v, replacing any previous record.
func (s Singleton[T]) Save(ctx context.Context, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.key, err)
	}
	if err := s.kv.Set(ctx, s.key, data); err != nil {
		return fmt.Errorf("save %s: %w", s.key, err)
	}
	return nil
}

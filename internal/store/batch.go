package store

import (
	"context"
	"sort"
	"sync"
)

// Batch buffers writes for one host transaction. Reads through a batch see
// its own pending writes first, then the backend.
type Batch struct {
	backend Backend

	mu      sync.Mutex
	pending map[string]map[string][]byte
}

// NewBatch creates an empty batch on top of b.
func NewBatch(b Backend) *Batch {
	return &Batch{backend: b, pending: make(map[string]map[string][]byte)}
}

// KV returns the view of namespace inside this batch.
func (b *Batch) KV(namespace string) KV {
	return batchKV{batch: b, namespace: namespace}
}

// ReadOnly returns a view of namespace inside this batch that rejects writes.
func (b *Batch) ReadOnly(namespace string) KV {
	return batchReadOnlyKV{batchKV{batch: b, namespace: namespace}}
}

func (b *Batch) get(ctx context.Context, namespace, key string) ([]byte, error) {
	b.mu.Lock()
	if ns, ok := b.pending[namespace]; ok {
		if v, ok := ns[key]; ok {
			b.mu.Unlock()
			return append([]byte(nil), v...), nil
		}
	}
	b.mu.Unlock()
	return b.backend.Get(ctx, namespace, key)
}

func (b *Batch) set(namespace, key string, value []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ns, ok := b.pending[namespace]
	if !ok {
		ns = make(map[string][]byte)
		b.pending[namespace] = ns
	}
	ns[key] = append([]byte(nil), value...)
}

// Len returns the number of pending writes.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ns := range b.pending {
		n += len(ns)
	}
	return n
}

// Writes returns the pending writes ordered by namespace and key.
func (b *Batch) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	var writes []Write
	for namespace, ns := range b.pending {
		for key, value := range ns {
			writes = append(writes, Write{Namespace: namespace, Key: key, Value: value})
		}
	}
	sort.Slice(writes, func(i, j int) bool {
		if writes[i].Namespace != writes[j].Namespace {
			return writes[i].Namespace < writes[j].Namespace
		}
		return writes[i].Key < writes[j].Key
	})
	return writes
}

// Commit applies the pending writes to the backend.
func (b *Batch) Commit(ctx context.Context) error {
	writes := b.Writes()
	if len(writes) == 0 {
		return nil
	}
	return b.backend.Apply(ctx, writes)
}

type batchKV struct {
	batch     *Batch
	namespace string
}

func (kv batchKV) Get(ctx context.Context, key string) ([]byte, error) {
	return kv.batch.get(ctx, kv.namespace, key)
}

func (kv batchKV) Set(_ context.Context, key string, value []byte) error {
	kv.batch.set(kv.namespace, key, value)
	return nil
}

type batchReadOnlyKV struct {
	batchKV
}

func (batchReadOnlyKV) Set(context.Context, string, []byte) error {
	return ErrReadOnly
}

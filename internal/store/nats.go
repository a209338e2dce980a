package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// journalKey holds the write set of a commit that has not been fully
// replayed. It sits outside every instance namespace.
const journalKey = "_journal.pending"

// kvBucket is the part of a JetStream KV bucket the backend uses. Get returns
// ErrNotFound for missing keys.
type kvBucket interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type jetstreamBucket struct {
	kv jetstream.KeyValue
}

func (b jetstreamBucket) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := b.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

func (b jetstreamBucket) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.kv.Put(ctx, key, value)
	return err
}

func (b jetstreamBucket) Delete(ctx context.Context, key string) error {
	return b.kv.Delete(ctx, key)
}

// NATSBackend stores records in a JetStream key/value bucket. Keys are
// "<namespace>.<key>".
//
// JetStream KV has no multi-key transaction. Apply first stores the whole
// write set under a single journal key, which is the commit point, then
// replays it key by key and removes the journal. A journal left behind by a
// failed replay or a crash is replayed before the next read or write and when
// the backend is opened.
type NATSBackend struct {
	conn *nats.Conn
	kv   kvBucket

	mu      sync.Mutex
	pending bool
}

// NewNATSBackend connects to url and opens (or creates) bucket.
func NewNATSBackend(ctx context.Context, url, bucket string) (*NATSBackend, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kv, err := js.KeyValue(initCtx, bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(initCtx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "Service state for the handoff host",
			History:     1,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create KV bucket: %w", err)
		}
		slog.Info("Created KV bucket for service state", "bucket", bucket)
	}

	b, err := newNATSBackend(initCtx, jetstreamBucket{kv: kv})
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.conn = conn
	return b, nil
}

// newNATSBackend wraps kv and replays a journal left by an earlier process.
func newNATSBackend(ctx context.Context, kv kvBucket) (*NATSBackend, error) {
	b := &NATSBackend{kv: kv}
	_, err := kv.Get(ctx, journalKey)
	switch {
	case errors.Is(err, ErrNotFound):
		return b, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	b.pending = true
	if err := b.recover(ctx); err != nil {
		return nil, err
	}
	slog.Info("Replayed pending store journal")
	return b, nil
}

func natsKey(namespace, key string) string {
	return namespace + "." + key
}

// recover replays the journal if one is pending. The caller holds b.mu.
func (b *NATSBackend) recover(ctx context.Context) error {
	if !b.pending {
		return nil
	}
	raw, err := b.kv.Get(ctx, journalKey)
	if errors.Is(err, ErrNotFound) {
		b.pending = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	var writes []Write
	if err := json.Unmarshal(raw, &writes); err != nil {
		return fmt.Errorf("corrupt journal: %w", err)
	}
	for _, w := range writes {
		if err := b.kv.Put(ctx, natsKey(w.Namespace, w.Key), w.Value); err != nil {
			return fmt.Errorf("failed to replay %s/%s: %w", w.Namespace, w.Key, err)
		}
	}
	if err := b.kv.Delete(ctx, journalKey); err != nil {
		return fmt.Errorf("failed to clear journal: %w", err)
	}
	b.pending = false
	return nil
}

// Get returns the latest value for namespace/key.
func (b *NATSBackend) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.recover(ctx); err != nil {
		return nil, err
	}
	value, err := b.kv.Get(ctx, natsKey(namespace, key))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Apply journals writes and then replays them. Once the journal is stored the
// writes are committed, even if the replay has to be finished later.
func (b *NATSBackend) Apply(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.recover(ctx); err != nil {
		return err
	}

	journal, err := json.Marshal(writes)
	if err != nil {
		return fmt.Errorf("failed to encode journal: %w", err)
	}
	if err := b.kv.Put(ctx, journalKey, journal); err != nil {
		// The put may have landed before the error was reported.
		_ = b.kv.Delete(ctx, journalKey)
		return fmt.Errorf("failed to write journal: %w", err)
	}

	b.pending = true
	if err := b.recover(ctx); err != nil {
		slog.Warn("Store journal replay incomplete, retrying on next access", "error", err)
	}
	return nil
}

// Close closes the NATS connection.
func (b *NATSBackend) Close() error {
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}

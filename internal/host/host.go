// Package host executes service instances. It delivers execute calls and
// queries, sets the verified sender on every execute, and commits the
// effects of a call together with every message it emits, or none of them.
package host

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rflorenc/state-handoff/internal/events"
	"github.com/rflorenc/state-handoff/internal/logfields"
	"github.com/rflorenc/state-handoff/internal/metrics"
	"github.com/rflorenc/state-handoff/internal/models"
	"github.com/rflorenc/state-handoff/internal/store"
)

var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrCodeHashMismatch = errors.New("code hash mismatch")
	ErrUnknownKind      = errors.New("unknown service kind")
	ErrDepthExceeded    = errors.New("message depth exceeded")
)

const (
	registryNamespace = "_host"
	registryKey       = "instances"

	// maxDepth bounds chains of messages emitted by messages.
	maxDepth = 8
)

type code struct {
	kind     string
	hash     string
	contract Contract
	actions  map[string]bool
}

// metricAction bounds the action label to the variants the code declares.
func (c code) metricAction(action string) string {
	if c.actions[action] {
		return action
	}
	return UnknownAction
}

// Host runs service instances on top of a storage backend.
type Host struct {
	backend    store.Backend
	logger     *slog.Logger
	metrics    metrics.Recorder
	publishers []events.Publisher
	now        func() time.Time

	// mu serializes transactions; queries take the read side.
	mu        sync.RWMutex
	codes     map[string]code
	instances *models.InstanceStore
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(h *Host) { h.metrics = r }
}

// WithPublisher adds an event publisher notified after each commit.
func WithPublisher(p events.Publisher) Option {
	return func(h *Host) { h.publishers = append(h.publishers, p) }
}

// WithClock overrides the time source handed to handlers.
func WithClock(now func() time.Time) Option {
	return func(h *Host) { h.now = now }
}

// New creates a host on backend.
func New(backend store.Backend, opts ...Option) *Host {
	h := &Host{
		backend:   backend,
		logger:    slog.Default(),
		metrics:   metrics.NoopRecorder{},
		now:       func() time.Time { return time.Now().UTC() },
		codes:     make(map[string]code),
		instances: models.NewInstanceStore(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CodeHash returns the code hash of a service kind.
func CodeHash(kind string) string {
	sum := sha256.Sum256([]byte("handoff/" + kind))
	return hex.EncodeToString(sum[:])
}

// RegisterCode makes a service kind available for instantiation and returns
// its code hash.
func (h *Host) RegisterCode(kind string, c Contract) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	hash := CodeHash(kind)
	actions := make(map[string]bool)
	if l, ok := c.(ActionLister); ok {
		for _, a := range l.Actions() {
			actions[a] = true
		}
	}
	h.codes[kind] = code{kind: kind, hash: hash, contract: c, actions: actions}
	return hash
}

// Load restores the instance registry from the backend.
func (h *Host) Load(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	reg := store.NewSingleton[[]models.Instance](store.ReadOnly(h.backend, registryNamespace), registryKey)
	list, ok, err := reg.MayLoad(ctx)
	if err != nil {
		return fmt.Errorf("loading instance registry: %w", err)
	}
	if !ok {
		return nil
	}
	for i := range list {
		inst := list[i]
		if _, known := h.codes[inst.Kind]; !known {
			return fmt.Errorf("instance %s: %w: %s", inst.Address, ErrUnknownKind, inst.Kind)
		}
		h.instances.Add(&inst)
	}
	h.logger.Info("Loaded instance registry", slog.Int("instances", len(list)))
	return nil
}

// Instance returns a registered instance.
func (h *Host) Instance(addr models.Addr) (*models.Instance, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	inst := h.instances.Get(addr)
	return inst, inst != nil
}

// Lookup resolves ref as an instance address, then as a label.
func (h *Host) Lookup(ref string) (*models.Instance, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if inst := h.instances.Get(models.Addr(ref)); inst != nil {
		return inst, true
	}
	if ref == "" {
		return nil, false
	}
	inst := h.instances.FindByLabel(ref)
	return inst, inst != nil
}

// Instances returns all registered instances, oldest first.
func (h *Host) Instances() []*models.Instance {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.instances.List()
}

// Instantiate creates a new instance of kind on behalf of sender.
func (h *Host) Instantiate(ctx context.Context, sender models.Addr, kind, label string, msg json.RawMessage) (*models.Instance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.codes[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	inst := &models.Instance{
		Kind:      kind,
		CodeHash:  c.hash,
		Label:     label,
		Creator:   sender,
		CreatedAt: h.now(),
	}
	if err := h.instances.Create(inst); err != nil {
		return nil, err
	}

	t := newTx(h)
	err := func() error {
		env := Env{Time: h.now(), Sender: sender, Contract: ContractInfo{Address: inst.Address, CodeHash: inst.CodeHash}}
		resp, err := c.contract.Instantiate(ctx, env, t.deps(inst), msg)
		if err != nil {
			return err
		}
		if resp == nil {
			resp = NewResponse()
		}
		t.record(inst, events.TypeInstantiate, sender, resp.Attributes)
		if err := t.dispatch(ctx, inst.Address, resp.Messages, 1); err != nil {
			return err
		}
		reg := store.NewSingleton[[]models.Instance](t.batch.KV(registryNamespace), registryKey)
		if err := reg.Save(ctx, h.instances.Snapshot()); err != nil {
			return err
		}
		return t.commit(ctx)
	}()
	h.metrics.IncTransaction(metrics.Result(err))
	if err != nil {
		h.instances.Remove(inst.Address)
		h.logger.Warn("Instantiate failed", logfields.Kind(kind), logfields.Sender(string(sender)), logfields.Error(err))
		return nil, err
	}

	h.logger.Info("Instantiated", logfields.Instance(string(inst.Address)), logfields.Kind(kind), logfields.Sender(string(sender)))
	t.publish(ctx)
	return inst, nil
}

// Execute runs msg on the instance at addr on behalf of sender. The call and
// every message it emits commit together.
func (h *Host) Execute(ctx context.Context, sender models.Addr, addr models.Addr, msg json.RawMessage) (*Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := newTx(h)
	resp, err := t.execute(ctx, sender, addr, "", msg, 0)
	if err == nil {
		err = t.commit(ctx)
	}
	h.metrics.IncTransaction(metrics.Result(err))
	if err != nil {
		h.logger.Warn("Execute rejected",
			logfields.Instance(string(addr)),
			logfields.Action(MessageAction(msg)),
			logfields.Sender(string(sender)),
			logfields.Error(err))
		return nil, err
	}

	t.publish(ctx)
	return resp, nil
}

// Query runs a read-only query against committed state. Queries carry no
// sender identity.
func (h *Host) Query(ctx context.Context, addr models.Addr, msg json.RawMessage) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	q := viewQuerier{h: h, view: func(ns string) store.KV { return store.ReadOnly(h.backend, ns) }}
	return q.query(ctx, addr, "", msg)
}

// viewQuerier answers queries against a storage view: committed state for
// external queries, the running transaction for queries issued by handlers.
type viewQuerier struct {
	h    *Host
	view func(namespace string) store.KV
}

func (q viewQuerier) Query(ctx context.Context, addr models.Addr, codeHash string, msg json.RawMessage) ([]byte, error) {
	if codeHash == "" {
		return nil, fmt.Errorf("%w: query to %s names no code hash", ErrCodeHashMismatch, addr)
	}
	return q.query(ctx, addr, codeHash, msg)
}

func (q viewQuerier) query(ctx context.Context, addr models.Addr, codeHash string, msg json.RawMessage) ([]byte, error) {
	inst, c, err := q.h.resolve(addr, codeHash)
	if err != nil {
		return nil, err
	}
	env := Env{Time: q.h.now(), Contract: ContractInfo{Address: inst.Address, CodeHash: inst.CodeHash}}
	deps := Deps{
		Store:   q.view(string(inst.Address)),
		Querier: q,
		Logger:  q.h.logger.With(logfields.Instance(string(inst.Address)), logfields.Kind(inst.Kind)),
	}
	res, err := c.contract.Query(ctx, env, deps, msg)
	q.h.metrics.IncQuery(inst.Kind, metrics.Result(err))
	if err != nil {
		q.h.logger.Debug("Query rejected", logfields.Instance(string(addr)), logfields.Action(MessageAction(msg)), logfields.Error(err))
		return nil, err
	}
	return res, nil
}

// resolve finds an instance and its code, checking codeHash when given.
func (h *Host) resolve(addr models.Addr, codeHash string) (*models.Instance, code, error) {
	inst := h.instances.Get(addr)
	if inst == nil {
		return nil, code{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, addr)
	}
	if codeHash != "" && codeHash != inst.CodeHash {
		return nil, code{}, fmt.Errorf("%w: %s runs %s", ErrCodeHashMismatch, addr, inst.Kind)
	}
	c, ok := h.codes[inst.Kind]
	if !ok {
		return nil, code{}, fmt.Errorf("%w: %s", ErrUnknownKind, inst.Kind)
	}
	return inst, c, nil
}

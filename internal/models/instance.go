package models

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateLabel is returned when an instance label is already taken.
var ErrDuplicateLabel = errors.New("instance label already in use")

// Instance describes a service instance registered with the host.
type Instance struct {
	Address   Addr      `json:"address"`
	Kind      string    `json:"kind"` // "source" or "target"
	CodeHash  string    `json:"code_hash"`
	Label     string    `json:"label"`
	Creator   Addr      `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
}

// InstanceStore is an in-memory thread-safe registry of instances.
type InstanceStore struct {
	mu    sync.RWMutex
	insts map[Addr]*Instance
}

// NewInstanceStore creates an empty instance store.
func NewInstanceStore() *InstanceStore {
	return &InstanceStore{insts: make(map[Addr]*Instance)}
}

// Create registers a new instance, assigning it a UUID address.
func (s *InstanceStore) Create(inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst.Label != "" && s.findByLabel(inst.Label) != nil {
		return ErrDuplicateLabel
	}
	inst.Address = Addr(uuid.New().String())
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	s.insts[inst.Address] = inst
	return nil
}

// Add registers an instance that already has an address, e.g. one loaded
// from durable storage.
func (s *InstanceStore) Add(inst *Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insts[inst.Address] = inst
}

// Remove drops an instance. It is used to undo a failed instantiation.
func (s *InstanceStore) Remove(addr Addr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.insts[addr]; !ok {
		return false
	}
	delete(s.insts, addr)
	return true
}

// Get returns an instance by address, or nil if not found.
func (s *InstanceStore) Get(addr Addr) *Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.insts[addr]
}

// FindByLabel returns the instance with the given label, or nil.
func (s *InstanceStore) FindByLabel(label string) *Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByLabel(label)
}

func (s *InstanceStore) findByLabel(label string) *Instance {
	for _, inst := range s.insts {
		if inst.Label == label {
			return inst
		}
	}
	return nil
}

// List returns all instances, oldest first.
func (s *InstanceStore) List() []*Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Instance, 0, len(s.insts))
	for _, inst := range s.insts {
		result = append(result, inst)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Address < result[j].Address
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Snapshot returns copies of all instances, oldest first.
func (s *InstanceStore) Snapshot() []Instance {
	list := s.List()
	out := make([]Instance, len(list))
	for i, inst := range list {
		out[i] = *inst
	}
	return out
}

package sequence

import (
	"context"
	"sync"
)

// MemoryEntityLookup is an in-memory identifier registry suitable for tests
// and early development. Identifiers are only ever added; soft deletion never
// releases one.
type MemoryEntityLookup struct {
	mu       sync.RWMutex
	byTenant map[string]map[string]struct{}
}

// NewMemoryEntityLookup constructs an empty MemoryEntityLookup.
func NewMemoryEntityLookup() *MemoryEntityLookup {
	return &MemoryEntityLookup{byTenant: make(map[string]map[string]struct{})}
}

// Bind records an identifier as permanently taken for the tenant.
func (l *MemoryEntityLookup) Bind(tenantID, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids, ok := l.byTenant[tenantID]
	if !ok {
		ids = make(map[string]struct{})
		l.byTenant[tenantID] = ids
	}
	ids[id] = struct{}{}
}

func (l *MemoryEntityLookup) IdentifierExists(ctx context.Context, tenantID, id string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.byTenant[tenantID][id]
	return ok, nil
}

func (l *MemoryEntityLookup) MaxAssignedSequence(ctx context.Context, ns Namespace, tenantID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var max int64
	for id := range l.byTenant[tenantID] {
		seq, err := ns.SuffixOf(id)
		if err != nil {
			continue // other namespaces and fallback ids share the registry
		}
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

// MemoryCounterStore keeps one counter per (namespace, tenant) behind a
// mutex, seeding lazily from the entity lookup the way the durable store
// seeds from existing rows.
type MemoryCounterStore struct {
	mu       sync.Mutex
	lookup   EntityLookup
	counters map[string]int64
}

// NewMemoryCounterStore constructs a MemoryCounterStore seeded from lookup.
func NewMemoryCounterStore(lookup EntityLookup) *MemoryCounterStore {
	if lookup == nil {
		panic("entity lookup is required")
	}
	return &MemoryCounterStore{lookup: lookup, counters: make(map[string]int64)}
}

func (s *MemoryCounterStore) EnsureInitialized(ctx context.Context, ns Namespace, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(ctx, ns, tenantID)
}

func (s *MemoryCounterStore) IncrementAndGet(ctx context.Context, ns Namespace, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLocked(ctx, ns, tenantID); err != nil {
		return 0, err
	}
	key := ns.CounterKey(tenantID)
	s.counters[key]++
	return s.counters[key], nil
}

func (s *MemoryCounterStore) PeekNext(ctx context.Context, ns Namespace, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLocked(ctx, ns, tenantID); err != nil {
		return 0, err
	}
	return s.counters[ns.CounterKey(tenantID)] + 1, nil
}

// ensureLocked seeds a missing counter and raises (never lowers) an existing
// one, mirroring the durable store's self-healing upsert.
func (s *MemoryCounterStore) ensureLocked(ctx context.Context, ns Namespace, tenantID string) error {
	key := ns.CounterKey(tenantID)
	seed, err := s.lookup.MaxAssignedSequence(ctx, ns, tenantID)
	if err != nil {
		return err
	}
	if current, ok := s.counters[key]; !ok || current < seed {
		s.counters[key] = seed
	}
	return nil
}

// Ensure interface compliance.
var (
	_ CounterStore = (*MemoryCounterStore)(nil)
	_ EntityLookup = (*MemoryEntityLookup)(nil)
)

package sequence

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// CounterStore is the durable per-tenant monotonic counter. Implementations
// must make IncrementAndGet a single atomic storage-level operation; the
// whole no-duplicates guarantee rests on that primitive.
type CounterStore interface {
	// EnsureInitialized creates the counter for (namespace, tenant) if absent,
	// seeded from the highest numeric suffix already assigned to any entity of
	// that tenant, soft-deleted rows included. Idempotent and race-safe: the
	// create must be a conditional insert, never a read-then-write.
	EnsureInitialized(ctx context.Context, ns Namespace, tenantID string) error
	// IncrementAndGet atomically advances the counter and returns the new value.
	IncrementAndGet(ctx context.Context, ns Namespace, tenantID string) (int64, error)
	// PeekNext returns current+1 without consuming a number.
	PeekNext(ctx context.Context, ns Namespace, tenantID string) (int64, error)
}

// EntityLookup answers identifier-existence questions across every record of
// a tenant. Soft-deleted records count: their identifiers stay reserved.
type EntityLookup interface {
	IdentifierExists(ctx context.Context, tenantID, id string) (bool, error)
	// MaxAssignedSequence returns the highest numeric suffix among all
	// identifiers of the namespace for the tenant, or 0 when none exist.
	MaxAssignedSequence(ctx context.Context, ns Namespace, tenantID string) (int64, error)
}

// Allocator combines the counter store and collision guard into the public
// identifier API. Assign is the only operation that consumes sequence
// numbers; Preview is a side-effect-free forecast.
type Allocator struct {
	counters CounterStore
	guard    *Guard
	logger   *zap.Logger
}

// NewAllocator constructs an Allocator.
func NewAllocator(counters CounterStore, lookup EntityLookup, logger *zap.Logger) *Allocator {
	if counters == nil {
		panic("counter store is required")
	}
	if lookup == nil {
		panic("entity lookup is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		counters: counters,
		guard:    NewGuard(lookup, logger),
		logger:   logger,
	}
}

// Preview returns the identifier the next Assign would currently produce.
// It never consumes a number: two users previewing concurrently both see the
// same value, and only the first to commit gets it.
func (a *Allocator) Preview(ctx context.Context, ns Namespace, tenantID string) (string, error) {
	if err := requireTenant(tenantID); err != nil {
		return "", err
	}
	next, err := a.counters.PeekNext(ctx, ns, tenantID)
	if err != nil {
		return "", fmt.Errorf("peek next %s sequence: %w", ns.Name, err)
	}
	return ns.Format(next), nil
}

// Assign durably reserves and returns the next identifier. If the caller
// fails to persist the entity afterwards the number is burned; gaps are
// tolerated, duplicates are not.
func (a *Allocator) Assign(ctx context.Context, ns Namespace, tenantID string) (string, error) {
	if err := requireTenant(tenantID); err != nil {
		return "", err
	}

	seq, err := a.counters.IncrementAndGet(ctx, ns, tenantID)
	if err != nil {
		return "", fmt.Errorf("increment %s sequence: %w", ns.Name, err)
	}

	candidate := ns.Format(seq)
	final, err := a.guard.VerifyOrAdvance(ctx, ns, tenantID, candidate)
	if err != nil {
		return "", err
	}

	if final != candidate {
		// A collision means the counter was under-seeded (restored backup,
		// manual edit). Re-seeding repairs it for subsequent allocations.
		if healErr := a.counters.EnsureInitialized(ctx, ns, tenantID); healErr != nil {
			a.logger.Error("counter re-initialization after collision failed",
				zap.String("namespace", ns.Name),
				zap.String("tenant_id", tenantID),
				zap.Error(healErr),
			)
		}
	}

	return final, nil
}

func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return ErrTenantContextMissing
	}
	return nil
}

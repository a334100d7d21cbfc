package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightdesk/campus-admin/platform/go/sequence"
)

// CountersTable defines the fully-qualified table holding one monotonic
// counter row per (namespace, tenant).
const CountersTable = "admin.id_counters"

// CounterStore implements sequence.CounterStore on PostgreSQL. Atomicity of
// IncrementAndGet rests on a single UPDATE ... RETURNING statement, so
// concurrent callers are serialized by the database, not by application locks.
type CounterStore struct {
	pool   *pgxpool.Pool
	lookup sequence.EntityLookup
}

// NewCounterStore creates a store; assumes Bootstrap already created the table.
// The lookup seeds counters from pre-existing entity data on first use.
func NewCounterStore(pool *pgxpool.Pool, lookup sequence.EntityLookup) (*CounterStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if lookup == nil {
		return nil, errors.New("entity lookup is required")
	}
	return &CounterStore{pool: pool, lookup: lookup}, nil
}

// EnsureInitialized creates the counter row if absent, seeded to the highest
// numeric suffix already assigned for the tenant and namespace. The
// conditional upsert makes concurrent first calls converge on one seed. An
// existing counter is only ever raised (GREATEST), never lowered, so
// re-running after a restore or migration repairs an under-seeded counter
// without risking reuse.
func (s *CounterStore) EnsureInitialized(ctx context.Context, ns sequence.Namespace, tenantID string) error {
	seed, err := s.lookup.MaxAssignedSequence(ctx, ns, tenantID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (counter_key, sequence)
        VALUES ($1, $2)
        ON CONFLICT (counter_key) DO UPDATE
        SET sequence = GREATEST(%s.sequence, EXCLUDED.sequence), updated_at = NOW()
    `, CountersTable, CountersTable)

	if _, err := s.pool.Exec(ctx, query, ns.CounterKey(tenantID), seed); err != nil {
		return storageUnavailable("initialize counter", err)
	}
	return nil
}

// IncrementAndGet atomically advances the counter and returns the new value.
func (s *CounterStore) IncrementAndGet(ctx context.Context, ns sequence.Namespace, tenantID string) (int64, error) {
	query := fmt.Sprintf(`
        UPDATE %s
        SET sequence = sequence + 1, updated_at = NOW()
        WHERE counter_key = $1
        RETURNING sequence
    `, CountersTable)

	var seq int64
	err := s.pool.QueryRow(ctx, query, ns.CounterKey(tenantID)).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.EnsureInitialized(ctx, ns, tenantID); err != nil {
			return 0, err
		}
		err = s.pool.QueryRow(ctx, query, ns.CounterKey(tenantID)).Scan(&seq)
	}
	if err != nil {
		return 0, storageUnavailable("increment counter", err)
	}
	return seq, nil
}

// PeekNext returns current+1 without consuming a number. The counter row is
// lazily created (not incremented) when missing so the forecast matches what
// the first Assign will produce.
func (s *CounterStore) PeekNext(ctx context.Context, ns sequence.Namespace, tenantID string) (int64, error) {
	query := fmt.Sprintf(`SELECT sequence FROM %s WHERE counter_key = $1`, CountersTable)

	var current int64
	err := s.pool.QueryRow(ctx, query, ns.CounterKey(tenantID)).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.EnsureInitialized(ctx, ns, tenantID); err != nil {
			return 0, err
		}
		err = s.pool.QueryRow(ctx, query, ns.CounterKey(tenantID)).Scan(&current)
	}
	if err != nil {
		return 0, storageUnavailable("peek counter", err)
	}
	return current + 1, nil
}

func storageUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sequence.ErrStorageUnavailable, err)
}

// Ensure interface compliance.
var _ sequence.CounterStore = (*CounterStore)(nil)

package sequence

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMemoryAllocator(t *testing.T) (*Allocator, *MemoryEntityLookup) {
	t.Helper()
	lookup := NewMemoryEntityLookup()
	counters := NewMemoryCounterStore(lookup)
	return NewAllocator(counters, lookup, zaptest.NewLogger(t)), lookup
}

func TestAllocator_AssignSequence(t *testing.T) {
	ctx := context.Background()
	alloc, lookup := newMemoryAllocator(t)

	for i := 1; i <= 5; i++ {
		id, err := alloc.Assign(ctx, courseNS, "t1")
		require.NoError(t, err)
		require.Equal(t, courseNS.Format(int64(i)), id)
		lookup.Bind("t1", id)
	}
}

func TestAllocator_PreviewNeverCommits(t *testing.T) {
	ctx := context.Background()
	alloc, _ := newMemoryAllocator(t)

	for i := 0; i < 10; i++ {
		id, err := alloc.Preview(ctx, courseNS, "t1")
		require.NoError(t, err)
		require.Equal(t, "COURSE0001", id)
	}

	id, err := alloc.Assign(ctx, courseNS, "t1")
	require.NoError(t, err)
	require.Equal(t, "COURSE0001", id)
}

func TestAllocator_ConcurrentAssignsAreDistinct(t *testing.T) {
	ctx := context.Background()
	alloc, _ := newMemoryAllocator(t)

	const workers = 500
	ids := make([]string, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(slot int) {
			defer wg.Done()
			id, err := alloc.Assign(ctx, courseNS, "t1")
			require.NoError(t, err)
			ids[slot] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, workers)
	for _, id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, workers)
}

func TestAllocator_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	alloc, lookup := newMemoryAllocator(t)

	for i := 0; i < 3; i++ {
		id, err := alloc.Assign(ctx, courseNS, "tenantA")
		require.NoError(t, err)
		lookup.Bind("tenantA", id)
	}

	// Tenant B starts from scratch regardless of A's allocations.
	id, err := alloc.Assign(ctx, courseNS, "tenantB")
	require.NoError(t, err)
	require.Equal(t, "COURSE0001", id)

	id, err = alloc.Assign(ctx, courseNS, "tenantA")
	require.NoError(t, err)
	require.Equal(t, "COURSE0004", id)
}

func TestAllocator_SeedsFromExistingData(t *testing.T) {
	ctx := context.Background()
	lookup := NewMemoryEntityLookup()
	for i := 1; i <= 12; i++ {
		lookup.Bind("t1", courseNS.Format(int64(i)))
	}
	counters := NewMemoryCounterStore(lookup)
	alloc := NewAllocator(counters, lookup, zaptest.NewLogger(t))

	id, err := alloc.Preview(ctx, courseNS, "t1")
	require.NoError(t, err)
	require.Equal(t, "COURSE0013", id)

	id, err = alloc.Assign(ctx, courseNS, "t1")
	require.NoError(t, err)
	require.Equal(t, "COURSE0013", id)
}

func TestAllocator_RequiresTenant(t *testing.T) {
	ctx := context.Background()
	alloc, _ := newMemoryAllocator(t)

	_, err := alloc.Assign(ctx, courseNS, "")
	require.ErrorIs(t, err, ErrTenantContextMissing)

	_, err = alloc.Preview(ctx, courseNS, "  ")
	require.ErrorIs(t, err, ErrTenantContextMissing)
}

func TestAllocator_NamespacesAreIndependent(t *testing.T) {
	ctx := context.Background()
	alloc, lookup := newMemoryAllocator(t)
	cohortNS := Namespace{Name: "cohortid", Prefix: "COHORT", Width: 4}

	id, err := alloc.Assign(ctx, courseNS, "t1")
	require.NoError(t, err)
	require.Equal(t, "COURSE0001", id)
	lookup.Bind("t1", id)

	id, err = alloc.Assign(ctx, cohortNS, "t1")
	require.NoError(t, err)
	require.Equal(t, "COHORT0001", id)
}

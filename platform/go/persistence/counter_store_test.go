package persistence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/brightdesk/campus-admin/platform/go/sequence"
)

var courseNS = sequence.Namespace{Name: "courseid", Prefix: "COURSE", Width: 4}

func TestCounterStoreIntegration(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping counter store integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("campus"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() {
		ClosePool(pool)
	})

	require.NoError(t, Bootstrap(ctx, pool))
	// Idempotent: a second run must not fail or clobber anything.
	require.NoError(t, Bootstrap(ctx, pool))

	courseStore, err := NewCourseStore(pool)
	require.NoError(t, err)
	counterStore, err := NewCounterStore(pool, courseStore)
	require.NoError(t, err)

	t.Run("fresh tenant starts at one", func(t *testing.T) {
		next, err := counterStore.PeekNext(ctx, courseNS, "fresh")
		require.NoError(t, err)
		require.Equal(t, int64(1), next)

		seq, err := counterStore.IncrementAndGet(ctx, courseNS, "fresh")
		require.NoError(t, err)
		require.Equal(t, int64(1), seq)
	})

	t.Run("peek never consumes", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			next, err := counterStore.PeekNext(ctx, courseNS, "peek")
			require.NoError(t, err)
			require.Equal(t, int64(1), next)
		}
	})

	t.Run("seeds from pre-existing rows", func(t *testing.T) {
		// Legacy data created before the counter table existed.
		for i := 1; i <= 12; i++ {
			id := courseNS.Format(int64(i))
			_, err := courseStore.Create(ctx, CourseRecord{
				DraftKey: uuid.New(),
				CourseID: &id,
				TenantID: "legacy",
				Title:    fmt.Sprintf("Legacy course %d", i),
				Status:   "active",
			})
			require.NoError(t, err)
		}

		require.NoError(t, counterStore.EnsureInitialized(ctx, courseNS, "legacy"))
		seq, err := counterStore.IncrementAndGet(ctx, courseNS, "legacy")
		require.NoError(t, err)
		require.Equal(t, int64(13), seq)
	})

	t.Run("concurrent increments are distinct", func(t *testing.T) {
		const workers = 50
		results := make([]int64, workers)
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func(slot int) {
				defer wg.Done()
				seq, err := counterStore.IncrementAndGet(ctx, courseNS, "hot")
				require.NoError(t, err)
				results[slot] = seq
			}(i)
		}
		wg.Wait()

		seen := make(map[int64]struct{}, workers)
		for _, seq := range results {
			_, dup := seen[seq]
			require.False(t, dup, "duplicate sequence %d", seq)
			seen[seq] = struct{}{}
		}
	})

	t.Run("concurrent first initialization converges", func(t *testing.T) {
		const workers = 10
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				require.NoError(t, counterStore.EnsureInitialized(ctx, courseNS, "race"))
			}()
		}
		wg.Wait()

		next, err := counterStore.PeekNext(ctx, courseNS, "race")
		require.NoError(t, err)
		require.Equal(t, int64(1), next)
	})

	t.Run("allocator recovers from under-seeded counter", func(t *testing.T) {
		alloc := sequence.NewAllocator(counterStore, courseStore, zaptest.NewLogger(t))

		id, err := alloc.Assign(ctx, courseNS, "drift")
		require.NoError(t, err)
		require.Equal(t, "COURSE0001", id)
		_, err = courseStore.Create(ctx, CourseRecord{
			DraftKey: uuid.New(), CourseID: &id, TenantID: "drift", Title: "First", Status: "active",
		})
		require.NoError(t, err)

		// Simulate a restored backup: the counter forgets the allocation.
		_, err = pool.Exec(ctx, `UPDATE admin.id_counters SET sequence = 0 WHERE counter_key = $1`,
			courseNS.CounterKey("drift"))
		require.NoError(t, err)

		// The guard skips the taken id and the counter self-heals.
		id, err = alloc.Assign(ctx, courseNS, "drift")
		require.NoError(t, err)
		require.Equal(t, "COURSE0002", id)
		_, err = courseStore.Create(ctx, CourseRecord{
			DraftKey: uuid.New(), CourseID: &id, TenantID: "drift", Title: "Second", Status: "active",
		})
		require.NoError(t, err)

		id, err = alloc.Assign(ctx, courseNS, "drift")
		require.NoError(t, err)
		require.Equal(t, "COURSE0003", id)
	})

	t.Run("tenants do not share counters", func(t *testing.T) {
		seqA, err := counterStore.IncrementAndGet(ctx, courseNS, "isoA")
		require.NoError(t, err)
		require.Equal(t, int64(1), seqA)

		seqB, err := counterStore.IncrementAndGet(ctx, courseNS, "isoB")
		require.NoError(t, err)
		require.Equal(t, int64(1), seqB)
	})
}

func TestCourseStoreIntegration(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping course store integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("campus"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() {
		ClosePool(pool)
	})

	require.NoError(t, Bootstrap(ctx, pool))

	store, err := NewCourseStore(pool)
	require.NoError(t, err)

	courseID := "COURSE0001"
	created, err := store.Create(ctx, CourseRecord{
		DraftKey: uuid.New(),
		CourseID: &courseID,
		TenantID: "t1",
		Title:    "Algebra I",
		Status:   "active",
		Payload:  []byte(`{"capacity":30}`),
	})
	require.NoError(t, err)
	require.NotNil(t, created.CourseID)
	require.False(t, created.IsDeleted)

	t.Run("identifier exists includes soft deleted", func(t *testing.T) {
		exists, err := store.IdentifierExists(ctx, "t1", courseID)
		require.NoError(t, err)
		require.True(t, exists)

		require.NoError(t, store.SoftDelete(ctx, "t1", courseID))

		exists, err = store.IdentifierExists(ctx, "t1", courseID)
		require.NoError(t, err)
		require.True(t, exists)

		rec, err := store.GetByCourseID(ctx, "t1", courseID)
		require.NoError(t, err)
		require.True(t, rec.IsDeleted)
		require.NotNil(t, rec.DeletedAt)
	})

	t.Run("soft delete is not repeatable", func(t *testing.T) {
		require.ErrorIs(t, store.SoftDelete(ctx, "t1", courseID), ErrCourseNotFound)
	})

	t.Run("identifier lookups are tenant scoped", func(t *testing.T) {
		exists, err := store.IdentifierExists(ctx, "other", courseID)
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("draft commit flow", func(t *testing.T) {
		preview := "COURSE0002"
		draft, err := store.Create(ctx, CourseRecord{
			DraftKey:  uuid.New(),
			TenantID:  "t1",
			Title:     "Biology",
			Status:    "draft",
			PreviewID: &preview,
		})
		require.NoError(t, err)
		require.Nil(t, draft.CourseID)

		fetched, err := store.GetDraft(ctx, "t1", draft.DraftKey)
		require.NoError(t, err)
		require.Equal(t, "COURSE0002", *fetched.PreviewID)

		updated, err := store.UpdateDraftPreviews(ctx, "t1", "COURSE0003")
		require.NoError(t, err)
		require.Equal(t, int64(1), updated)

		committed, err := store.CommitDraft(ctx, "t1", draft.DraftKey, "COURSE0002", "active")
		require.NoError(t, err)
		require.Equal(t, "COURSE0002", *committed.CourseID)
		require.Nil(t, committed.PreviewID)

		_, err = store.GetDraft(ctx, "t1", draft.DraftKey)
		require.ErrorIs(t, err, ErrDraftNotFound)

		_, err = store.CommitDraft(ctx, "t1", draft.DraftKey, "COURSE0009", "active")
		require.ErrorIs(t, err, ErrDraftNotFound)
	})

	t.Run("max assigned sequence skips fallback ids", func(t *testing.T) {
		fallback := "COURSE-F-1712345678901234"
		_, err := store.Create(ctx, CourseRecord{
			DraftKey: uuid.New(),
			CourseID: &fallback,
			TenantID: "t1",
			Title:    "Degraded creation",
			Status:   "active",
		})
		require.NoError(t, err)

		max, err := store.MaxAssignedSequence(ctx, courseNS, "t1")
		require.NoError(t, err)
		require.Equal(t, int64(2), max)
	})

	t.Run("list filters", func(t *testing.T) {
		records, total, err := store.List(ctx, "t1", ListParams{IncludeDeleted: false, Limit: 10})
		require.NoError(t, err)
		require.Len(t, records, total)
		for _, rec := range records {
			require.False(t, rec.IsDeleted)
		}

		// The soft-deleted row from above reappears.
		_, totalAll, err := store.List(ctx, "t1", ListParams{IncludeDeleted: true, Limit: 10})
		require.NoError(t, err)
		require.Equal(t, total+1, totalAll)
	})
}

package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightdesk/campus-admin/domains/courses/be/service"
	"github.com/brightdesk/campus-admin/platform/go/sequence"
)

// MemoryRepository is a simple in-memory implementation suitable for tests
// and early development. It also serves as the sequence.EntityLookup for the
// in-memory counter store, so the whole stack can run without postgres.
type MemoryRepository struct {
	mu      sync.RWMutex
	byKey   map[uuid.UUID]service.Course
	byID    map[string]map[string]uuid.UUID // tenantID -> courseID -> draftKey
	nowFunc func() time.Time
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byKey:   make(map[uuid.UUID]service.Course),
		byID:    make(map[string]map[string]uuid.UUID),
		nowFunc: time.Now,
	}
}

func (r *MemoryRepository) CreateCommitted(ctx context.Context, c service.Course) (service.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(c)
}

func (r *MemoryRepository) CreateDraft(ctx context.Context, c service.Course) (service.Course, error) {
	c.ID = ""
	c.Status = service.StatusDraft

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(c)
}

func (r *MemoryRepository) insertLocked(c service.Course) (service.Course, error) {
	if c.DraftKey == uuid.Nil {
		c.DraftKey = uuid.New()
	}
	now := r.nowFunc()
	c.CreatedAt = now
	c.UpdatedAt = now

	r.byKey[c.DraftKey] = c
	if c.ID != "" {
		r.bindLocked(c.TenantID, c.ID, c.DraftKey)
	}
	return c, nil
}

func (r *MemoryRepository) bindLocked(tenantID, courseID string, key uuid.UUID) {
	ids, ok := r.byID[tenantID]
	if !ok {
		ids = make(map[string]uuid.UUID)
		r.byID[tenantID] = ids
	}
	ids[courseID] = key
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID, courseID string) (service.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.byID[tenantID][courseID]
	if !ok {
		return service.Course{}, service.ErrCourseNotFound
	}
	return r.byKey[key], nil
}

func (r *MemoryRepository) GetDraft(ctx context.Context, tenantID string, draftKey uuid.UUID) (service.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byKey[draftKey]
	if !ok || c.TenantID != tenantID || c.ID != "" || c.IsDeleted {
		return service.Course{}, service.ErrDraftNotFound
	}
	return c, nil
}

func (r *MemoryRepository) CommitDraft(ctx context.Context, tenantID string, draftKey uuid.UUID, courseID string, status service.Status) (service.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byKey[draftKey]
	if !ok || c.TenantID != tenantID || c.ID != "" || c.IsDeleted {
		return service.Course{}, service.ErrDraftNotFound
	}

	c.ID = courseID
	c.Status = status
	c.PreviewID = ""
	c.UpdatedAt = r.nowFunc()
	r.byKey[draftKey] = c
	r.bindLocked(tenantID, courseID, draftKey)
	return c, nil
}

func (r *MemoryRepository) SoftDelete(ctx context.Context, tenantID, courseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byID[tenantID][courseID]
	if !ok {
		return service.ErrCourseNotFound
	}
	c := r.byKey[key]
	if c.IsDeleted {
		return service.ErrCourseNotFound
	}

	now := r.nowFunc()
	c.IsDeleted = true
	c.DeletedAt = &now
	c.UpdatedAt = now
	r.byKey[key] = c
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, tenantID string, opts service.ListOptions) (service.ListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]service.Course, 0)
	for _, c := range r.byKey {
		if c.TenantID != tenantID || c.ID == "" {
			continue
		}
		if c.IsDeleted && !opts.IncludeDeleted {
			continue
		}
		if opts.Status != nil && c.Status != *opts.Status {
			continue
		}
		items = append(items, c)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	totalPages := (len(items) + pageSize - 1) / pageSize
	return service.ListResult{
		Items:      items[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalItems: len(items),
		TotalPages: totalPages,
	}, nil
}

func (r *MemoryRepository) ListDrafts(ctx context.Context, tenantID string) ([]service.Course, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drafts := make([]service.Course, 0)
	for _, c := range r.byKey {
		if c.TenantID != tenantID || c.ID != "" || c.IsDeleted {
			continue
		}
		drafts = append(drafts, c)
	}
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].CreatedAt.Before(drafts[j].CreatedAt) })
	return drafts, nil
}

func (r *MemoryRepository) UpdateDraftPreviews(ctx context.Context, tenantID, previewID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var updated int64
	for key, c := range r.byKey {
		if c.TenantID != tenantID || c.ID != "" || c.IsDeleted {
			continue
		}
		c.PreviewID = previewID
		c.UpdatedAt = r.nowFunc()
		r.byKey[key] = c
		updated++
	}
	return updated, nil
}

// IdentifierExists reports whether any record, soft-deleted ones included,
// holds the identifier for the tenant.
func (r *MemoryRepository) IdentifierExists(ctx context.Context, tenantID, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byID[tenantID][id]
	return ok, nil
}

// MaxAssignedSequence returns the highest numeric suffix assigned for the
// tenant and namespace.
func (r *MemoryRepository) MaxAssignedSequence(ctx context.Context, ns sequence.Namespace, tenantID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var max int64
	for id := range r.byID[tenantID] {
		seq, err := ns.SuffixOf(id)
		if err != nil {
			continue // fallback ids carry no sequence
		}
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

// Ensure interface compliance.
var (
	_ service.Repository    = (*MemoryRepository)(nil)
	_ sequence.EntityLookup = (*MemoryRepository)(nil)
)

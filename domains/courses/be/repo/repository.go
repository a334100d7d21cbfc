package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/brightdesk/campus-admin/domains/courses/be/service"
	"github.com/brightdesk/campus-admin/platform/go/persistence"
)

// PostgresRepository implements the courses repository on the shared
// persistence layer.
type PostgresRepository struct {
	store *persistence.CourseStore
}

// NewPostgresRepository constructs a repository backed by CourseStore.
func NewPostgresRepository(store *persistence.CourseStore) *PostgresRepository {
	if store == nil {
		panic("course store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) CreateCommitted(ctx context.Context, c service.Course) (service.Course, error) {
	rec, err := toRecord(c)
	if err != nil {
		return service.Course{}, err
	}
	out, err := r.store.Create(ctx, rec)
	if err != nil {
		return service.Course{}, err
	}
	return toServiceCourse(out)
}

func (r *PostgresRepository) CreateDraft(ctx context.Context, c service.Course) (service.Course, error) {
	c.ID = ""
	c.Status = service.StatusDraft
	rec, err := toRecord(c)
	if err != nil {
		return service.Course{}, err
	}
	out, err := r.store.Create(ctx, rec)
	if err != nil {
		return service.Course{}, err
	}
	return toServiceCourse(out)
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID, courseID string) (service.Course, error) {
	rec, err := r.store.GetByCourseID(ctx, tenantID, courseID)
	if err != nil {
		return service.Course{}, mapNotFound(err)
	}
	return toServiceCourse(rec)
}

func (r *PostgresRepository) GetDraft(ctx context.Context, tenantID string, draftKey uuid.UUID) (service.Course, error) {
	rec, err := r.store.GetDraft(ctx, tenantID, draftKey)
	if err != nil {
		return service.Course{}, mapNotFound(err)
	}
	return toServiceCourse(rec)
}

func (r *PostgresRepository) CommitDraft(ctx context.Context, tenantID string, draftKey uuid.UUID, courseID string, status service.Status) (service.Course, error) {
	rec, err := r.store.CommitDraft(ctx, tenantID, draftKey, courseID, string(status))
	if err != nil {
		return service.Course{}, mapNotFound(err)
	}
	return toServiceCourse(rec)
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, tenantID, courseID string) error {
	return mapNotFound(r.store.SoftDelete(ctx, tenantID, courseID))
}

func (r *PostgresRepository) List(ctx context.Context, tenantID string, opts service.ListOptions) (service.ListResult, error) {
	var status *string
	if opts.Status != nil {
		s := string(*opts.Status)
		status = &s
	}

	records, total, err := r.store.List(ctx, tenantID, persistence.ListParams{
		Status:         status,
		IncludeDeleted: opts.IncludeDeleted,
		Limit:          opts.PageSize,
		Offset:         (opts.Page - 1) * opts.PageSize,
	})
	if err != nil {
		return service.ListResult{}, err
	}

	items := make([]service.Course, 0, len(records))
	for _, rec := range records {
		c, err := toServiceCourse(rec)
		if err != nil {
			return service.ListResult{}, err
		}
		items = append(items, c)
	}

	totalPages := (total + opts.PageSize - 1) / opts.PageSize
	return service.ListResult{
		Items:      items,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}

func (r *PostgresRepository) ListDrafts(ctx context.Context, tenantID string) ([]service.Course, error) {
	records, err := r.store.ListDrafts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	drafts := make([]service.Course, 0, len(records))
	for _, rec := range records {
		c, err := toServiceCourse(rec)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, c)
	}
	return drafts, nil
}

func (r *PostgresRepository) UpdateDraftPreviews(ctx context.Context, tenantID, previewID string) (int64, error) {
	return r.store.UpdateDraftPreviews(ctx, tenantID, previewID)
}

func toRecord(c service.Course) (persistence.CourseRecord, error) {
	payload, err := json.Marshal(c.Fields)
	if err != nil {
		return persistence.CourseRecord{}, fmt.Errorf("encode course fields: %w", err)
	}
	if c.Fields == nil {
		payload = json.RawMessage(`{}`)
	}

	rec := persistence.CourseRecord{
		DraftKey:    c.DraftKey,
		TenantID:    c.TenantID,
		Title:       c.Title,
		Description: c.Description,
		Payload:     payload,
		Status:      string(c.Status),
	}
	if c.ID != "" {
		id := c.ID
		rec.CourseID = &id
	}
	if c.PreviewID != "" {
		preview := c.PreviewID
		rec.PreviewID = &preview
	}
	return rec, nil
}

func toServiceCourse(rec persistence.CourseRecord) (service.Course, error) {
	var fields map[string]interface{}
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &fields); err != nil {
			return service.Course{}, fmt.Errorf("decode course fields: %w", err)
		}
	}

	c := service.Course{
		DraftKey:    rec.DraftKey,
		TenantID:    rec.TenantID,
		Title:       rec.Title,
		Description: rec.Description,
		Fields:      fields,
		Status:      service.Status(rec.Status),
		IsDeleted:   rec.IsDeleted,
		DeletedAt:   rec.DeletedAt,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if rec.CourseID != nil {
		c.ID = *rec.CourseID
	}
	if rec.PreviewID != nil {
		c.PreviewID = *rec.PreviewID
	}
	return c, nil
}

func mapNotFound(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrCourseNotFound):
		return service.ErrCourseNotFound
	case errors.Is(err, persistence.ErrDraftNotFound):
		return service.ErrDraftNotFound
	default:
		return err
	}
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)

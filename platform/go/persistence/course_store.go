package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightdesk/campus-admin/platform/go/sequence"
)

// ErrCourseNotFound indicates the requested course does not exist for the tenant.
var ErrCourseNotFound = errors.New("course not found")

// ErrDraftNotFound indicates the requested draft does not exist for the tenant.
var ErrDraftNotFound = errors.New("draft not found")

// CoursesTable defines the fully-qualified table for course records.
const CoursesTable = "admin.courses"

const courseColumns = `draft_key, course_id, tenant_id, title, description, payload, status, preview_id, is_deleted, deleted_at, created_at, updated_at`

// CourseRecord mirrors the courses table shape. Drafts have a nil CourseID
// until conversion commits one; committed records never lose theirs.
type CourseRecord struct {
	DraftKey    uuid.UUID       `db:"draft_key"`
	CourseID    *string         `db:"course_id"`
	TenantID    string          `db:"tenant_id"`
	Title       string          `db:"title"`
	Description *string         `db:"description"`
	Payload     json.RawMessage `db:"payload"`
	Status      string          `db:"status"`
	PreviewID   *string         `db:"preview_id"`
	IsDeleted   bool            `db:"is_deleted"`
	DeletedAt   *time.Time      `db:"deleted_at"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// ListParams defines filters when listing course records.
type ListParams struct {
	Status         *string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// CourseStore provides access to the courses table. It doubles as the
// sequence.EntityLookup capability: identifier existence checks span every
// row of the tenant, soft-deleted ones included.
type CourseStore struct {
	pool *pgxpool.Pool
}

// NewCourseStore creates a store; assumes Bootstrap already created the table.
func NewCourseStore(pool *pgxpool.Pool) (*CourseStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &CourseStore{pool: pool}, nil
}

// Create inserts a new record, committed or draft.
func (s *CourseStore) Create(ctx context.Context, rec CourseRecord) (CourseRecord, error) {
	if rec.DraftKey == uuid.Nil {
		rec.DraftKey = uuid.New()
	}
	if len(rec.Payload) == 0 {
		rec.Payload = json.RawMessage(`{}`)
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (
            draft_key, course_id, tenant_id, title, description, payload, status, preview_id, is_deleted, deleted_at, created_at, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, FALSE, NULL, NOW(), NOW()
        )
        RETURNING %s
    `, CoursesTable, courseColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.DraftKey, rec.CourseID, rec.TenantID, rec.Title, rec.Description,
		[]byte(rec.Payload), rec.Status, rec.PreviewID,
	)
	return scanCourseRecord(row)
}

// GetByCourseID fetches a committed record by its sequential identifier,
// soft-deleted rows included.
func (s *CourseStore) GetByCourseID(ctx context.Context, tenantID, courseID string) (CourseRecord, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE tenant_id = $1 AND course_id = $2
    `, courseColumns, CoursesTable)

	rec, err := scanCourseRecord(s.pool.QueryRow(ctx, query, tenantID, courseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return CourseRecord{}, ErrCourseNotFound
	}
	return rec, err
}

// GetDraft fetches a draft by its key.
func (s *CourseStore) GetDraft(ctx context.Context, tenantID string, draftKey uuid.UUID) (CourseRecord, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE tenant_id = $1 AND draft_key = $2 AND course_id IS NULL AND is_deleted = FALSE
    `, courseColumns, CoursesTable)

	rec, err := scanCourseRecord(s.pool.QueryRow(ctx, query, tenantID, draftKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return CourseRecord{}, ErrDraftNotFound
	}
	return rec, err
}

// CommitDraft binds the assigned identifier to the draft row and flips its
// status. The preview forecast is cleared: the record now owns a real id.
func (s *CourseStore) CommitDraft(ctx context.Context, tenantID string, draftKey uuid.UUID, courseID, status string) (CourseRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s
        SET course_id = $3, status = $4, preview_id = NULL, updated_at = NOW()
        WHERE tenant_id = $1 AND draft_key = $2 AND course_id IS NULL
        RETURNING %s
    `, CoursesTable, courseColumns)

	rec, err := scanCourseRecord(s.pool.QueryRow(ctx, query, tenantID, draftKey, courseID, status))
	if errors.Is(err, pgx.ErrNoRows) {
		return CourseRecord{}, ErrDraftNotFound
	}
	return rec, err
}

// SoftDelete flags the record deleted. The row and its identifier remain;
// nothing here ever touches the counter.
func (s *CourseStore) SoftDelete(ctx context.Context, tenantID, courseID string) error {
	query := fmt.Sprintf(`
        UPDATE %s
        SET is_deleted = TRUE, deleted_at = NOW(), updated_at = NOW()
        WHERE tenant_id = $1 AND course_id = $2 AND is_deleted = FALSE
    `, CoursesTable)

	tag, err := s.pool.Exec(ctx, query, tenantID, courseID)
	if err != nil {
		return fmt.Errorf("soft delete course: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCourseNotFound
	}
	return nil
}

// List returns committed records for the tenant plus the total matching count.
func (s *CourseStore) List(ctx context.Context, tenantID string, params ListParams) ([]CourseRecord, int, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	filter := "tenant_id = $1 AND course_id IS NOT NULL"
	args := []any{tenantID}
	if !params.IncludeDeleted {
		filter += " AND is_deleted = FALSE"
	}
	if params.Status != nil {
		args = append(args, *params.Status)
		filter += fmt.Sprintf(" AND status = $%d", len(args))
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, CoursesTable, filter)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}

	args = append(args, limit, params.Offset)
	query := fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE %s
        ORDER BY created_at
        LIMIT $%d OFFSET $%d
    `, courseColumns, CoursesTable, filter, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	records, err := collectCourseRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListDrafts returns every outstanding draft (no committed id) for the tenant.
func (s *CourseStore) ListDrafts(ctx context.Context, tenantID string) ([]CourseRecord, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE tenant_id = $1 AND course_id IS NULL AND is_deleted = FALSE
        ORDER BY created_at
    `, courseColumns, CoursesTable)

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	return collectCourseRecords(rows)
}

// UpdateDraftPreviews pushes the current forecast onto every outstanding
// draft of the tenant in one statement, returning how many rows changed.
func (s *CourseStore) UpdateDraftPreviews(ctx context.Context, tenantID, previewID string) (int64, error) {
	query := fmt.Sprintf(`
        UPDATE %s
        SET preview_id = $2, updated_at = NOW()
        WHERE tenant_id = $1 AND course_id IS NULL AND is_deleted = FALSE
    `, CoursesTable)

	tag, err := s.pool.Exec(ctx, query, tenantID, previewID)
	if err != nil {
		return 0, fmt.Errorf("refresh draft previews: %w", err)
	}
	return tag.RowsAffected(), nil
}

// IdentifierExists reports whether any record of the tenant holds the
// identifier, regardless of status or deletion.
func (s *CourseStore) IdentifierExists(ctx context.Context, tenantID, id string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE tenant_id = $1 AND course_id = $2)`, CoursesTable)

	var exists bool
	if err := s.pool.QueryRow(ctx, query, tenantID, id).Scan(&exists); err != nil {
		return false, storageUnavailable("check identifier", err)
	}
	return exists, nil
}

// MaxAssignedSequence returns the highest numeric suffix among all
// identifiers of the namespace for the tenant, deleted rows included.
func (s *CourseStore) MaxAssignedSequence(ctx context.Context, ns sequence.Namespace, tenantID string) (int64, error) {
	query := fmt.Sprintf(`
        SELECT COALESCE(MAX(NULLIF(substring(course_id from $2), '')::bigint), 0)
        FROM %s
        WHERE tenant_id = $1 AND course_id IS NOT NULL
    `, CoursesTable)

	pattern := "^" + regexp.QuoteMeta(ns.Prefix) + `([0-9]+)$`
	var max int64
	if err := s.pool.QueryRow(ctx, query, tenantID, pattern).Scan(&max); err != nil {
		return 0, storageUnavailable("max assigned sequence", err)
	}
	return max, nil
}

func scanCourseRecord(row pgx.Row) (CourseRecord, error) {
	var rec CourseRecord
	var payload []byte
	err := row.Scan(
		&rec.DraftKey, &rec.CourseID, &rec.TenantID, &rec.Title, &rec.Description,
		&payload, &rec.Status, &rec.PreviewID, &rec.IsDeleted, &rec.DeletedAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return CourseRecord{}, err
	}
	rec.Payload = payload
	return rec, nil
}

func collectCourseRecords(rows pgx.Rows) ([]CourseRecord, error) {
	var records []CourseRecord
	for rows.Next() {
		rec, err := scanCourseRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	return records, nil
}

// Ensure interface compliance.
var _ sequence.EntityLookup = (*CourseStore)(nil)

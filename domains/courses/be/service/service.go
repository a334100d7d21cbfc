package service

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/brightdesk/campus-admin/platform/go/sequence"
)

//go:embed course_form.schema.json
var courseFormSchema string

var formSchema = jsonschema.MustCompileString("course_form.schema.json", courseFormSchema)

// ValidationError captures form validation issues surfaced to the UI.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

// Domain-level errors surfaced by the service.
var (
	ErrCourseNotFound         = errors.New("course not found")
	ErrDraftNotFound          = errors.New("draft not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// Status enumerates course lifecycle states. Drafts may not yet hold a
// committed identifier; every other state always does.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

func (s Status) committed() bool {
	return s == StatusActive || s == StatusCancelled
}

// Course is the domain view of a course record. ID is empty for drafts;
// PreviewID carries the current next-id forecast instead.
type Course struct {
	DraftKey    uuid.UUID
	ID          string
	TenantID    string
	Title       string
	Description *string
	Fields      map[string]interface{}
	Status      Status
	PreviewID   string
	IsDeleted   bool
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateInput defines the payload for creating a committed course.
type CreateInput struct {
	Title       string
	Description *string
	Fields      map[string]interface{}
	Status      *Status
}

// DraftInput defines the payload for saving an uncommitted draft.
type DraftInput struct {
	Title       string
	Description *string
	Fields      map[string]interface{}
}

// ListOptions defines pagination and filter inputs.
type ListOptions struct {
	Status         *Status
	IncludeDeleted bool
	Page           int
	PageSize       int
}

// ListResult contains paginated courses and metadata.
type ListResult struct {
	Items      []Course
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// Repository is the persistence capability required by the service.
type Repository interface {
	CreateCommitted(ctx context.Context, c Course) (Course, error)
	CreateDraft(ctx context.Context, c Course) (Course, error)
	Get(ctx context.Context, tenantID, courseID string) (Course, error)
	GetDraft(ctx context.Context, tenantID string, draftKey uuid.UUID) (Course, error)
	CommitDraft(ctx context.Context, tenantID string, draftKey uuid.UUID, courseID string, status Status) (Course, error)
	SoftDelete(ctx context.Context, tenantID, courseID string) error
	List(ctx context.Context, tenantID string, opts ListOptions) (ListResult, error)
	ListDrafts(ctx context.Context, tenantID string) ([]Course, error)
	UpdateDraftPreviews(ctx context.Context, tenantID, previewID string) (int64, error)
}

// IdentifierAllocator is the slice of the sequence allocator the service uses.
type IdentifierAllocator interface {
	Preview(ctx context.Context, ns sequence.Namespace, tenantID string) (string, error)
	Assign(ctx context.Context, ns sequence.Namespace, tenantID string) (string, error)
}

// Config tunes service behavior.
type Config struct {
	// Namespace drives identifier formatting (prefix, width, counter key).
	Namespace sequence.Namespace
	// AllowDegradedIDs permits creation with a timestamp-suffixed fallback
	// identifier when the counter store is unreachable. Off by default:
	// creation then fails atomically instead.
	AllowDegradedIDs bool
}

// Service implements the course lifecycle: committed creation, draft saving,
// draft-to-course conversion, soft deletion, and preview refresh. The counter
// is only ever touched through Assign, after all validation has passed.
type Service struct {
	repo    Repository
	alloc   IdentifierAllocator
	ns      sequence.Namespace
	allowed bool
	logger  *zap.Logger
	now     func() time.Time
}

// New constructs a Service instance.
func New(repo Repository, alloc IdentifierAllocator, logger *zap.Logger, cfg Config) *Service {
	if repo == nil {
		panic("courses repository is required")
	}
	if alloc == nil {
		panic("identifier allocator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Namespace.Name == "" || cfg.Namespace.Prefix == "" {
		panic("identifier namespace is required")
	}
	return &Service{
		repo:    repo,
		alloc:   alloc,
		ns:      cfg.Namespace,
		allowed: cfg.AllowDegradedIDs,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateCourse assigns the next identifier and persists a committed course.
// On allocation failure creation fails atomically unless degraded-mode ids
// are enabled; a degraded creation is logged for manual reconciliation.
func (s *Service) CreateCourse(ctx context.Context, tenantID string, input CreateInput) (Course, error) {
	status := StatusActive
	if input.Status != nil {
		status = *input.Status
	}
	if !status.committed() {
		return Course{}, &ValidationError{Reason: fmt.Sprintf("status %q is not a committed state", status)}
	}
	if err := validateForm(input.Title, input.Description, input.Fields); err != nil {
		return Course{}, err
	}

	id, err := s.alloc.Assign(ctx, s.ns, tenantID)
	if err != nil {
		if !s.allowed || !errors.Is(err, sequence.ErrStorageUnavailable) {
			return Course{}, err
		}
		id = s.ns.FallbackID(s.now())
		s.logger.Warn("degraded id allocation",
			zap.String("tenant_id", tenantID),
			zap.String("fallback_id", id),
			zap.Error(err),
		)
	}

	course, err := s.repo.CreateCommitted(ctx, Course{
		DraftKey:    uuid.New(),
		ID:          id,
		TenantID:    tenantID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Fields:      input.Fields,
		Status:      status,
	})
	if err != nil {
		// The sequence number is burned; gaps are tolerated, reuse is not.
		return Course{}, fmt.Errorf("persist course %s: %w", id, err)
	}

	s.refreshPreviews(ctx, tenantID)
	return course, nil
}

// PreviewNextID forecasts the identifier the next creation would receive.
// It is side-effect free and never reserves the value.
func (s *Service) PreviewNextID(ctx context.Context, tenantID string) (string, error) {
	return s.alloc.Preview(ctx, s.ns, tenantID)
}

// SaveDraft stores an uncommitted draft together with the current next-id
// forecast. Saving a draft never consumes a sequence number.
func (s *Service) SaveDraft(ctx context.Context, tenantID string, input DraftInput) (Course, error) {
	if err := validateForm(input.Title, input.Description, input.Fields); err != nil {
		return Course{}, err
	}

	preview, err := s.alloc.Preview(ctx, s.ns, tenantID)
	if err != nil {
		return Course{}, err
	}

	return s.repo.CreateDraft(ctx, Course{
		DraftKey:    uuid.New(),
		TenantID:    tenantID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Fields:      input.Fields,
		Status:      StatusDraft,
		PreviewID:   preview,
	})
}

// GetDraft fetches a draft with a freshly computed forecast, so a form held
// open while other entities committed still shows the correct next id.
func (s *Service) GetDraft(ctx context.Context, tenantID string, draftKey uuid.UUID) (Course, error) {
	draft, err := s.repo.GetDraft(ctx, tenantID, draftKey)
	if err != nil {
		return Course{}, err
	}
	s.applyCurrentPreview(ctx, tenantID, &draft)
	return draft, nil
}

// ListDrafts returns every outstanding draft, each carrying the current
// forecast.
func (s *Service) ListDrafts(ctx context.Context, tenantID string) ([]Course, error) {
	drafts, err := s.repo.ListDrafts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return drafts, nil
	}

	preview, err := s.alloc.Preview(ctx, s.ns, tenantID)
	if err != nil {
		s.logger.Warn("draft preview refresh failed, serving stored forecasts",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return drafts, nil
	}
	for i := range drafts {
		drafts[i].PreviewID = preview
	}
	return drafts, nil
}

// ConvertDraftToCourse assigns an identifier to an existing draft and flips
// it to the active state. When the persist step fails after assignment the
// number is burned and the caller may retry; the retry allocates a fresh,
// higher number rather than attempting to reuse the lost one.
func (s *Service) ConvertDraftToCourse(ctx context.Context, tenantID string, draftKey uuid.UUID) (Course, error) {
	draft, err := s.repo.GetDraft(ctx, tenantID, draftKey)
	if err != nil {
		return Course{}, err
	}
	if draft.Status != StatusDraft {
		// Recoverable inconsistency, not fatal: the row still has no
		// committed id, so conversion is the correct repair.
		s.logger.Warn("draft status drift detected, proceeding with conversion",
			zap.String("tenant_id", tenantID),
			zap.String("draft_key", draftKey.String()),
			zap.String("status", string(draft.Status)),
		)
	}

	id, err := s.alloc.Assign(ctx, s.ns, tenantID)
	if err != nil {
		return Course{}, err
	}

	course, err := s.repo.CommitDraft(ctx, tenantID, draftKey, id, StatusActive)
	if err != nil {
		return Course{}, fmt.Errorf("commit draft after assigning %s: %w", id, err)
	}

	s.refreshPreviews(ctx, tenantID)
	return course, nil
}

// SoftDeleteCourse retires a committed course. Its identifier stays reserved
// forever; the counter is never decremented.
func (s *Service) SoftDeleteCourse(ctx context.Context, tenantID, courseID string) error {
	if !s.ns.Owns(courseID) && !strings.HasPrefix(courseID, s.ns.Prefix+"-F-") {
		return &ValidationError{Reason: fmt.Sprintf("%q is not a course identifier", courseID)}
	}
	if err := s.repo.SoftDelete(ctx, tenantID, courseID); err != nil {
		return err
	}
	s.refreshPreviews(ctx, tenantID)
	return nil
}

// Get fetches a committed course, soft-deleted ones included.
func (s *Service) Get(ctx context.Context, tenantID, courseID string) (Course, error) {
	return s.repo.Get(ctx, tenantID, courseID)
}

// List returns committed courses for the tenant.
func (s *Service) List(ctx context.Context, tenantID string, opts ListOptions) (ListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 || opts.PageSize > 100 {
		opts.PageSize = 20
	}
	return s.repo.List(ctx, tenantID, opts)
}

// RefreshAllPreviews pushes the current forecast onto every outstanding
// draft of the tenant. Reads recompute the forecast anyway; the push keeps
// long-lived stored drafts from displaying a taken id between reads.
func (s *Service) RefreshAllPreviews(ctx context.Context, tenantID string) error {
	preview, err := s.alloc.Preview(ctx, s.ns, tenantID)
	if err != nil {
		return err
	}
	updated, err := s.repo.UpdateDraftPreviews(ctx, tenantID, preview)
	if err != nil {
		return err
	}
	s.logger.Debug("draft previews refreshed",
		zap.String("tenant_id", tenantID),
		zap.String("preview_id", preview),
		zap.Int64("drafts", updated),
	)
	return nil
}

func (s *Service) refreshPreviews(ctx context.Context, tenantID string) {
	if err := s.RefreshAllPreviews(ctx, tenantID); err != nil {
		s.logger.Warn("refresh draft previews failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (s *Service) applyCurrentPreview(ctx context.Context, tenantID string, draft *Course) {
	preview, err := s.alloc.Preview(ctx, s.ns, tenantID)
	if err != nil {
		s.logger.Warn("draft preview refresh failed, serving stored forecast",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	draft.PreviewID = preview
}

// validateForm checks the course form document against the embedded JSON
// schema.
func validateForm(title string, description *string, fields map[string]interface{}) error {
	doc := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		doc[k] = v
	}
	doc["title"] = strings.TrimSpace(title)
	if description != nil {
		doc["description"] = *description
	}

	// Round-trip through JSON so numeric form values validate as the schema
	// expects (json.Number-free interface values).
	raw, err := json.Marshal(doc)
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("encode form: %v", err)}
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("decode form: %v", err)}
	}

	if err := formSchema.Validate(normalized); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	return nil
}

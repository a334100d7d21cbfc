package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightdesk/campus-admin/domains/courses/be/service"
	"github.com/brightdesk/campus-admin/platform/go/logging"
	"github.com/brightdesk/campus-admin/platform/go/sequence"
	"github.com/brightdesk/campus-admin/platform/go/tenant"
)

const (
	problemTypeValidation    = "https://campus-admin.dev/problems/validation-error"
	problemTypeNotFound      = "https://campus-admin.dev/problems/not-found"
	problemTypeTenantMissing = "https://campus-admin.dev/problems/tenant-context-missing"
	problemTypeUnavailable   = "https://campus-admin.dev/problems/storage-unavailable"
	problemTypeCollision     = "https://campus-admin.dev/problems/collision-exhausted"
	problemTypeInternal      = "https://campus-admin.dev/problems/internal-error"
)

// Handler wires the courses service to the HTTP surface.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("courses service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the tenant-scoped course routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/courses", h.listCourses)
	r.Post("/courses", h.createCourse)
	r.Get("/courses/next-id", h.previewNextID)
	r.Get("/courses/{courseID}", h.getCourse)
	r.Delete("/courses/{courseID}", h.deleteCourse)
	r.Get("/drafts", h.listDrafts)
	r.Post("/drafts", h.saveDraft)
	r.Get("/drafts/{draftKey}", h.getDraft)
	r.Post("/drafts/{draftKey}/publish", h.publishDraft)
	return r
}

type problemResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}

type courseRequest struct {
	Title       string                 `json:"title"`
	Description *string                `json:"description,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
	Status      *string                `json:"status,omitempty"`
}

type courseResponse struct {
	DraftKey    string                 `json:"draftKey"`
	ID          string                 `json:"id,omitempty"`
	Title       string                 `json:"title"`
	Description *string                `json:"description,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
	Status      string                 `json:"status"`
	PreviewID   string                 `json:"previewId,omitempty"`
	IsDeleted   bool                   `json:"isDeleted"`
	DeletedAt   *time.Time             `json:"deletedAt,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

type listResponse struct {
	Items      []courseResponse `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalItems int              `json:"totalItems"`
	TotalPages int              `json:"totalPages"`
}

type previewResponse struct {
	NextID string `json:"nextId"`
}

func (h *Handler) createCourse(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	var req courseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", err.Error())
		return
	}

	input := service.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Fields:      req.Fields,
	}
	if req.Status != nil {
		status := service.Status(*req.Status)
		input.Status = &status
	}

	course, err := h.svc.CreateCourse(r.Context(), tenantID, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toCourseResponse(course))
}

func (h *Handler) listCourses(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	opts := service.ListOptions{
		Page:           queryInt(r, "page"),
		PageSize:       queryInt(r, "pageSize"),
		IncludeDeleted: r.URL.Query().Get("includeDeleted") == "true",
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := service.Status(s)
		opts.Status = &status
	}

	result, err := h.svc.List(r.Context(), tenantID, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]courseResponse, 0, len(result.Items))
	for _, c := range result.Items {
		items = append(items, toCourseResponse(c))
	}
	h.writeJSON(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

func (h *Handler) getCourse(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	course, err := h.svc.Get(r.Context(), tenantID, chi.URLParam(r, "courseID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toCourseResponse(course))
}

func (h *Handler) deleteCourse(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	if err := h.svc.SoftDeleteCourse(r.Context(), tenantID, chi.URLParam(r, "courseID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) previewNextID(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	next, err := h.svc.PreviewNextID(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, previewResponse{NextID: next})
}

func (h *Handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	var req courseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", err.Error())
		return
	}

	draft, err := h.svc.SaveDraft(r.Context(), tenantID, service.DraftInput{
		Title:       req.Title,
		Description: req.Description,
		Fields:      req.Fields,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toCourseResponse(draft))
}

func (h *Handler) listDrafts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}

	drafts, err := h.svc.ListDrafts(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]courseResponse, 0, len(drafts))
	for _, d := range drafts {
		items = append(items, toCourseResponse(d))
	}
	h.writeJSON(w, http.StatusOK, listResponse{Items: items, Page: 1, PageSize: len(items), TotalItems: len(items), TotalPages: 1})
}

func (h *Handler) getDraft(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	draftKey, ok := h.parseDraftKey(w, r)
	if !ok {
		return
	}

	draft, err := h.svc.GetDraft(r.Context(), tenantID, draftKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toCourseResponse(draft))
}

func (h *Handler) publishDraft(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	draftKey, ok := h.parseDraftKey(w, r)
	if !ok {
		return
	}

	course, err := h.svc.ConvertDraftToCourse(r.Context(), tenantID, draftKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toCourseResponse(course))
}

func (h *Handler) requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	space, ok := tenant.FromContext(r.Context())
	if !ok {
		h.writeProblem(w, http.StatusBadRequest, problemTypeTenantMissing, "Tenant required",
			"request reached the courses API without a resolved tenant")
		return "", false
	}
	return space.TenantID, true
}

func (h *Handler) parseDraftKey(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	key, err := uuid.Parse(chi.URLParam(r, "draftKey"))
	if err != nil {
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Invalid draft key", err.Error())
		return uuid.Nil, false
	}
	return key, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *service.ValidationError
	switch {
	case errors.As(err, &valErr):
		h.writeProblem(w, http.StatusBadRequest, problemTypeValidation, "Validation failed", valErr.Reason)
	case errors.Is(err, service.ErrCourseNotFound), errors.Is(err, service.ErrDraftNotFound):
		h.writeProblem(w, http.StatusNotFound, problemTypeNotFound, "Not found", err.Error())
	case errors.Is(err, sequence.ErrTenantContextMissing):
		h.writeProblem(w, http.StatusBadRequest, problemTypeTenantMissing, "Tenant required", err.Error())
	case errors.Is(err, sequence.ErrStorageUnavailable):
		logging.FromRequest(r, h.logger).Error("identifier storage unavailable", zap.Error(err))
		h.writeProblem(w, http.StatusServiceUnavailable, problemTypeUnavailable, "Storage unavailable",
			"identifier allocation is temporarily unavailable")
	case errors.Is(err, sequence.ErrCollisionExhausted):
		logging.FromRequest(r, h.logger).Error("identifier collisions exhausted", zap.Error(err))
		h.writeProblem(w, http.StatusInternalServerError, problemTypeCollision, "Identifier allocation failed",
			"the identifier counter is desynchronized and needs repair")
	default:
		logging.FromRequest(r, h.logger).Error("unhandled courses error", zap.Error(err))
		h.writeProblem(w, http.StatusInternalServerError, problemTypeInternal, "Internal error", "")
	}
}

func (h *Handler) writeProblem(w http.ResponseWriter, status int, problemType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problemResponse{Type: problemType, Title: title, Detail: detail, Status: status})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func toCourseResponse(c service.Course) courseResponse {
	return courseResponse{
		DraftKey:    c.DraftKey.String(),
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		Fields:      c.Fields,
		Status:      string(c.Status),
		PreviewID:   c.PreviewID,
		IsDeleted:   c.IsDeleted,
		DeletedAt:   c.DeletedAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/brightdesk/campus-admin/domains/courses/be/repo"
	"github.com/brightdesk/campus-admin/domains/courses/be/service"
	"github.com/brightdesk/campus-admin/platform/go/sequence"
	tenantmiddleware "github.com/brightdesk/campus-admin/platform/go/tenant/middleware"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	memRepo := repo.NewMemoryRepository()
	counters := sequence.NewMemoryCounterStore(memRepo)
	alloc := sequence.NewAllocator(counters, memRepo, zaptest.NewLogger(t))
	svc := service.New(memRepo, alloc, zaptest.NewLogger(t), service.Config{
		Namespace: sequence.Namespace{Name: "courseid", Prefix: "COURSE", Width: 4},
	})

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(tenantmiddleware.Resolve(tenantmiddleware.DefaultHeader))
		r.Mount("/", New(svc, zaptest.NewLogger(t)).Routes())
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, tenantID string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if tenantID != "" {
		req.Header.Set(tenantmiddleware.DefaultHeader, tenantID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func TestHandler_CreateCourse(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodPost, "/api/v1/courses", "t1", map[string]any{"title": "Algebra I"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "COURSE0001", body["id"])
	require.Equal(t, "active", body["status"])
}

func TestHandler_TenantHeaderRequired(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/courses/next-id", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_PreviewIsStable(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp, body := doJSON(t, srv, http.MethodGet, "/api/v1/courses/next-id", "t1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "COURSE0001", body["nextId"])
	}
}

func TestHandler_ValidationProblem(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodPost, "/api/v1/courses", "t1", map[string]any{"title": ""})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	require.Equal(t, problemTypeValidation, body["type"])
}

func TestHandler_DraftPublishFlow(t *testing.T) {
	srv := newTestServer(t)

	resp, draft := doJSON(t, srv, http.MethodPost, "/api/v1/drafts", "t1", map[string]any{"title": "Biology"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "COURSE0001", draft["previewId"])
	require.Nil(t, draft["id"])
	key := draft["draftKey"].(string)

	resp, published := doJSON(t, srv, http.MethodPost, "/api/v1/drafts/"+key+"/publish", "t1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "COURSE0001", published["id"])
	require.Equal(t, "active", published["status"])

	// The committed row is no longer a draft.
	resp, _ = doJSON(t, srv, http.MethodGet, "/api/v1/drafts/"+key, "t1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_SoftDeleteKeepsNumberRetired(t *testing.T) {
	srv := newTestServer(t)

	resp, created := doJSON(t, srv, http.MethodPost, "/api/v1/courses", "t1", map[string]any{"title": "History"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created["id"].(string)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/courses/"+id, nil)
	require.NoError(t, err)
	req.Header.Set(tenantmiddleware.DefaultHeader, "t1")
	resp2, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusNoContent, resp2.StatusCode)

	// Still readable, flagged deleted, and its number is never reissued.
	resp, fetched := doJSON(t, srv, http.MethodGet, "/api/v1/courses/"+id, "t1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, fetched["isDeleted"])

	resp, preview := doJSON(t, srv, http.MethodGet, "/api/v1/courses/next-id", "t1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "COURSE0002", preview["nextId"])
}

func TestHandler_TenantsDoNotShareSequences(t *testing.T) {
	srv := newTestServer(t)

	resp, a := doJSON(t, srv, http.MethodPost, "/api/v1/courses", "tenantA", map[string]any{"title": "Course A"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, b := doJSON(t, srv, http.MethodPost, "/api/v1/courses", "tenantB", map[string]any{"title": "Course B"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Equal(t, "COURSE0001", a["id"])
	require.Equal(t, "COURSE0001", b["id"])
}

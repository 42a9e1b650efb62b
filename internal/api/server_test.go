package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temps-sh/temps-core/internal/events"
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Memory, *events.Bus) {
	t.Helper()
	mem := store.NewMemory()
	bus := events.New(nil)
	srv := New(mem, bus, nil)
	return srv, mem, bus
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetProjectNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/projects/missing", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandleGetProject(t *testing.T) {
	srv, mem, _ := newTestServer(t)
	require.NoError(t, mem.CreateProject(context.Background(), model.Project{ID: "p1", Slug: "app"}))

	req := httptest.NewRequest(http.MethodGet, "/projects/p1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "app", got.Slug)
}

func TestHandleGetDeployment(t *testing.T) {
	srv, mem, _ := newTestServer(t)
	require.NoError(t, mem.CreateDeployment(context.Background(), model.Deployment{ID: "d1", ProjectID: "p1", EnvironmentID: "e1"}))

	req := httptest.NewRequest(http.MethodGet, "/deployments/d1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGitWebhookPublishesEvent(t *testing.T) {
	srv, _, bus := newTestServer(t)
	sub := bus.Subscribe()
	defer sub.Close()

	body := `{"owner":"acme","repo":"app","branch":"main","commit":"abc123","project_id":"p1"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/git", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case ev := <-sub.Events():
		require.Equal(t, events.KindGitPush, ev.Kind)
		require.NotNil(t, ev.GitPush)
		require.Equal(t, "p1", ev.GitPush.ProjectID)
		require.Equal(t, "abc123", ev.GitPush.Commit)
	default:
		t.Fatal("expected a GitPush event to be published")
	}
}

func TestHandleGitWebhookRejectsMissingFields(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/git", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	mem := store.NewMemory()
	bus := events.New(nil)
	srv := New(mem, bus, nil, WithBearerToken("secret"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, "health check bypasses auth")

	req = httptest.NewRequest(http.MethodGet, "/projects/p1", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/projects/p1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

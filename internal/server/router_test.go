package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auto-dns/cf-app-keepalive/internal/core"
	"github.com/auto-dns/cf-app-keepalive/internal/domain"
)

type fakeOps struct {
	status    *core.Status
	err       error
	stopped   []string
	lastLimit int
	acts      []time.Time
}

func (f *fakeOps) Inspect(_ context.Context, t domain.Target) (*core.Status, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func (f *fakeOps) Stop(_ context.Context, t domain.Target) error {
	f.stopped = append(f.stopped, t.ID)
	return f.err
}

func (f *fakeOps) Unlock(_ context.Context, t domain.Target) (string, error) {
	return "lock/" + t.ID + "/2024-03-01", f.err
}

func (f *fakeOps) Diagnose(_ context.Context, t domain.Target) (*core.Diagnosis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &core.Diagnosis{TargetID: t.ID, TokenLen: 42, API: t.APIURL}, nil
}

func (f *fakeOps) Activations(_ context.Context, _ domain.Target, limit int) ([]time.Time, error) {
	f.lastLimit = limit
	return f.acts, f.err
}

type fakeTasks struct {
	mu        sync.Mutex
	submitted []core.Options
	err       error
}

func (f *fakeTasks) Submit(_ domain.Target, opts core.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, opts)
	return f.err
}

func setupRouter(t *testing.T) (http.Handler, *fakeOps, *fakeTasks) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fleet := core.Fleet{{ID: "a", Name: "alpha", APIURL: "https://api.example.test", Password: "hunter2", ResourceID: "g1"}}
	ops := &fakeOps{}
	tasks := &fakeTasks{}
	return NewRouter(zerolog.Nop(), fleet, ops, tasks).Handler(), ops, tasks
}

func doReq(h http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthzAndMetrics(t *testing.T) {
	h, _, _ := setupRouter(t)
	assert.Equal(t, http.StatusOK, doReq(h, http.MethodGet, "/healthz").Code)

	rec := doReq(h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTargetsHidesSecrets(t *testing.T) {
	h, _, _ := setupRouter(t)
	rec := doReq(h, http.MethodGet, "/targets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")

	var views []targetView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "a", views[0].ID)
	assert.Equal(t, "g1", views[0].ResourceID)
}

func TestStartIsFireAndForget(t *testing.T) {
	h, _, tasks := setupRouter(t)

	rec := doReq(h, http.MethodPost, "/targets/a/start?force=1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "start requested", body["msg"])
	assert.Equal(t, true, body["force"])
	require.Len(t, tasks.submitted, 1)
	assert.Equal(t, core.Options{Force: true, Reason: "manual"}, tasks.submitted[0])

	rec = doReq(h, http.MethodPost, "/targets/a/start")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, tasks.submitted[1].Force)
}

func TestStartAfterShutdown(t *testing.T) {
	h, _, tasks := setupRouter(t)
	tasks.err = core.ErrSupervisorClosed
	assert.Equal(t, http.StatusServiceUnavailable, doReq(h, http.MethodPost, "/targets/a/start").Code)
}

func TestUnknownTargetIs404(t *testing.T) {
	h, _, _ := setupRouter(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/targets/zzz/state"},
		{http.MethodPost, "/targets/zzz/start"},
		{http.MethodPost, "/targets/zzz/stop"},
		{http.MethodDelete, "/targets/zzz/lock"},
		{http.MethodGet, "/targets/zzz/activations"},
		{http.MethodGet, "/targets/zzz/diag"},
	} {
		rec := doReq(h, tc.method, tc.path)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.path)
		assert.Equal(t, false, decode(t, rec)["ok"])
	}
}

func TestStateAndErrors(t *testing.T) {
	h, ops, _ := setupRouter(t)
	ops.status = &core.Status{TargetID: "a", ResourceID: "g1", State: domain.LifecycleStarted, Instances: []domain.Instance{{State: domain.InstanceRunning}}}

	rec := doReq(h, http.MethodGet, "/targets/a/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "STARTED", decode(t, rec)["state"])

	ops.err = domain.NewAuthError("https://uaa.example.test", errors.New("401"))
	rec = doReq(h, http.MethodGet, "/targets/a/state")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Contains(t, body["error"], "credential exchange")
}

func TestStopAndUnlock(t *testing.T) {
	h, ops, _ := setupRouter(t)

	assert.Equal(t, http.StatusOK, doReq(h, http.MethodPost, "/targets/a/stop").Code)
	assert.Equal(t, []string{"a"}, ops.stopped)

	rec := doReq(h, http.MethodDelete, "/targets/a/lock")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lock/a/2024-03-01", decode(t, rec)["key"])
}

func TestActivationsLimit(t *testing.T) {
	h, ops, _ := setupRouter(t)
	ops.acts = []time.Time{time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)}

	rec := doReq(h, http.MethodGet, "/targets/a/activations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, ops.lastLimit)
	var body activationsResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ops.acts, body.Activations)

	doReq(h, http.MethodGet, "/targets/a/activations?limit=3")
	assert.Equal(t, 3, ops.lastLimit)

	assert.Equal(t, http.StatusBadRequest, doReq(h, http.MethodGet, "/targets/a/activations?limit=x").Code)
}

func TestDiag(t *testing.T) {
	h, ops, _ := setupRouter(t)

	rec := doReq(h, http.MethodGet, "/targets/a/diag")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "a", body["target"])
	assert.EqualValues(t, 42, body["token_len"])
	assert.Equal(t, "https://api.example.test", body["api"])
	assert.EqualValues(t, 1, body["total_targets"])

	ops.err = domain.NewAuthError("https://uaa.example.test", errors.New("401"))
	rec = doReq(h, http.MethodGet, "/targets/a/diag")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decode(t, rec)["ok"])
}

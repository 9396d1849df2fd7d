package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auto-dns/cf-app-keepalive/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		user, pass, _ := r.BasicAuth()
		if user != "cf" || pass != "" || r.Form.Get("grant_type") != "password" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client"})
			return
		}
		if r.Form.Get("username") != "ops" || r.Form.Get("password") != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "tok-1", "token_type": "bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/v3/organizations", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("names") == "acme" {
			writeJSON(w, http.StatusOK, map[string]any{"resources": []map[string]string{{"guid": "org-1"}}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resources": []any{}})
	})
	mux.HandleFunc("/v3/spaces", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("names") == "prod" && r.URL.Query().Get("organization_guids") == "org-1" {
			writeJSON(w, http.StatusOK, map[string]any{"resources": []map[string]string{{"guid": "space-1"}}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resources": []any{}})
	})
	mux.HandleFunc("/v3/apps", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("names") == "shop web" && r.URL.Query().Get("space_guids") == "space-1" {
			writeJSON(w, http.StatusOK, map[string]any{"resources": []map[string]string{{"guid": "app-1"}}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resources": []any{}})
	})
	mux.HandleFunc("/v3/apps/app-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]string{"guid": "app-1", "state": "STOPPED"})
	})
	mux.HandleFunc("/v3/apps/app-1/processes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"resources": []map[string]string{
			{"guid": "proc-worker", "type": "worker"},
			{"guid": "proc-web", "type": "web"},
		}})
	})
	mux.HandleFunc("/v3/processes/proc-web/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"resources": []map[string]any{
			{"index": 0, "state": "DOWN"},
			{"index": 1, "state": "STARTING"},
		}})
	})
	mux.HandleFunc("/v3/apps/app-1/actions/start", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]string{"guid": "app-1", "state": "STARTED"})
	})
	mux.HandleFunc("/v3/apps/app-1/actions/stop", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": []map[string]string{{"detail": "nope"}}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newClient() *Client {
	return NewClient(Config{Timeout: 5 * time.Second}, zerolog.Nop())
}

func TestExchangeCredentials(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient()

	tok, err := c.ExchangeCredentials(context.Background(), srv.URL+"/", "ops", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	_, err = c.ExchangeCredentials(context.Background(), srv.URL, "ops", "wrong")
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, srv.URL, authErr.IdentityURL)
}

func TestLookupResourceByName(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient()
	ctx := context.Background()

	guid, err := c.LookupResourceByName(ctx, srv.URL, "tok-1", "acme", "prod", "shop web")
	require.NoError(t, err)
	assert.Equal(t, "app-1", guid)

	tests := []struct {
		org, space, app string
		kind            string
	}{
		{"nope", "prod", "shop web", "organization"},
		{"acme", "nope", "shop web", "space"},
		{"acme", "prod", "nope", "app"},
	}
	for _, tt := range tests {
		_, err := c.LookupResourceByName(ctx, srv.URL, "tok-1", tt.org, tt.space, tt.app)
		var lookupErr *domain.LookupError
		require.ErrorAs(t, err, &lookupErr)
		assert.Equal(t, tt.kind, lookupErr.Kind)
	}
}

func TestObserveState(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient()
	ctx := context.Background()

	state, err := c.GetLifecycleState(ctx, srv.URL, "tok-1", "app-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LifecycleStopped, state)

	procs, err := c.ListProcesses(ctx, srv.URL, "tok-1", "app-1")
	require.NoError(t, err)
	require.Len(t, procs, 2)
	primary, ok := domain.PrimaryProcess(procs)
	require.True(t, ok)
	assert.Equal(t, "proc-web", primary.ID)

	instances, err := c.GetInstanceStates(ctx, srv.URL, "tok-1", "proc-web")
	require.NoError(t, err)
	assert.Equal(t, []domain.Instance{{Index: 0, State: domain.InstanceDown}, {Index: 1, State: domain.InstanceOther}}, instances)

	_, err = c.GetInstanceStates(ctx, srv.URL, "tok-1", "missing")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
}

func TestActions(t *testing.T) {
	srv, calls := newTestServer(t)
	c := newClient()
	ctx := context.Background()

	require.NoError(t, c.TriggerStart(ctx, srv.URL, "tok-1", "app-1"))

	err := c.TriggerStop(ctx, srv.URL, "tok-1", "app-1")
	var actionErr *domain.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, "stop", actionErr.Action)
	assert.True(t, strings.Contains(err.Error(), "422"))

	assert.Equal(t, []string{"POST /v3/apps/app-1/actions/start", "POST /v3/apps/app-1/actions/stop"}, *calls)
}

func TestPing(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient()
	assert.NoError(t, c.Ping(context.Background(), srv.URL+"/v3/apps"))
	assert.Error(t, c.Ping(context.Background(), srv.URL+"/nowhere"))
}

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/auto-dns/cf-app-keepalive/internal/core"
	"github.com/auto-dns/cf-app-keepalive/internal/domain"
	"github.com/auto-dns/cf-app-keepalive/internal/metrics"
)

type fleet interface {
	Targets() []domain.Target
	Find(id string) (domain.Target, error)
}

type operator interface {
	Inspect(ctx context.Context, target domain.Target) (*core.Status, error)
	Stop(ctx context.Context, target domain.Target) error
	Unlock(ctx context.Context, target domain.Target) (string, error)
	Activations(ctx context.Context, target domain.Target, limit int) ([]time.Time, error)
	Diagnose(ctx context.Context, target domain.Target) (*core.Diagnosis, error)
}

type submitter interface {
	Submit(target domain.Target, opts core.Options) error
}

// Router serves the ops endpoints:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /targets
//	GET    /targets/:id/state
//	POST   /targets/:id/start?force=1
//	POST   /targets/:id/stop
//	DELETE /targets/:id/lock
//	GET    /targets/:id/activations?limit=7
//	GET    /targets/:id/diag
type Router struct {
	logger zerolog.Logger
	fleet  fleet
	ops    operator
	tasks  submitter
}

func NewRouter(logger zerolog.Logger, f fleet, ops operator, tasks submitter) *Router {
	return &Router{
		logger: logger.With().Str("component", "server").Logger(),
		fleet:  f,
		ops:    ops,
		tasks:  tasks,
	}
}

func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	targets := g.Group("/targets")
	targets.GET("", r.handleTargets)
	targets.GET("/:id/state", r.handleState)
	targets.POST("/:id/start", r.handleStart)
	targets.POST("/:id/stop", r.handleStop)
	targets.DELETE("/:id/lock", r.handleUnlock)
	targets.GET("/:id/activations", r.handleActivations)
	targets.GET("/:id/diag", r.handleDiag)
	return g
}

// NewServer wraps the router in an http.Server; the caller owns ListenAndServe and Shutdown.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// state lookups talk to the control plane
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type errorResp struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type startResp struct {
	OK     bool   `json:"ok"`
	Msg    string `json:"msg"`
	Target string `json:"target"`
	Force  bool   `json:"force"`
}

type unlockResp struct {
	OK  bool   `json:"ok"`
	Key string `json:"key"`
}

type activationsResp struct {
	Target      string      `json:"target"`
	Activations []time.Time `json:"activations"`
}

type diagResp struct {
	OK bool `json:"ok"`
	*core.Diagnosis
	TotalTargets int `json:"total_targets"`
}

type targetView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	APIURL     string `json:"api_url"`
	ResourceID string `json:"resource_id,omitempty"`
	OrgName    string `json:"org_name,omitempty"`
	SpaceName  string `json:"space_name,omitempty"`
	AppName    string `json:"app_name,omitempty"`
	PingURL    string `json:"ping_url,omitempty"`
}

func viewOf(t domain.Target) targetView {
	return targetView{
		ID:         t.ID,
		Name:       t.Name,
		APIURL:     t.APIURL,
		ResourceID: t.ResourceID,
		OrgName:    t.OrgName,
		SpaceName:  t.SpaceName,
		AppName:    t.AppName,
		PingURL:    t.PingURL,
	}
}

func (r *Router) handleTargets(c *gin.Context) {
	targets := r.fleet.Targets()
	out := make([]targetView, 0, len(targets))
	for _, t := range targets {
		out = append(out, viewOf(t))
	}
	writeJSON(c, http.StatusOK, out)
}

// target resolves :id and writes the error response itself when it fails.
func (r *Router) target(c *gin.Context) (domain.Target, bool) {
	t, err := r.fleet.Find(c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return domain.Target{}, false
	}
	return t, true
}

func (r *Router) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnknownTarget):
		code = http.StatusNotFound
	case errors.Is(err, core.ErrSupervisorClosed):
		code = http.StatusServiceUnavailable
	default:
		r.logger.Error().Err(err).Str("path", c.FullPath()).Str("target", c.Param("id")).Msg("Request failed")
	}
	writeJSON(c, code, errorResp{OK: false, Error: err.Error()})
}

func (r *Router) handleState(c *gin.Context) {
	t, ok := r.target(c)
	if !ok {
		return
	}
	status, err := r.ops.Inspect(c.Request.Context(), t)
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, status)
}

func (r *Router) handleStart(c *gin.Context) {
	t, ok := r.target(c)
	if !ok {
		return
	}
	force := isTruthy(c.Query("force"))
	if err := r.tasks.Submit(t, core.Options{Force: force, Reason: "manual"}); err != nil {
		r.fail(c, err)
		return
	}
	r.logger.Info().Str("target", t.ID).Bool("force", force).Msg("Manual start requested")
	writeJSON(c, http.StatusAccepted, startResp{OK: true, Msg: "start requested", Target: t.ID, Force: force})
}

func (r *Router) handleStop(c *gin.Context) {
	t, ok := r.target(c)
	if !ok {
		return
	}
	if err := r.ops.Stop(c.Request.Context(), t); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleUnlock(c *gin.Context) {
	t, ok := r.target(c)
	if !ok {
		return
	}
	key, err := r.ops.Unlock(c.Request.Context(), t)
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, unlockResp{OK: true, Key: key})
}

func (r *Router) handleActivations(c *gin.Context) {
	t, ok := r.target(c)
	if !ok {
		return
	}
	limit := 7
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(c, http.StatusBadRequest, errorResp{OK: false, Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	acts, err := r.ops.Activations(c.Request.Context(), t, limit)
	if err != nil {
		r.fail(c, err)
		return
	}
	if acts == nil {
		acts = []time.Time{}
	}
	writeJSON(c, http.StatusOK, activationsResp{Target: t.ID, Activations: acts})
}

func (r *Router) handleDiag(c *gin.Context) {
	t, ok := r.target(c)
	if !ok {
		return
	}
	diag, err := r.ops.Diagnose(c.Request.Context(), t)
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, diagResp{OK: true, Diagnosis: diag, TotalTargets: len(r.fleet.Targets())})
}

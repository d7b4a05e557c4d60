package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/rollout/internal/activation"
	"github.com/loykin/rollout/internal/fetch"
	"github.com/loykin/rollout/internal/metrics"
	"github.com/loykin/rollout/internal/update"
)

// Router provides embeddable HTTP handlers for driving the update manager.
// Endpoints:
//
//	GET  {basePath}/status               agent status: current + installed + tasks
//	GET  {basePath}/current              just the active version
//	GET  {basePath}/check                query the update server for newer versions
//	GET  {basePath}/versions             versions published on the channel
//	GET  {basePath}/changelog/:version   plain-text changelog
//	POST {basePath}/update               body: {"version": "..."} full pipeline, async
//	POST {basePath}/activate             body: {"version": "..."} activation, async
//	POST {basePath}/rollback             body: {"version": "..."} synchronous rollback
//	POST {basePath}/cleanup              body: {"keep_count": n} synchronous prune
//	GET  {basePath}/tasks                all tracked background tasks
//	GET  {basePath}/tasks/:id            one background task
//	GET  {basePath}/healthz              agent liveness
//	GET  {basePath}/metrics              Prometheus metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *update.Manager
	basePath string
}

// NewRouter constructs a Router with configurable basePath.
func NewRouter(mgr *update.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/current", r.handleCurrent)
	group.GET("/check", r.handleCheck)
	group.GET("/versions", r.handleVersions)
	group.GET("/changelog/:version", r.handleChangelog)
	group.POST("/update", r.handleUpdate)
	group.POST("/activate", r.handleActivate)
	group.POST("/rollback", r.handleRollback)
	group.POST("/cleanup", r.handleCleanup)
	group.GET("/tasks", r.handleTasks)
	group.GET("/tasks/:id", r.handleTask)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, mgr *update.Manager) (*http.Server, error) {
	r := NewRouter(mgr, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type versionReq struct {
	Version string `json:"version"`
}

type statusResp struct {
	CurrentVersion    string            `json:"current_version"`
	InstalledVersions []string          `json:"installed_versions"`
	Tasks             []update.TaskView `json:"tasks"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, statusResp{
		CurrentVersion:    r.mgr.CurrentVersion(),
		InstalledVersions: r.mgr.InstalledVersions(),
		Tasks:             r.mgr.Tasks(),
	})
}

func (r *Router) handleCurrent(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"current_version": r.mgr.CurrentVersion()})
}

func (r *Router) handleCheck(c *gin.Context) {
	info, err := r.mgr.CheckUpdates(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handleVersions(c *gin.Context) {
	versions, err := r.mgr.AvailableVersions(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"versions": versions})
}

func (r *Router) handleChangelog(c *gin.Context) {
	version := c.Param("version")
	if !isSafeVersion(version) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid version: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	text, err := r.mgr.Changelog(c.Request.Context(), version)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, fetch.ErrVersionNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(c, status, errorResp{Error: err.Error()})
		return
	}
	c.String(http.StatusOK, text)
}

func (r *Router) handleUpdate(c *gin.Context) {
	version, ok := r.bindVersion(c)
	if !ok {
		return
	}
	task := r.mgr.StartUpdate(version)
	writeJSON(c, http.StatusAccepted, task.View())
}

func (r *Router) handleActivate(c *gin.Context) {
	version, ok := r.bindVersion(c)
	if !ok {
		return
	}
	task := r.mgr.StartActivation(version)
	writeJSON(c, http.StatusAccepted, task.View())
}

func (r *Router) handleRollback(c *gin.Context) {
	version, ok := r.bindVersion(c)
	if !ok {
		return
	}
	if err := r.mgr.Rollback(c.Request.Context(), version); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, activation.ErrNotInstalled) {
			status = http.StatusNotFound
		}
		writeJSON(c, status, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCleanup(c *gin.Context) {
	var req struct {
		KeepCount int `json:"keep_count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.mgr.Cleanup(c.Request.Context(), req.KeepCount); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleTasks(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Tasks())
}

func (r *Router) handleTask(c *gin.Context) {
	t, ok := r.mgr.Task(c.Param("id"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown task"})
		return
	}
	writeJSON(c, http.StatusOK, t.View())
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "healthy", "current_version": r.mgr.CurrentVersion()})
}

func (r *Router) bindVersion(c *gin.Context) (string, bool) {
	var req versionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return "", false
	}
	if req.Version == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "version required"})
		return "", false
	}
	if !isSafeVersion(req.Version) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid version: allowed [A-Za-z0-9._-] and no '..'"})
		return "", false
	}
	return req.Version, true
}

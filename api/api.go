// Package api exposes the Syncline HTTP surface: job listing, run
// status, manual run-now triggers, and dead letter inspection/replay.
//
// Every route under /v1 requires a bearer token issued by the auth
// gateway; scopes gate reads (jobs:read) and mutations (jobs:run).
// Auth failures map to 401 (expired or invalid token) and 403 (revoked
// token or missing scope); lease contention on run-now maps to 409.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/auth"
	"github.com/syncline/syncline/deadletter"
	"github.com/syncline/syncline/engine"
	"github.com/syncline/syncline/id"
)

// API wires the HTTP handlers for a Syncline engine.
type API struct {
	eng     *engine.Engine
	gateway *auth.Gateway
	logger  *slog.Logger
}

// New creates an API from an engine. A nil gateway disables
// authentication; use it only in development.
func New(eng *engine.Engine, gateway *auth.Gateway, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, gateway: gateway, logger: logger}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all syncline API routes into the given
// router.
func (a *API) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1", a.authenticate)

	v1.GET("/jobs", a.requireScope(auth.ScopeJobsRead), a.listJobs)
	v1.GET("/jobs/:name/status", a.requireScope(auth.ScopeJobsRead), a.jobStatus)
	v1.POST("/jobs/:name/run-now", a.requireScope(auth.ScopeJobsRun), a.runNow)

	v1.GET("/deadletters", a.requireScope(auth.ScopeJobsRead), a.listDeadLetters)
	v1.POST("/deadletters/:id/replay", a.requireScope(auth.ScopeJobsRun), a.replayDeadLetter)
}

// ──────────────────────────────────────────────────
// Job handlers
// ──────────────────────────────────────────────────

func (a *API) listJobs(c *gin.Context) {
	jobs, err := a.eng.Jobs(c.Request.Context())
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (a *API) jobStatus(c *gin.Context) {
	state, err := a.eng.Status(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (a *API) runNow(c *gin.Context) {
	name := c.Param("name")
	runID, err := a.eng.TriggerNow(c.Request.Context(), name)
	if err != nil {
		a.renderError(c, err)
		return
	}
	// The run proceeds in the background; poll the status endpoint.
	c.JSON(http.StatusAccepted, gin.H{
		"job_name": name,
		"run_id":   runID.String(),
	})
}

// ──────────────────────────────────────────────────
// Dead letter handlers
// ──────────────────────────────────────────────────

func (a *API) listDeadLetters(c *gin.Context) {
	opts := deadletter.ListOpts{
		JobName: c.Query("job"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		opts.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		opts.Offset = n
	}

	entries, err := a.eng.DeadLetters().DeadLetterStore().ListDeadLetters(c.Request.Context(), opts)
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (a *API) replayDeadLetter(c *gin.Context) {
	entryID, err := id.ParseDeadLetterID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dead letter id"})
		return
	}

	entry, err := a.eng.DeadLetters().Replay(c.Request.Context(), entryID)
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ──────────────────────────────────────────────────
// Error mapping
// ──────────────────────────────────────────────────

// renderError maps domain errors to HTTP status codes.
func (a *API) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, syncline.ErrJobNotFound),
		errors.Is(err, syncline.ErrRunNotFound),
		errors.Is(err, syncline.ErrDeadLetterNotFound):
		status = http.StatusNotFound
	case errors.Is(err, syncline.ErrLeaseHeld),
		errors.Is(err, syncline.ErrNoBinding):
		// A held lease or a job bound on another instance both mean
		// "cannot run it here right now".
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		a.logger.Error("api request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

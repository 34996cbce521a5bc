// Package apihandlers implements the gin handlers behind the serve command.
package apihandlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"semgroup/internal/app"
	"semgroup/internal/models"
)

type APIHandler struct {
	app *app.App
}

func NewAPIHandler(a *app.App) *APIHandler {
	return &APIHandler{app: a}
}

// StartJobRequest is the POST /jobs body. Zero-valued tunables fall back to
// the configured defaults. Scope is a pointer because 0 is a valid scope id
// that gin's required binding would otherwise reject.
type StartJobRequest struct {
	Scope              *int64  `json:"scope" binding:"required"`
	Kind               string  `json:"kind" binding:"required"`
	Algorithm          string  `json:"algorithm"`
	Threshold          float64 `json:"threshold"`
	Eps                float64 `json:"eps"`
	MinPts             int     `json:"minPts"`
	DuplicateThreshold float64 `json:"duplicateThreshold"`
	MinSimilarity      float64 `json:"minSimilarity"`
}

// StartJobHandler launches a job in the background and returns immediately.
// The registry rejects a duplicate (scope, kind) submission.
func (h *APIHandler) StartJobHandler(c *gin.Context) {
	var req StartJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	kind := models.JobKind(req.Kind)
	if !kind.Valid() {
		respondError(c, http.StatusBadRequest, errors.New("kind must be categorization, typing or clustering"))
		return
	}

	params := h.app.JobParamsDefaults()
	params.Scope = *req.Scope
	params.Kind = kind
	if req.Algorithm != "" {
		params.Algorithm = req.Algorithm
	}
	if req.Threshold > 0 {
		params.Threshold = req.Threshold
	}
	if req.Eps > 0 {
		params.Eps = req.Eps
	}
	if req.MinPts > 0 {
		params.MinPts = req.MinPts
	}
	if req.DuplicateThreshold > 0 {
		params.DuplicateThreshold = req.DuplicateThreshold
	}
	if req.MinSimilarity > 0 {
		params.MinSimilarity = req.MinSimilarity
	}

	out, closeFn := h.eventSink(params)

	// The HTTP request only submits the job; the run detaches from the
	// request context so a client disconnect does not cancel it. Stopping
	// goes through DELETE, which reaches the registry's cancel func.
	go func() {
		defer closeFn()
		if err := h.app.Orchestrator.Run(context.Background(), params, out); err != nil &&
			!errors.Is(err, models.ErrAborted) && !errors.Is(err, models.ErrConflict) {
			log.WithError(err).WithFields(log.Fields{"scope": params.Scope, "kind": params.Kind}).
				Error("background job failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"scope": params.Scope, "kind": params.Kind, "status": "accepted"})
}

func (h *APIHandler) eventSink(params models.JobParams) (io.Writer, func()) {
	dir := h.app.Config.Worker.EventDir
	if dir == "" {
		return io.Discard, func() {}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.WithError(err).Warn("cannot create event dir, discarding job events")
		return io.Discard, func() {}
	}
	path := filepath.Join(dir, strconv.FormatInt(params.Scope, 10)+"-"+string(params.Kind)+".ndjson")
	f, err := os.Create(path)
	if err != nil {
		log.WithError(err).Warn("cannot create event file, discarding job events")
		return io.Discard, func() {}
	}
	return f, func() { f.Close() }
}

// GetJobStatusHandler reports the registry snapshot for (scope, kind).
func (h *APIHandler) GetJobStatusHandler(c *gin.Context) {
	scope, kind, ok := jobKeyFromPath(c)
	if !ok {
		return
	}
	status, found := h.app.Orchestrator.Status(scope, kind)
	if !found {
		respondError(c, http.StatusNotFound, errors.New("no job for this scope and kind"))
		return
	}
	c.JSON(http.StatusOK, status)
}

// StopJobHandler requests cooperative cancellation.
func (h *APIHandler) StopJobHandler(c *gin.Context) {
	scope, kind, ok := jobKeyFromPath(c)
	if !ok {
		return
	}
	if err := h.app.Orchestrator.Stop(scope, kind); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(c, http.StatusNotFound, err)
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

// ListJobsHandler reports every tracked job.
func (h *APIHandler) ListJobsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.Registry.All())
}

// UsageHandler reports accumulated embedding API usage.
func (h *APIHandler) UsageHandler(c *gin.Context) {
	tokens, calls, err := h.app.UsageStore.GetUsageSummary(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inputTokens": tokens, "calls": calls})
}

func jobKeyFromPath(c *gin.Context) (int64, models.JobKind, bool) {
	scope, err := strconv.ParseInt(c.Param("scope"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, errors.New("scope must be an integer"))
		return 0, "", false
	}
	kind := models.JobKind(c.Param("kind"))
	if !kind.Valid() {
		respondError(c, http.StatusBadRequest, errors.New("kind must be categorization, typing or clustering"))
		return 0, "", false
	}
	return scope, kind, true
}

func respondError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

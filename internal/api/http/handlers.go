package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/library"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/pipeline"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/router"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/sandbox"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/sanitize"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/id"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/types"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/utils"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	pipeline  *pipeline.Orchestrator
	registry  *library.Registry
	pool      *sandbox.Pool
	sanitizer *sanitize.Sanitizer
	router    *router.Router
	metrics   *monitoring.Metrics
	breaker   *resilience.Breaker
	log       *logging.Logger
	started   time.Time
}

// NewHandlers creates a new handler set. pool may be nil, which disables
// the check endpoint.
func NewHandlers(
	p *pipeline.Orchestrator,
	registry *library.Registry,
	pool *sandbox.Pool,
	sanitizer *sanitize.Sanitizer,
	rt *router.Router,
	metrics *monitoring.Metrics,
	log *logging.Logger,
) *Handlers {
	if sanitizer == nil {
		sanitizer = sanitize.New(sanitize.DefaultOptions())
	}
	if rt == nil {
		rt = router.New(registry.Catalog())
	}
	return &Handlers{
		pipeline:  p,
		registry:  registry,
		pool:      pool,
		sanitizer: sanitizer,
		router:    rt,
		metrics:   metrics,
		log:       logging.OrNop(log).Named("http"),
		started:   time.Now(),
	}
}

// WithBreaker reports the remote fetch breaker in health checks
func (h *Handlers) WithBreaker(b *resilience.Breaker) *Handlers {
	h.breaker = b
	return h
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "vizhost",
		"version": "1.0.0",
	})
}

// Health reports component status
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"phase":     h.pipeline.Phase(),
		"last_seq":  h.pipeline.LastSeq(),
		"libraries": len(h.registry.Handles()),
		"container": h.pipeline.Host().State().ContainerPresent,
	}
	if h.pool != nil {
		resp["pool"] = h.pool.Stats()
	}
	if h.breaker != nil {
		state := h.breaker.State()
		resp["fetch_breaker"] = state.String()
		if state == resilience.StateOpen {
			// rendering still works for resident libraries
			resp["status"] = "degraded"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitVisualization runs one snippet through the pipeline
func (h *Handlers) SubmitVisualization(c *gin.Context) {
	var payload types.VisualizationPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateSnippet(payload.Code); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateAnalysis(payload.Analysis); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// the render outlives a client that stops waiting for the response
	ctx := context.WithoutCancel(c.Request.Context())
	out := h.pipeline.Submit(ctx, pipeline.NewRequest(payload))

	status := http.StatusOK
	if out.Status == pipeline.StatusRejected {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, out)
}

// GetState returns the host state and a sanitized copy of the container
func (h *Handlers) GetState(c *gin.Context) {
	host := h.pipeline.Host()
	c.JSON(http.StatusOK, gin.H{
		"state":    host.State(),
		"snapshot": host.Snapshot(),
		"phase":    h.pipeline.Phase(),
	})
}

// SetMode switches between the visual and code regions
func (h *Handlers) SetMode(c *gin.Context) {
	var req types.ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, err := types.ParseDisplayMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	host := h.pipeline.Host()
	host.SetDisplayMode(mode)
	c.JSON(http.StatusOK, host.State())
}

// QueryContainer returns the outer HTML of nodes matching ?selector= or ?xpath=
func (h *Handlers) QueryContainer(c *gin.Context) {
	host := h.pipeline.Host()

	var (
		nodes []string
		err   error
	)
	switch selector, xpath := c.Query("selector"), c.Query("xpath"); {
	case selector != "":
		nodes, err = host.Query(selector)
	case xpath != "":
		nodes, err = host.QueryXPath(xpath)
	default:
		nodes = []string{host.InnerHTML()}
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// LibraryView is the public description of a resident library
type LibraryView struct {
	ID       string       `json:"id"`
	Locator  string       `json:"locator"`
	Kind     library.Kind `json:"kind"`
	Global   string       `json:"global,omitempty"`
	Size     int          `json:"size"`
	Digest   string       `json:"digest"`
	LoadedAt time.Time    `json:"loadedAt"`
}

// ListLibraries lists resident libraries in load order
func (h *Handlers) ListLibraries(c *gin.Context) {
	handles := h.registry.Handles()
	views := make([]LibraryView, 0, len(handles))
	for _, hd := range handles {
		views = append(views, LibraryView{
			ID:       hd.Spec.ID,
			Locator:  hd.Spec.Locator,
			Kind:     hd.Spec.Kind,
			Global:   hd.GlobalBindingName,
			Size:     hd.Size,
			Digest:   hd.Digest,
			LoadedAt: hd.LoadedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"libraries": views,
		"fetches":   h.registry.Fetches(),
	})
}

// CheckSnippet dry-runs a snippet in an isolated pooled runtime. The shared
// container is never touched.
func (h *Handlers) CheckSnippet(c *gin.Context) {
	if h.pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sandbox pool disabled"})
		return
	}

	var req types.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateSnippet(req.Code); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dim := req.Dimension
	if dim == "" {
		dim = string(types.DimensionDemo)
	}
	route, err := h.router.Route(dim, false)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	checkID := id.NewCheckID()
	ctx := c.Request.Context()
	handles, err := h.registry.EnsureAll(ctx, route.Specs)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.Canceled) {
			status = http.StatusRequestTimeout
		}
		h.log.Warn("check dependencies failed", zap.String("check_id", checkID.String()), zap.Error(err))
		c.JSON(status, gin.H{"id": checkID, "error": err.Error()})
		return
	}

	code := h.sanitizer.Sanitize(req.Code, route.Dimension)
	res := h.pool.Execute(ctx, code, handles...)
	c.JSON(http.StatusOK, gin.H{
		"id":     checkID,
		"code":   code,
		"result": res,
	})
}

package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/monitoring"
)

// MetricsSummary is the JSON view of the pipeline counters
type MetricsSummary struct {
	Timestamp     time.Time                  `json:"timestamp"`
	Passes        monitoring.MetricsSnapshot `json:"passes"`
	SuccessRate   float64                    `json:"success_rate"`
	LibraryLoads  int                        `json:"libraries_resident"`
	Fetches       int64                      `json:"fetches"`
	UptimeSeconds float64                    `json:"uptime_seconds"`
}

// GetMetricsJSON returns pass counters for dashboards that do not scrape
// Prometheus.
func (h *Handlers) GetMetricsJSON(c *gin.Context) {
	snap := h.metrics.Snapshot()

	var rate float64
	if snap.Passes > 0 {
		rate = float64(snap.Succeeded) / float64(snap.Passes)
	}

	c.JSON(http.StatusOK, MetricsSummary{
		Timestamp:     time.Now(),
		Passes:        snap,
		SuccessRate:   rate,
		LibraryLoads:  len(h.registry.Handles()),
		Fetches:       h.registry.Fetches(),
		UptimeSeconds: time.Since(h.started).Seconds(),
	})
}

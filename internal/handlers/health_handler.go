package handlers

import (
	"net/http"

	"github.com/juan-silveira/clube-navi-sub004/internal/metrics"

	"github.com/gin-gonic/gin"
)

// HealthProbe checks one dependency and returns nil when it is reachable
type HealthProbe func() error

// HealthHandler reports connectivity of the mirror database, the queue and
// the chain RPC
type HealthHandler struct {
	probes map[string]HealthProbe
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(db, nats, chain HealthProbe) *HealthHandler {
	return &HealthHandler{
		probes: map[string]HealthProbe{
			"database": db,
			"nats":     nats,
			"chain":    chain,
		},
	}
}

// HealthHandler handles GET /health
func (h *HealthHandler) HealthHandler(c *gin.Context) {
	status := http.StatusOK
	components := gin.H{}

	for name, probe := range h.probes {
		if probe == nil {
			components[name] = "unknown"
			continue
		}
		if err := probe(); err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			h.setGauge(name, 0)
		} else {
			components[name] = "ok"
			h.setGauge(name, 1)
		}
	}

	c.JSON(status, gin.H{
		"status":     statusWord(status),
		"components": components,
	})
}

func (h *HealthHandler) setGauge(name string, value float64) {
	switch name {
	case "database":
		metrics.DBConnectionStatus.Set(value)
	case "nats":
		metrics.NATSConnectionStatus.Set(value)
	case "chain":
		metrics.ChainRPCStatus.Set(value)
	}
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}

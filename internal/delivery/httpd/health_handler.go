package httpd

import (
	"net/http"
	"time"

	"github.com/railgunhq/railgun/internal/models"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := models.HealthCheckResponse{
		Status:    "healthy",
		Database:  true,
		RabbitMQ:  true,
		Storage:   true,
		Uptime:    time.Since(h.health.StartTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}

	if h.health.PingDB != nil && h.health.PingDB(ctx) != nil {
		resp.Database = false
	}
	if h.health.PingMQ != nil && !h.health.PingMQ() {
		resp.RabbitMQ = false
	}
	if h.health.PingStorage != nil && h.health.PingStorage(ctx) != nil {
		resp.Storage = false
	}
	if h.health.Stats != nil {
		stats := h.health.Stats()
		resp.ActiveWorkers = stats.ActiveWorkers
		resp.QueueLength = stats.QueueLength
	}

	status := http.StatusOK
	if !resp.Database || !resp.RabbitMQ || !resp.Storage {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

package handler

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gopayments/payflow/infra/config"
	"github.com/gopayments/payflow/infra/opensearch"
	"github.com/gopayments/payflow/infra/response"
	"github.com/gopayments/payflow/provider"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db        *sql.DB
	registry  *config.Registry
	search    *opensearch.Client
	dedupe    *provider.DeliveryCache
	startTime time.Time
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status    string                    `json:"status"`
	Version   string                    `json:"version"`
	Timestamp time.Time                 `json:"timestamp"`
	Uptime    string                    `json:"uptime"`
	Drivers   []string                  `json:"drivers"`
	Database  *DatabaseHealth           `json:"database"`
	Services  map[string]*ServiceHealth `json:"services"`
	System    *SystemHealth             `json:"system"`
}

// DatabaseHealth represents transaction store health
type DatabaseHealth struct {
	Status       string        `json:"status"`
	Connected    bool          `json:"connected"`
	ResponseTime time.Duration `json:"response_time_ms"`
	OpenConns    int           `json:"open_connections"`
	Error        string        `json:"error,omitempty"`
}

// ServiceHealth represents an optional backing service
type ServiceHealth struct {
	Status      string `json:"status"`
	Healthy     bool   `json:"healthy"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SystemHealth represents process resource usage
type SystemHealth struct {
	Alloc      string `json:"alloc"`
	Sys        string `json:"sys"`
	GCRuns     uint32 `json:"gc_runs"`
	GoRoutines int    `json:"goroutines"`
}

// NewHealthHandler creates a new health handler. search and dedupe may
// be nil when the backing services are not configured.
func NewHealthHandler(db *sql.DB, registry *config.Registry, search *opensearch.Client, dedupe *provider.DeliveryCache) *HealthHandler {
	return &HealthHandler{
		db:        db,
		registry:  registry,
		search:    search,
		dedupe:    dedupe,
		startTime: time.Now(),
	}
}

// CheckHealth reports transaction store, backing service and process
// health. The store is the only hard dependency; everything else only
// degrades the status.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	health := &HealthStatus{
		Version:   "1.0.0",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
		Drivers:   h.registry.DriverNames(),
		Database:  h.checkDatabaseHealth(ctx),
		Services:  h.checkServicesHealth(ctx),
		System:    h.checkSystemHealth(),
	}
	health.Status = h.determineOverallStatus(health)

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	_ = response.WriteJSON(w, statusCode, response.Response{
		Code:    statusCode,
		Success: health.Status != "unhealthy",
		Message: fmt.Sprintf("Service is %s", health.Status),
		Data:    health,
	})
}

func (h *HealthHandler) checkDatabaseHealth(ctx context.Context) *DatabaseHealth {
	dbHealth := &DatabaseHealth{Status: "unknown"}
	if h.db == nil {
		dbHealth.Status = "not_configured"
		dbHealth.Error = "Transaction store not configured"
		return dbHealth
	}

	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		dbHealth.Status = "unhealthy"
		dbHealth.Error = err.Error()
		dbHealth.ResponseTime = time.Since(start)
		return dbHealth
	}

	dbHealth.Connected = true
	dbHealth.ResponseTime = time.Since(start)
	dbHealth.OpenConns = h.db.Stats().OpenConnections
	if dbHealth.ResponseTime > time.Second {
		dbHealth.Status = "degraded"
	} else {
		dbHealth.Status = "healthy"
	}
	return dbHealth
}

func (h *HealthHandler) checkServicesHealth(ctx context.Context) map[string]*ServiceHealth {
	services := make(map[string]*ServiceHealth)

	search := &ServiceHealth{Description: "Audit event indexing"}
	if h.search == nil {
		search.Status = "not_configured"
	} else if err := h.search.Ping(ctx); err != nil {
		search.Status = "unhealthy"
		search.Error = err.Error()
	} else {
		search.Status = "healthy"
		search.Healthy = true
	}
	services["opensearch"] = search

	dedupe := &ServiceHealth{Description: "Webhook delivery deduplication"}
	if h.dedupe == nil {
		dedupe.Status = "not_configured"
	} else {
		dedupe.Status = "healthy"
		dedupe.Healthy = true
	}
	services["delivery_cache"] = dedupe

	return services
}

func (h *HealthHandler) checkSystemHealth() *SystemHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &SystemHealth{
		Alloc:      formatBytes(memStats.Alloc),
		Sys:        formatBytes(memStats.Sys),
		GCRuns:     memStats.NumGC,
		GoRoutines: runtime.NumGoroutine(),
	}
}

func (h *HealthHandler) determineOverallStatus(health *HealthStatus) string {
	if health.Database.Status == "unhealthy" || health.Database.Status == "not_configured" {
		return "unhealthy"
	}
	if health.Database.Status == "degraded" {
		return "degraded"
	}
	for _, service := range health.Services {
		if service.Status == "unhealthy" {
			return "degraded"
		}
	}
	return "healthy"
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

package health

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"tunebridge/internal/metrics"
)

// Latency above these thresholds marks a dependency degraded rather
// than down.
const (
	dbDegradedAfter    = 200 * time.Millisecond
	redisDegradedAfter = 100 * time.Millisecond
)

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status string           `json:"status"`
	DB     DependencyStatus `json:"db"`
	Redis  DependencyStatus `json:"redis"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
}

// Checker probes the service's dependencies.
type Checker struct {
	db      *gorm.DB
	rdb     redis.UniversalClient
	metrics *metrics.Metrics
}

// NewChecker creates a Checker over live dependency handles.
func NewChecker(db *gorm.DB, rdb redis.UniversalClient, m *metrics.Metrics) *Checker {
	return &Checker{db: db, rdb: rdb, metrics: m}
}

// RegisterRoutes registers the health check routes
func (h *Checker) RegisterRoutes(app *fiber.App) {
	app.Get("/healthz", h.handle)
	app.Get("/readyz", h.handle)
}

func (h *Checker) handle(c *fiber.Ctx) error {
	resp := h.Check(c.Context())

	if resp.Status == "ok" {
		c.Status(fiber.StatusOK)
	} else {
		c.Status(fiber.StatusServiceUnavailable)
	}

	c.Set("Cache-Control", "no-store")
	return c.JSON(resp)
}

// Check probes both dependencies and folds their states into an
// overall status.
func (h *Checker) Check(ctx context.Context) HealthResponse {
	dbStatus := h.checkDB(ctx)
	redisStatus := h.checkRedis(ctx)

	h.setGauge("db", dbStatus)
	h.setGauge("redis", redisStatus)

	status := "ok"
	if dbStatus.Status == "down" || redisStatus.Status == "down" {
		status = "down"
	} else if dbStatus.Status == "degraded" || redisStatus.Status == "degraded" {
		status = "degraded"
	}

	return HealthResponse{
		Status: status,
		DB:     dbStatus,
		Redis:  redisStatus,
	}
}

func (h *Checker) setGauge(dep string, s DependencyStatus) {
	if h.metrics == nil {
		return
	}
	v := 0.0
	if s.Status == "ok" {
		v = 1.0
	}
	h.metrics.HealthStatus.WithLabelValues(dep).Set(v)
}

func (h *Checker) checkDB(ctx context.Context) DependencyStatus {
	start := time.Now()

	sqlDB, err := h.db.DB()
	if err != nil {
		return DependencyStatus{Status: "down", LatencyMs: time.Since(start).Milliseconds()}
	}

	err = sqlDB.PingContext(ctx)
	latency := time.Since(start)

	switch {
	case err != nil:
		return DependencyStatus{Status: "down", LatencyMs: latency.Milliseconds()}
	case latency > dbDegradedAfter:
		return DependencyStatus{Status: "degraded", LatencyMs: latency.Milliseconds()}
	}
	return DependencyStatus{Status: "ok", LatencyMs: latency.Milliseconds()}
}

func (h *Checker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()

	err := h.rdb.Ping(ctx).Err()
	latency := time.Since(start)

	switch {
	case err != nil:
		return DependencyStatus{Status: "down", LatencyMs: latency.Milliseconds()}
	case latency > redisDegradedAfter:
		return DependencyStatus{Status: "degraded", LatencyMs: latency.Milliseconds()}
	}
	return DependencyStatus{Status: "ok", LatencyMs: latency.Milliseconds()}
}

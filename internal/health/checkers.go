package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/apex-run/apex/internal/circuitbreaker"
)

// DatabaseHealthChecker checks the intent log store (sqlite).
type DatabaseHealthChecker struct {
	db      *sql.DB
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewDatabaseHealthChecker creates an intent log health checker.
func NewDatabaseHealthChecker(db *sql.DB, wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		db:      db,
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (d *DatabaseHealthChecker) Name() string           { return "intent_log" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return false }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "intent_log",
		Critical:  false,
		Timestamp: startTime,
	}

	if d.wrapper != nil && d.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusDegraded
		result.Error = "circuit breaker open"
		result.Message = "intent log circuit breaker is open, running without persistence"
		result.Duration = time.Since(startTime)
		return result
	}

	err := d.db.PingContext(ctx)
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusDegraded
		result.Error = err.Error()
		result.Message = "intent log ping failed, switches proceed without crash recovery"
		result.Details = map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	stats := d.db.Stats()
	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "intent log responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "intent log healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"in_use_connections":   stats.InUse,
		"circuit_breaker_open": false,
	}

	return result
}

// CollaboratorHealthChecker probes an external collaborator (LLM client or
// tool adapter) over HTTP through a circuit breaker. Used by the topology
// health probe to decide whether a switch would strand agents on a dead
// collaborator.
type CollaboratorHealthChecker struct {
	name       string
	healthURL  string
	httpClient *circuitbreaker.HTTPWrapper
	logger     *zap.Logger
	timeout    time.Duration
	critical   bool
}

// NewCollaboratorHealthChecker creates a health checker for an external
// collaborator reachable over HTTP.
func NewCollaboratorHealthChecker(name, healthURL string, httpClient *circuitbreaker.HTTPWrapper, critical bool, logger *zap.Logger) *CollaboratorHealthChecker {
	return &CollaboratorHealthChecker{
		name:       name,
		healthURL:  healthURL,
		httpClient: httpClient,
		logger:     logger,
		timeout:    5 * time.Second,
		critical:   critical,
	}
}

func (c *CollaboratorHealthChecker) Name() string           { return c.name }
func (c *CollaboratorHealthChecker) IsCritical() bool       { return c.critical }
func (c *CollaboratorHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CollaboratorHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: c.name,
		Critical:  c.critical,
		Timestamp: startTime,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = fmt.Sprintf("%s health request could not be built", c.name)
		result.Duration = time.Since(startTime)
		return result
	}

	resp, err := c.httpClient.Do(req)
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = fmt.Sprintf("%s unreachable", c.name)
		result.Details = map[string]interface{}{
			"error":      err.Error(),
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%s returned %d", c.name, resp.StatusCode)
	case result.Duration > 100*time.Millisecond:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%s responding but with high latency", c.name)
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%s healthy", c.name)
	}

	result.Details = map[string]interface{}{
		"latency_ms":  result.Duration.Milliseconds(),
		"status_code": resp.StatusCode,
	}

	return result
}

// GRPCCollaboratorHealthChecker probes a collaborator that exposes the
// standard grpc_health_v1 health service, for collaborators reachable
// over gRPC rather than HTTP.
type GRPCCollaboratorHealthChecker struct {
	name     string
	target   string
	service  string
	timeout  time.Duration
	critical bool
}

// NewGRPCCollaboratorHealthChecker creates a checker dialing target and
// calling grpc_health_v1.Health/Check for the named service (empty
// selects the server's overall status).
func NewGRPCCollaboratorHealthChecker(name, target, service string, critical bool) *GRPCCollaboratorHealthChecker {
	return &GRPCCollaboratorHealthChecker{
		name:     name,
		target:   target,
		service:  service,
		timeout:  5 * time.Second,
		critical: critical,
	}
}

func (g *GRPCCollaboratorHealthChecker) Name() string           { return g.name }
func (g *GRPCCollaboratorHealthChecker) IsCritical() bool       { return g.critical }
func (g *GRPCCollaboratorHealthChecker) Timeout() time.Duration { return g.timeout }

func (g *GRPCCollaboratorHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{Component: g.name, Critical: g.critical, Timestamp: startTime}

	dialCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	conn, err := grpc.NewClient(g.target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = fmt.Sprintf("%s dial failed", g.name)
		result.Duration = time.Since(startTime)
		return result
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(dialCtx, &grpc_health_v1.HealthCheckRequest{Service: g.service})
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = fmt.Sprintf("%s health check failed", g.name)
		return result
	}

	if resp.Status == grpc_health_v1.HealthCheckResponse_SERVING {
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%s healthy", g.name)
	} else {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%s reported %s", g.name, resp.Status.String())
	}
	return result
}

// CustomHealthChecker allows for custom health check logic.
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker.
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}

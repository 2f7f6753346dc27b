package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Pinger is anything that can prove a round trip to its backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisHealthChecker checks the resolution cache. The cache is optional and
// its failures only cost misses, so it is never critical.
type RedisHealthChecker struct {
	client  Pinger
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(client Pinger, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{
		client:  client,
		logger:  logger,
		timeout: 2 * time.Second,
	}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return false }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	err := r.client.Ping(ctx)
	latency := time.Since(startTime)

	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Redis ping failed",
			Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
		}
	}

	result := CheckResult{
		Status:  StatusHealthy,
		Message: "Redis healthy",
		Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
	}
	if latency > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	}
	return result
}

// LLMServiceHealthChecker checks the completion service: its circuit breaker
// first, then GET <base>/health.
type LLMServiceHealthChecker struct {
	baseURL string
	client  *http.Client
	ready   func() bool
	logger  *zap.Logger
	timeout time.Duration
}

// NewLLMServiceHealthChecker creates an LLM service health checker. ready
// reports whether the client's breaker admits calls; nil skips that check.
func NewLLMServiceHealthChecker(baseURL string, ready func() bool, logger *zap.Logger) *LLMServiceHealthChecker {
	return &LLMServiceHealthChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		ready:   ready,
		logger:  logger,
		timeout: 3 * time.Second,
	}
}

func (l *LLMServiceHealthChecker) Name() string           { return "llm_service" }
func (l *LLMServiceHealthChecker) IsCritical() bool       { return true }
func (l *LLMServiceHealthChecker) Timeout() time.Duration { return l.timeout }

func (l *LLMServiceHealthChecker) Check(ctx context.Context) CheckResult {
	details := map[string]interface{}{"base_url": l.baseURL}

	if l.ready != nil && !l.ready() {
		details["circuit_breaker_open"] = true
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "LLM service circuit breaker is open",
			Details: details,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", nil)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "invalid LLM service URL", Details: details}
	}
	startTime := time.Now()
	resp, err := l.client.Do(req)
	details["latency_ms"] = time.Since(startTime).Milliseconds()
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "LLM service unreachable", Details: details}
	}
	resp.Body.Close()

	details["status_code"] = resp.StatusCode
	if resp.StatusCode >= http.StatusBadRequest {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   fmt.Sprintf("status %d", resp.StatusCode),
			Message: "LLM service reported unhealthy",
			Details: details,
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "LLM service healthy", Details: details}
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
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

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func staticChecker(name string, critical bool, status CheckStatus) Checker {
	return NewCustomHealthChecker(name, critical, time.Second, func(ctx context.Context) CheckResult {
		return CheckResult{Status: status}
	})
}

func TestManagerOverallStatus(t *testing.T) {
	cases := []struct {
		name     string
		checkers []Checker
		status   CheckStatus
		ready    bool
	}{
		{"none", nil, StatusHealthy, true},
		{"all healthy", []Checker{staticChecker("a", true, StatusHealthy), staticChecker("b", false, StatusHealthy)}, StatusHealthy, true},
		{"non-critical down", []Checker{staticChecker("a", true, StatusHealthy), staticChecker("b", false, StatusUnhealthy)}, StatusDegraded, true},
		{"degraded", []Checker{staticChecker("a", true, StatusDegraded)}, StatusDegraded, true},
		{"critical down", []Checker{staticChecker("a", true, StatusUnhealthy), staticChecker("b", false, StatusHealthy)}, StatusUnhealthy, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := NewManager(zaptest.NewLogger(t))
			for _, ch := range c.checkers {
				require.NoError(t, m.RegisterChecker(ch))
			}
			d := m.GetDetailedHealth(context.Background())
			assert.Equal(t, c.status, d.Overall.Status)
			assert.Equal(t, c.ready, d.Overall.Ready)
			assert.Equal(t, len(c.checkers), d.Summary.Total)
		})
	}
}

func TestManagerRejectsDuplicates(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(staticChecker("a", true, StatusHealthy)))
	assert.Error(t, m.RegisterChecker(staticChecker("a", false, StatusHealthy)))
	assert.Error(t, m.RegisterChecker(staticChecker("", false, StatusHealthy)))
	assert.Equal(t, []string{"a"}, m.Names())
}

func TestManagerTimeoutAndPanic(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(NewCustomHealthChecker("slow", true, 20*time.Millisecond, func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	})))
	require.NoError(t, m.RegisterChecker(NewCustomHealthChecker("boom", false, time.Second, func(ctx context.Context) CheckResult {
		panic("boom")
	})))

	d := m.GetDetailedHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, d.Components["slow"].Status)
	assert.True(t, d.Components["slow"].Critical)
	assert.Equal(t, StatusUnhealthy, d.Components["boom"].Status)
	assert.Equal(t, "boom", d.Components["boom"].Component)
	assert.False(t, d.Overall.Ready)
}

func TestRedisHealthChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	checker := NewRedisHealthChecker(PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}), zaptest.NewLogger(t))
	assert.False(t, checker.IsCritical())

	res := checker.Check(context.Background())
	assert.NotEqual(t, StatusUnhealthy, res.Status)

	down := NewRedisHealthChecker(PingFunc(func(context.Context) error {
		return errors.New("connection refused")
	}), zaptest.NewLogger(t))
	res = down.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "connection refused", res.Error)
}

func TestLLMServiceHealthChecker(t *testing.T) {
	var unhealthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	open := false
	checker := NewLLMServiceHealthChecker(srv.URL+"/", func() bool { return !open }, zaptest.NewLogger(t))
	ctx := context.Background()

	assert.Equal(t, StatusHealthy, checker.Check(ctx).Status)

	unhealthy.Store(true)
	res := checker.Check(ctx)
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, http.StatusServiceUnavailable, res.Details["status_code"])

	unhealthy.Store(false)
	open = true
	res = checker.Check(ctx)
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "circuit breaker open", res.Error)
}

func TestHTTPHandler(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(staticChecker("llm_service", true, StatusHealthy)))
	require.NoError(t, m.RegisterChecker(staticChecker("redis", false, StatusUnhealthy)))

	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "healthy", resp.Checks["llm_service"])
	assert.Equal(t, "unhealthy", resp.Checks["redis"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestReadinessFailsOnCriticalChecker(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(staticChecker("llm_service", true, StatusUnhealthy)))

	rec := httptest.NewRecorder()
	NewHTTPHandler(m, nil).Readiness(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"not ready"`)
}

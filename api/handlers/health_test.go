package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

// mockHealthCheck 模拟健康检查
type mockHealthCheck struct {
	name string
	err  error
}

func (m *mockHealthCheck) Name() string {
	return m.name
}

func (m *mockHealthCheck) Check(ctx context.Context) error {
	return m.err
}

// =============================================================================
// 🧪 HealthHandler 测试
// =============================================================================

func TestHealthHandler_HandleHealthz(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	handler.HandleHealthz(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
}

func TestHealthHandler_HandleReady_AllPass(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())
	handler.RegisterCheck(&mockHealthCheck{name: "ledger"})
	handler.RegisterCheck(&mockHealthCheck{name: "audit"})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	handler.HandleReady(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Len(t, status.Checks, 2)
	assert.Equal(t, "pass", status.Checks["ledger"].Status)
	assert.Equal(t, "pass", status.Checks["audit"].Status)
}

func TestHealthHandler_HandleReady_OneFails(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())
	handler.RegisterCheck(&mockHealthCheck{name: "ledger", err: errors.New("redis down")})
	handler.RegisterCheck(&mockHealthCheck{name: "audit"})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	handler.HandleReady(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "fail", status.Checks["ledger"].Status)
	assert.Equal(t, "redis down", status.Checks["ledger"].Message)
	assert.Equal(t, "pass", status.Checks["audit"].Status)
}

func TestHealthHandler_HandleReady_NoChecks(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	handler.HandleReady(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/version", nil)

	handler.HandleVersion("1.2.3", "2024-06-01", "abcdef0")(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)

	raw, _ := json.Marshal(resp.Data)
	var info map[string]string
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, "1.2.3", info["version"])
	assert.Equal(t, "abcdef0", info["git_commit"])
}

func TestPingHealthCheck(t *testing.T) {
	ok := NewPingHealthCheck("ledger", func(ctx context.Context) error { return nil })
	assert.Equal(t, "ledger", ok.Name())
	assert.NoError(t, ok.Check(context.Background()))

	bad := NewPingHealthCheck("audit", func(ctx context.Context) error { return errors.New("locked") })
	assert.Error(t, bad.Check(context.Background()))
}

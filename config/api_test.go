// 配置 HTTP API 测试。
package config

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// apiTestResponse 镜像 apiResponse 的 JSON 结构以供测试解码
type apiTestResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Message         string               `json:"message"`
		Config          map[string]any       `json:"config"`
		Fields          map[string]FieldInfo `json:"fields"`
		Changes         []ConfigChange       `json:"changes"`
		RequiresRestart bool                 `json:"requires_restart"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func decodeAPIResponse(t *testing.T, rec *httptest.ResponseRecorder) apiTestResponse {
	t.Helper()
	var resp apiTestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func newTestAPIHandler(t *testing.T) (*ConfigAPIHandler, *HotReloadManager) {
	t.Helper()
	manager := NewHotReloadManager(DefaultConfig())
	return NewConfigAPIHandler(manager), manager
}

// --- 处理器测试 ---

func TestConfigAPIHandler_GetConfig(t *testing.T) {
	handler, _ := newTestAPIHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	rec := httptest.NewRecorder()
	handler.HandleConfig(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	resp := decodeAPIResponse(t, rec)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data.Config)
}

func TestConfigAPIHandler_GetConfig_RedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ledger.Password = "redis-secret"
	cfg.Session.TokenSecret = "signing-secret-at-least-16"

	manager := NewHotReloadManager(cfg)
	handler := NewConfigAPIHandler(manager)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	rec := httptest.NewRecorder()
	handler.HandleConfig(rec, req)

	body := rec.Body.String()
	assert.NotContains(t, body, "redis-secret")
	assert.NotContains(t, body, "signing-secret-at-least-16")
	assert.Contains(t, body, "[REDACTED]")
}

func TestConfigAPIHandler_UpdateConfig(t *testing.T) {
	handler, manager := newTestAPIHandler(t)

	payload, err := json.Marshal(ConfigUpdateRequest{
		Updates: map[string]any{
			"Target.LoginButton": "a.redesigned-entry",
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.HandleConfig(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAPIResponse(t, rec)
	assert.True(t, resp.Success)
	assert.False(t, resp.Data.RequiresRestart)

	assert.Equal(t, "a.redesigned-entry", manager.GetConfig().Target.LoginButton)
}

func TestConfigAPIHandler_UpdateConfig_RequiresRestart(t *testing.T) {
	handler, _ := newTestAPIHandler(t)

	payload, err := json.Marshal(ConfigUpdateRequest{
		Updates: map[string]any{
			"Server.HTTPPort": 9090,
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.HandleConfig(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAPIResponse(t, rec)
	assert.True(t, resp.Success)
	assert.True(t, resp.Data.RequiresRestart)
}

func TestConfigAPIHandler_UpdateConfig_InvalidBody(t *testing.T) {
	handler, _ := newTestAPIHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.HandleConfig(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAPIResponse(t, rec)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
}

func TestConfigAPIHandler_UpdateConfig_EmptyUpdates(t *testing.T) {
	handler, _ := newTestAPIHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", bytes.NewReader([]byte(`{"updates":{}}`)))
	rec := httptest.NewRecorder()
	handler.HandleConfig(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAPIResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "No updates provided")
}

func TestConfigAPIHandler_UpdateConfig_UnknownField(t *testing.T) {
	handler, _ := newTestAPIHandler(t)

	payload := []byte(`{"updates":{"Nope.Field":"x"}}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.HandleConfig(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAPIResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "Unknown field")
}

func TestConfigAPIHandler_Fields(t *testing.T) {
	handler, _ := newTestAPIHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config/fields", nil)
	rec := httptest.NewRecorder()
	handler.HandleFields(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAPIResponse(t, rec)
	assert.True(t, resp.Success)

	field, ok := resp.Data.Fields["Target.LoginButton"]
	require.True(t, ok)
	assert.False(t, field.RequiresRestart)
	assert.NotNil(t, field.CurrentValue)

	// 敏感字段不应带出当前值
	secret, ok := resp.Data.Fields["Session.TokenSecret"]
	require.True(t, ok)
	assert.True(t, secret.Sensitive)
	assert.Nil(t, secret.CurrentValue)
}

func TestConfigAPIHandler_Changes(t *testing.T) {
	handler, manager := newTestAPIHandler(t)

	require.NoError(t, manager.UpdateField("Log.Level", "debug"))
	require.NoError(t, manager.UpdateField("Target.SubmitButton", "button.send-code-v2"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config/changes?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.HandleChanges(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAPIResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Len(t, resp.Data.Changes, 1)
}

func TestConfigAPIHandler_MethodNotAllowed(t *testing.T) {
	handler, _ := newTestAPIHandler(t)

	tests := []struct {
		name    string
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{"delete config", http.MethodDelete, "/api/v1/config", handler.HandleConfig},
		{"get reload", http.MethodGet, "/api/v1/config/reload", handler.HandleReload},
		{"post fields", http.MethodPost, "/api/v1/config/fields", handler.HandleFields},
		{"put changes", http.MethodPut, "/api/v1/config/changes", handler.HandleChanges},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			tt.handler(rec, req)

			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			resp := decodeAPIResponse(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, "METHOD_NOT_ALLOWED", resp.Error.Code)
		})
	}
}

func TestConfigAPIHandler_CORS(t *testing.T) {
	manager := NewHotReloadManager(DefaultConfig())
	handler := NewConfigAPIHandler(manager, "https://ops.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/config", nil)
	rec := httptest.NewRecorder()
	handler.HandleConfig(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestConfigAPIHandler_CORS_NoOriginConfigured(t *testing.T) {
	handler, _ := newTestAPIHandler(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/config", nil)
	rec := httptest.NewRecorder()
	handler.HandleConfig(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestConfigAPIHandler_RegisterRoutes(t *testing.T) {
	handler, _ := newTestAPIHandler(t)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config/fields", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- 中间件测试 ---

func TestConfigAPIMiddleware_RequireAuth(t *testing.T) {
	handler, _ := newTestAPIHandler(t)
	mw := NewConfigAPIMiddleware(handler, "test-key")

	protected := mw.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("missing key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
		rec := httptest.NewRecorder()
		protected(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		resp := decodeAPIResponse(t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
	})

	t.Run("header key accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
		req.Header.Set("X-API-Key", "test-key")
		rec := httptest.NewRecorder()
		protected(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("query key rejected", func(t *testing.T) {
		// API key 只能通过请求头传递
		req := httptest.NewRequest(http.MethodGet, "/api/v1/config?api_key=test-key", nil)
		rec := httptest.NewRecorder()
		protected(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("options skips auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/config", nil)
		rec := httptest.NewRecorder()
		protected(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no key configured", func(t *testing.T) {
		open := NewConfigAPIMiddleware(handler, "").RequireAuth(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
		rec := httptest.NewRecorder()
		open(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestConfigAPIMiddleware_LogRequests(t *testing.T) {
	handler, _ := newTestAPIHandler(t)
	mw := NewConfigAPIMiddleware(handler, "")

	var loggedMethod, loggedPath string
	var loggedStatus int
	wrapped := mw.LogRequests(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}, func(method, path string, status int, duration time.Duration) {
		loggedMethod = method
		loggedPath = path
		loggedStatus = status
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	rec := httptest.NewRecorder()
	wrapped(rec, req)

	assert.Equal(t, http.MethodGet, loggedMethod)
	assert.Equal(t, "/api/v1/config", loggedPath)
	assert.Equal(t, http.StatusTeapot, loggedStatus)
}

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/otpflow/types"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		wantStatus int
	}{
		{
			name:       "simple object",
			data:       map[string]string{"message": "hello"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "array",
			data:       []int{1, 2, 3},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.wantStatus, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestWriteJSON_EncodingFailure(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]any{"bad": func() {}})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"key": "value"}

	WriteSuccess(w, data)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	err := json.NewDecoder(w.Body).Decode(&resp)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            *types.Error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "invalid request",
			err:            types.NewError(types.ErrInvalidRequest, "identifier is required"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   string(types.ErrInvalidRequest),
		},
		{
			name:           "session not found",
			err:            types.NewError(types.ErrSessionNotFound, "session not found"),
			expectedStatus: http.StatusNotFound,
			expectedCode:   string(types.ErrSessionNotFound),
		},
		{
			name:           "session expired",
			err:            types.NewError(types.ErrSessionExpired, "session expired"),
			expectedStatus: http.StatusGone,
			expectedCode:   string(types.ErrSessionExpired),
		},
		{
			name:           "duplicate request",
			err:            types.NewError(types.ErrDuplicateRequest, "cooldown active"),
			expectedStatus: http.StatusTooManyRequests,
			expectedCode:   string(types.ErrDuplicateRequest),
		},
		{
			name:           "access denied by target",
			err:            types.NewError(types.ErrAccessDenied, "block page detected"),
			expectedStatus: http.StatusBadGateway,
			expectedCode:   string(types.ErrAccessDenied),
		},
		{
			name:           "navigation timeout",
			err:            types.NewError(types.ErrNavigationTimeout, "page load timed out"),
			expectedStatus: http.StatusGatewayTimeout,
			expectedCode:   string(types.ErrNavigationTimeout),
		},
		{
			name:           "session limit",
			err:            types.NewError(types.ErrSessionLimit, "too many pages"),
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   string(types.ErrSessionLimit),
		},
		{
			name:           "explicit status wins",
			err:            types.NewError(types.ErrInternalError, "boom").WithHTTPStatus(http.StatusBadGateway),
			expectedStatus: http.StatusBadGateway,
			expectedCode:   string(types.ErrInternalError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp Response
			err := json.NewDecoder(w.Body).Decode(&resp)
			require.NoError(t, err)

			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Error.Code)
		})
	}
}

func TestWriteError_IncludesStep(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrSelectorNotFound, "login button never appeared").
		WithStep("login")
	WriteError(w, err, zap.NewNop())

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "login", resp.Error.Step)
}

func TestWriteErr_PlainError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErr(w, assert.AnError, zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
}

// =============================================================================
// 🧪 请求验证测试
// =============================================================================

func TestDecodeJSONBody(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid body", func(t *testing.T) {
		body := bytes.NewBufferString(`{"identifier":"user@example.com","channel":"email"}`)
		r := httptest.NewRequest(http.MethodPost, "/", body)
		w := httptest.NewRecorder()

		var req types.OTPRequest
		err := DecodeJSONBody(w, r, &req, logger)
		require.NoError(t, err)
		assert.Equal(t, "user@example.com", req.Identifier)
		assert.Equal(t, types.ChannelEmail, req.Channel)
	})

	t.Run("invalid json", func(t *testing.T) {
		body := bytes.NewBufferString(`{invalid`)
		r := httptest.NewRequest(http.MethodPost, "/", body)
		w := httptest.NewRecorder()

		var req types.OTPRequest
		err := DecodeJSONBody(w, r, &req, logger)
		assert.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		body := bytes.NewBufferString(`{"identifier":"a@b.c","channel":"email","extra":true}`)
		r := httptest.NewRequest(http.MethodPost, "/", body)
		w := httptest.NewRecorder()

		var req types.OTPRequest
		err := DecodeJSONBody(w, r, &req, logger)
		assert.Error(t, err)
	})

	t.Run("oversized body rejected", func(t *testing.T) {
		big := `{"identifier":"` + strings.Repeat("a", maxBodyBytes) + `","channel":"email"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
		w := httptest.NewRecorder()

		var req types.OTPRequest
		err := DecodeJSONBody(w, r, &req, logger)
		assert.Error(t, err)
	})
}

func TestValidateContentType(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{"json", "application/json", true},
		{"json with charset", "application/json; charset=utf-8", true},
		{"form", "application/x-www-form-urlencoded", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()

			assert.Equal(t, tt.want, ValidateContentType(w, r, logger))
		})
	}
}

// =============================================================================
// 🧪 ResponseWriter 测试
// =============================================================================

func TestResponseWriter(t *testing.T) {
	t.Run("captures status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := NewResponseWriter(rec)

		rw.WriteHeader(http.StatusTeapot)
		assert.Equal(t, http.StatusTeapot, rw.StatusCode)
		assert.True(t, rw.Written)
	})

	t.Run("double write header kept first", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := NewResponseWriter(rec)

		rw.WriteHeader(http.StatusNotFound)
		rw.WriteHeader(http.StatusOK)
		assert.Equal(t, http.StatusNotFound, rw.StatusCode)
	})

	t.Run("write defaults to 200", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := NewResponseWriter(rec)

		_, err := rw.Write([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rw.StatusCode)
	})
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"ticket-wallet/internal/infrastructure/config"
	otelinfra "ticket-wallet/internal/infrastructure/observability/otel"
)

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		config         *config.AdminAPIConfig
		apiKey         string
		clientIP       string
		expectedStatus int
	}{
		{
			name:           "正常系: 有効なAPIキー",
			config:         &config.AdminAPIConfig{APIKey: "test-api-key"},
			apiKey:         "test-api-key",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "異常系: APIキーが未設定の場合は無効",
			config:         &config.AdminAPIConfig{},
			apiKey:         "test-api-key",
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "異常系: APIキーなし",
			config:         &config.AdminAPIConfig{APIKey: "test-api-key"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "異常系: 無効なAPIキー",
			config:         &config.AdminAPIConfig{APIKey: "test-api-key"},
			apiKey:         "wrong-key",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "正常系: 許可されたIP",
			config:         &config.AdminAPIConfig{APIKey: "test-api-key", AllowedIPs: []string{"192.168.1.1"}},
			apiKey:         "test-api-key",
			clientIP:       "192.168.1.1",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "正常系: CIDRに含まれるIP",
			config:         &config.AdminAPIConfig{APIKey: "test-api-key", AllowedIPs: []string{"10.0.0.0/8"}},
			apiKey:         "test-api-key",
			clientIP:       "10.20.30.40",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "異常系: プレフィックスが似ているだけのIP",
			config:         &config.AdminAPIConfig{APIKey: "test-api-key", AllowedIPs: []string{"10.0.0.0/24"}},
			apiKey:         "test-api-key",
			clientIP:       "10.0.0.1000",
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "異常系: 許可されていないIP",
			config:         &config.AdminAPIConfig{APIKey: "test-api-key", AllowedIPs: []string{"192.168.1.1"}},
			apiKey:         "test-api-key",
			clientIP:       "192.168.1.2",
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("test"))

			handler := APIKeyMiddleware(tt.config, logger)(func(c echo.Context) error {
				return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.apiKey != "" {
				req.Header.Set(HeaderAPIKey, tt.apiKey)
			}
			if tt.clientIP != "" {
				req.Header.Set("X-Real-IP", tt.clientIP)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			require.NoError(t, handler(c))
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestDeviceKeyMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		config         *config.DeviceAPIConfig
		header         string
		key            string
		expectedStatus int
	}{
		{
			name:           "正常系: 有効な端末キー",
			config:         &config.DeviceAPIConfig{APIKey: "gate-key"},
			header:         HeaderDeviceKey,
			key:            "gate-key",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "異常系: 管理APIキーのヘッダーでは通らない",
			config:         &config.DeviceAPIConfig{APIKey: "gate-key"},
			header:         HeaderAPIKey,
			key:            "gate-key",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "異常系: 無効な端末キー",
			config:         &config.DeviceAPIConfig{APIKey: "gate-key"},
			header:         HeaderDeviceKey,
			key:            "other",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "異常系: 端末APIが無効",
			config:         &config.DeviceAPIConfig{},
			header:         HeaderDeviceKey,
			key:            "gate-key",
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("test"))

			handler := DeviceKeyMiddleware(tt.config, logger)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/scans", nil)
			req.Header.Set(tt.header, tt.key)
			rec := httptest.NewRecorder()

			require.NoError(t, handler(e.NewContext(req, rec)))
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestGetClientIP(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", getClientIP(e.NewContext(req, httptest.NewRecorder())))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:4321"
	assert.Equal(t, "198.51.100.7", getClientIP(e.NewContext(req, httptest.NewRecorder())))
}

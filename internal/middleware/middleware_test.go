package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clubhouse/internal/reqctx"
	"clubhouse/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ := reqctx.GetUserID(r.Context())
		_, _ = w.Write([]byte(uid))
	})
}

func TestJWTAuth(t *testing.T) {
	valid, err := utils.GenerateToken(secret, "u-1", time.Minute)
	require.NoError(t, err)
	expired, err := utils.GenerateToken(secret, "u-1", -time.Minute)
	require.NoError(t, err)
	foreign, err := utils.GenerateToken("other-secret", "u-1", time.Minute)
	require.NoError(t, err)
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u-1", "token_type": "refresh", "exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	numeric, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42, "exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "валидный токен", header: "Bearer " + valid, status: http.StatusOK, body: "u-1"},
		{name: "числовой user_id", header: "Bearer " + numeric, status: http.StatusOK, body: "42"},
		{name: "без заголовка", header: "", status: http.StatusUnauthorized},
		{name: "не Bearer", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "просрочен", header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "чужой секрет", header: "Bearer " + foreign, status: http.StatusUnauthorized},
		{name: "refresh-токен", header: "Bearer " + refresh, status: http.StatusUnauthorized},
	}

	h := JWTAuth(secret)(echoUser())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestJWTAuth_PreflightPasses(t *testing.T) {
	rec := httptest.NewRecorder()
	JWTAuth(secret)(echoUser()).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = reqctx.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", seen)
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestLogging_KeepsStatus(t *testing.T) {
	h := Logging(JWTAuth(secret)(echoUser()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

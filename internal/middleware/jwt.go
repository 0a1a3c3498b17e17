package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"clubhouse/internal/logger"
	"clubhouse/internal/reqctx"
	helpers "clubhouse/internal/utils/helpers"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWTAuth проверяет Bearer access-токен и кладёт user_id в контекст.
// Права администратора сервера проверяет сервис, здесь только аутентификация.
func JWTAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				logger.WithCtx(r.Context()).Warn("JWTAuth: отсутствует access token")
				helpers.Error(w, http.StatusUnauthorized, "missing access token")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				logger.WithCtx(r.Context()).Warn("JWTAuth: неверный или просроченный токен", zap.Error(err))
				helpers.Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if tt, ok := claims["token_type"].(string); ok && tt != "access" {
				logger.WithCtx(r.Context()).Warn("JWTAuth: не access-токен", zap.String("token_type", tt))
				helpers.Error(w, http.StatusUnauthorized, "invalid token type")
				return
			}

			userID := claimString(claims["user_id"])
			if userID == "" {
				logger.WithCtx(r.Context()).Warn("JWTAuth: недопустимый payload", zap.Any("claims", claims))
				helpers.Error(w, http.StatusUnauthorized, "invalid token payload")
				return
			}

			if lrw, ok := w.(*loggingResponseWriter); ok {
				lrw.userID = userID
			}
			ctx := reqctx.WithUserID(r.Context(), userID)
			logger.WithCtx(ctx).Debug("JWTAuth: токен валиден")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// claimString принимает и строковые, и числовые id.
func claimString(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return ""
	}
}

package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/scorekeeper/internal/server/handlers"
	"github.com/iudanet/scorekeeper/internal/server/jwt"
)

// AuthMiddleware создает middleware для проверки токена устройства.
// device_id и роль из токена попадают в контекст запроса.
func AuthMiddleware(logger *slog.Logger, tokens *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header", "path", r.URL.Path)
				writeError(w, "unauthorized", "missing token", http.StatusUnauthorized)
				return
			}

			// Ожидаем формат: "Bearer <token>"
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				logger.Warn("Invalid Authorization header format", "path", r.URL.Path)
				writeError(w, "unauthorized", "invalid token format", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.Validate(token)
			if err != nil {
				logger.Warn("Invalid device token", "error", err)
				writeError(w, "unauthorized", "invalid or expired token", http.StatusUnauthorized)
				return
			}

			logger.Debug("Device authenticated", "device_id", claims.DeviceID, "role", claims.Role)

			ctx := handlers.WithDevice(r.Context(), claims.DeviceID, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

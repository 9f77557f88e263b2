package api

import "time"

// EnrollRequest представляет запрос на регистрацию устройства
type EnrollRequest struct {
	DeviceID   string `json:"device_id" validate:"required,uuid"`
	Name       string `json:"name" validate:"required,min=3,max=64"`
	Role       string `json:"role" validate:"required,oneof=player recorder official system"`
	Secret     string `json:"secret" validate:"required,min=8,max=128"` // секрет устройства, на сервере хранится bcrypt-хеш
	EnrollCode string `json:"enroll_code,omitempty"`                    // код для роли official
}

// EnrollResponse представляет ответ с токеном устройства
type EnrollResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
	DeviceID  string    `json:"device_id"`
	Role      string    `json:"role"`
	Token     string    `json:"token"` // JWT для Authorization: Bearer
}

// HealthResponse ответ health check
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // код ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}

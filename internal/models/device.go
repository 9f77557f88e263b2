package models

import "time"

// Device представляет зарегистрированное устройство (клиент записи счета).
type Device struct {
	CreatedAt  time.Time `json:"created_at"`  // время регистрации
	ID         string    `json:"id"`          // UUID устройства
	Name       string    `json:"name"`        // человекочитаемое имя ("marshal-tablet-3")
	Role       Role      `json:"role"`        // роль, с которой устройство может подписывать правки
	SecretHash string    `json:"secret_hash"` // bcrypt хеш секрета устройства
}

// DeviceIdentity данные устройства, хранящиеся на клиенте после регистрации.
type DeviceIdentity struct {
	ExpiresAt time.Time `json:"expires_at"`
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Token     string    `json:"token"`
	ServerURL string    `json:"server_url"`
}

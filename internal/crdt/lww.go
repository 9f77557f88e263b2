package crdt

import "time"

// Register представляет Last-Write-Wins регистр одного поля записи.
// Значение поля сопровождается временем записи и устройством-автором,
// что позволяет детерминированно выбрать победителя при конкурентных изменениях.
type Register struct {
	WrittenAt time.Time `json:"written_at"` // WrittenAt время локальной записи поля
	Value     any       `json:"value"`      // Value значение поля (JSON scalar)
	DeviceID  string    `json:"device_id"`  // DeviceID устройство, записавшее значение
}

// Wins сравнивает два регистра по правилу LWW:
// 1. Больший WrittenAt выигрывает
// 2. При равном WrittenAt сравнивается DeviceID (лексикографически)
// Возвращает true, если r побеждает other.
func (r Register) Wins(other Register) bool {
	if r.WrittenAt.After(other.WrittenAt) {
		return true
	}
	if r.WrittenAt.Before(other.WrittenAt) {
		return false
	}
	// Время совпало - используем DeviceID для детерминизма
	return r.DeviceID > other.DeviceID
}

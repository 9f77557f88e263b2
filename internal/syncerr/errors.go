// Package syncerr определяет таксономию ошибок синхронизации.
//
// StorageFailure - локальное хранилище недоступно или отказало, операция
// не может быть завершена. NetworkFailure - временная ошибка связи, повторяется
// с backoff. RemoteRejection - сервер окончательно отклонил изменение, повтор
// бессмысленен. Неразрешимый конфликт ошибкой не является: это состояние
// записи (ConflictCase), которое ждет решения пользователя.
package syncerr

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage sentinel для errors.Is на StorageFailure
	ErrStorage = errors.New("local storage failure")

	// ErrNetwork sentinel для errors.Is на NetworkFailure
	ErrNetwork = errors.New("network failure")

	// ErrRejected sentinel для errors.Is на RemoteRejection
	ErrRejected = errors.New("rejected by remote store")
)

// StorageFailure ошибка локального хранилища.
type StorageFailure struct {
	Err error
	Op  string
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageFailure) Unwrap() error { return e.Err }

func (e *StorageFailure) Is(target error) bool {
	return target == ErrStorage
}

// NetworkFailure временная ошибка сети: обрыв соединения, таймаут, 5xx, 429.
type NetworkFailure struct {
	Err        error
	Op         string
	StatusCode int // 0 если ответ не был получен
}

func (e *NetworkFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network failure during %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkFailure) Unwrap() error { return e.Err }

func (e *NetworkFailure) Is(target error) bool {
	return target == ErrNetwork
}

// RemoteRejection окончательный отказ сервера (валидация, права доступа).
type RemoteRejection struct {
	Code       string
	Message    string
	RecordID   string
	StatusCode int
}

func (e *RemoteRejection) Error() string {
	msg := fmt.Sprintf("rejected by remote store: http %d", e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RecordID != "" {
		msg += " (record " + e.RecordID + ")"
	}
	return msg
}

func (e *RemoteRejection) Is(target error) bool {
	return target == ErrRejected
}

// Storage оборачивает err в StorageFailure. nil остается nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var sf *StorageFailure
	if errors.As(err, &sf) {
		return err
	}
	return &StorageFailure{Op: op, Err: err}
}

// Network оборачивает err в NetworkFailure. nil остается nil.
func Network(op string, err error) error {
	if err == nil {
		return nil
	}
	return &NetworkFailure{Op: op, Err: err}
}

// IsRetryable сообщает, имеет ли смысл повторять операцию.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

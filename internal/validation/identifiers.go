package validation

import (
	"fmt"
	"regexp"
)

// RecordIDPattern определяет допустимый формат идентификатора записи
// Латинские буквы, цифры и символы _ . : - (например "r1-p7-h12")
// Длина: 1-128 символов
var RecordIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,128}$`)

// FieldNamePattern определяет допустимый формат имени поля: snake_case, начинается с буквы
var FieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// DeviceNamePattern имя устройства при регистрации
var DeviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,64}$`)

// ValidateRecordID проверяет идентификатор записи
func ValidateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("record id cannot be empty")
	}

	if !RecordIDPattern.MatchString(id) {
		return fmt.Errorf("record id %q can only contain letters, numbers, '_', '.', ':', '-' and must not exceed 128 characters", id)
	}

	return nil
}

// ValidateFieldName проверяет имя поля записи
func ValidateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("field name cannot be empty")
	}

	if !FieldNamePattern.MatchString(name) {
		return fmt.Errorf("field name %q must be snake_case and start with a letter", name)
	}

	return nil
}

// ValidateDeviceName проверяет имя устройства
func ValidateDeviceName(name string) error {
	if name == "" {
		return fmt.Errorf("device name cannot be empty")
	}

	if !DeviceNamePattern.MatchString(name) {
		return fmt.Errorf("device name can only contain letters, numbers, '_' and '-' (3-64 characters)")
	}

	return nil
}

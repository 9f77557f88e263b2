// Package iocli ввод и вывод команд клиента: печать и запросы значений,
// включая скрытый ввод секрета устройства.
package iocli

//go:generate moq -out io_mock.go . IO

// IO abstracts terminal interaction of CLI commands
type IO interface {
	Println(a ...any)
	Printf(format string, a ...any)
	// ReadInput prints the prompt and reads one trimmed line
	ReadInput(prompt string) (string, error)
	// ReadPassword reads a line without echo when input is a terminal
	ReadPassword(prompt string) (string, error)
	Write(p []byte) (n int, err error)
}

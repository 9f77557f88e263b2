package crdt

import (
	"fmt"
	"sort"
	"strings"
)

// Ordering описывает отношение двух version vector'ов.
// Version vector'ы образуют частичный порядок, поэтому помимо
// "раньше/позже/равно" существует четвертый исход - Concurrent.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("ordering(%d)", int(o))
	}
}

// VersionVector хранит для каждого устройства монотонно растущий счетчик его записей.
// Отсутствующий ключ эквивалентен нулю.
type VersionVector map[string]uint64

// Clone возвращает независимую копию вектора (никогда не nil).
func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for device, counter := range v {
		out[device] = counter
	}
	return out
}

// Increment возвращает копию вектора с увеличенным счетчиком устройства deviceID.
// Исходный вектор не изменяется.
func (v VersionVector) Increment(deviceID string) VersionVector {
	out := v.Clone()
	out[deviceID]++
	return out
}

// Merge возвращает поэлементный максимум двух векторов.
// Операция коммутативна, ассоциативна и идемпотентна.
func (v VersionVector) Merge(other VersionVector) VersionVector {
	out := v.Clone()
	for device, counter := range other {
		if counter > out[device] {
			out[device] = counter
		}
	}
	return out
}

// Compare сравнивает v с other.
// Before - v строго предшествует other, After - v строго доминирует,
// Concurrent - у каждой стороны есть запись, неизвестная другой.
func (v VersionVector) Compare(other VersionVector) Ordering {
	less, greater := false, false

	for device, counter := range v {
		switch theirs := other[device]; {
		case counter > theirs:
			greater = true
		case counter < theirs:
			less = true
		}
	}
	for device, counter := range other {
		if _, ok := v[device]; !ok && counter > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return Concurrent
	case greater:
		return After
	case less:
		return Before
	default:
		return Equal
	}
}

// Dominates возвращает true, если v строго новее other.
func (v VersionVector) Dominates(other VersionVector) bool {
	return v.Compare(other) == After
}

// Descends возвращает true, если v включает все записи other (v >= other).
func (v VersionVector) Descends(other VersionVector) bool {
	ord := v.Compare(other)
	return ord == After || ord == Equal
}

// Get возвращает счетчик устройства (0 если устройство не писало).
func (v VersionVector) Get(deviceID string) uint64 {
	return v[deviceID]
}

// String форматирует вектор детерминированно: {a:1, b:2}.
func (v VersionVector) String() string {
	devices := make([]string, 0, len(v))
	for device := range v {
		devices = append(devices, device)
	}
	sort.Strings(devices)

	parts := make([]string, 0, len(devices))
	for _, device := range devices {
		parts = append(parts, fmt.Sprintf("%s:%d", device, v[device]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

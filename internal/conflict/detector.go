// Package conflict определяет и разрешает конфликты между локальной и
// удаленной версиями записи.
//
// Detect сравнивает version vector'ы и классифицирует поля относительно
// последнего синхронизированного состояния. Resolver прогоняет конкурентные
// версии через упорядоченную цепочку политик (role_override, validation_aware,
// field_merge, timestamp_fallback) и проверяет итоговую запись.
package conflict

import (
	"reflect"
	"sort"

	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
)

// FieldClass классификация поля при конкурентных изменениях
type FieldClass int

const (
	FieldUntouched  FieldClass = iota // не менялось ни одной стороной
	FieldLocalOnly                    // менялось только локально
	FieldRemoteOnly                   // менялось только удаленно
	FieldSame                         // менялось обеими сторонами, значения совпали
	FieldConflict                     // менялось обеими сторонами, значения различаются
)

// Detection результат сравнения двух версий записи
type Detection struct {
	Fields            map[string]FieldClass
	ConflictingFields []string
	Ordering          crdt.Ordering
	FieldResolvable   bool // у обеих сторон есть FieldWriteTimes
}

// Concurrent сообщает, что версии конкурентны и требуют разрешения
func (d Detection) Concurrent() bool {
	return d.Ordering == crdt.Concurrent
}

// Detect сравнивает локальную и удаленную версии.
// Для конкурентных версий поля классифицируются относительно
// local.BaseFieldTimes - времени записи полей на момент последней синхронизации.
func Detect(local, remote *models.Record) Detection {
	d := Detection{
		Ordering: local.VersionVector.Compare(remote.VersionVector),
	}
	if d.Ordering != crdt.Concurrent {
		return d
	}

	d.FieldResolvable = local.HasFieldTimes() && remote.HasFieldTimes()
	d.Fields = make(map[string]FieldClass)

	for _, field := range unionFields(local, remote) {
		class := classify(field, local, remote)
		d.Fields[field] = class
		if class == FieldConflict {
			d.ConflictingFields = append(d.ConflictingFields, field)
		}
	}

	return d
}

func classify(field string, local, remote *models.Record) FieldClass {
	base, hasBase := local.BaseFieldTimes[field]

	touched := func(rec *models.Record) bool {
		written, ok := rec.FieldWriteTimes[field]
		if !ok {
			// Без времени записи поле считаем измененным, если его значение есть только у этой стороны
			_, present := rec.Fields[field]
			return present && !hasBase
		}
		return !hasBase || !written.Equal(base)
	}

	localTouched := touched(local)
	remoteTouched := touched(remote)
	equal := valuesEqual(local, remote, field)

	switch {
	case localTouched && remoteTouched:
		if equal {
			return FieldSame
		}
		return FieldConflict
	case localTouched:
		return FieldLocalOnly
	case remoteTouched:
		return FieldRemoteOnly
	case !equal:
		// Ни одна сторона не меняла поле, но значения расходятся - считаем конфликтом
		return FieldConflict
	default:
		return FieldUntouched
	}
}

func valuesEqual(a, b *models.Record, field string) bool {
	av, aok := a.Fields[field]
	bv, bok := b.Fields[field]
	if aok != bok {
		return false
	}
	if an, ok := models.AsNumber(av); ok {
		if bn, ok := models.AsNumber(bv); ok {
			return an == bn
		}
	}
	return reflect.DeepEqual(av, bv)
}

func unionFields(a, b *models.Record) []string {
	seen := make(map[string]struct{})
	for _, f := range a.FieldNames() {
		seen[f] = struct{}{}
	}
	for _, f := range b.FieldNames() {
		seen[f] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

package validation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iudanet/scorekeeper/internal/models"
)

// FieldError нарушение правила для конкретного поля
type FieldError struct {
	Value any
	Field string
	Rule  string
}

// Error описывает нарушение в виде "strokes: min=1 (got 0)"
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Rule, e.Value)
}

// RecordError список нарушений для записи
type RecordError struct {
	RecordID string
	Fields   []FieldError
}

func (e *RecordError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("record %s is invalid: %s", e.RecordID, strings.Join(parts, "; "))
}

// InvalidFields возвращает имена полей с нарушениями (отсортированы, без повторов)
func (e *RecordError) InvalidFields() []string {
	seen := make(map[string]struct{}, len(e.Fields))
	out := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := seen[f.Field]; ok {
			continue
		}
		seen[f.Field] = struct{}{}
		out = append(out, f.Field)
	}
	sort.Strings(out)
	return out
}

// RecordValidator проверяет записи по правилам их типа.
type RecordValidator struct {
	rules    *Rules
	validate *validator.Validate
}

// NewRecordValidator создает валидатор. nil rules означает DefaultRules.
func NewRecordValidator(rules *Rules) *RecordValidator {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RecordValidator{
		rules:    rules,
		validate: validator.New(),
	}
}

// HasRules сообщает, есть ли правила валидности для типа сущности
func (v *RecordValidator) HasRules(entityType string) bool {
	_, ok := v.rules.Types[entityType]
	return ok
}

// Validate проверяет запись. Возвращает *RecordError или nil.
// Поля без правил не проверяются.
func (v *RecordValidator) Validate(rec *models.Record) error {
	tr, ok := v.rules.Types[rec.Type]
	if !ok {
		return nil
	}

	var violations []FieldError

	for _, field := range tr.Required {
		if _, present := rec.Fields[field]; !present {
			violations = append(violations, FieldError{Field: field, Rule: "required"})
		}
	}

	fields := make([]string, 0, len(tr.Fields))
	for field := range tr.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value, present := rec.Fields[field]
		if !present || value == nil {
			continue
		}
		if fe := v.checkField(field, tr.Fields[field], value); fe != nil {
			violations = append(violations, *fe)
		}
	}

	for _, cr := range tr.Cross {
		lhs, lok := models.AsNumber(rec.Fields[cr.Field])
		rhs, rok := models.AsNumber(rec.Fields[cr.LTEField])
		if !lok || !rok {
			continue
		}
		if lhs > rhs {
			violations = append(violations, FieldError{
				Field: cr.Field,
				Rule:  "lte_field=" + cr.LTEField,
				Value: rec.Fields[cr.Field],
			})
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return &RecordError{RecordID: rec.ID, Fields: violations}
}

// InvalidFields возвращает поля записи, нарушающие правила
func (v *RecordValidator) InvalidFields(rec *models.Record) []string {
	err := v.Validate(rec)
	if err == nil {
		return nil
	}
	recErr, ok := err.(*RecordError)
	if !ok {
		return nil
	}
	return recErr.InvalidFields()
}

func (v *RecordValidator) checkField(field string, rule FieldRule, value any) *FieldError {
	switch rule.Kind {
	case KindNumber, KindInteger:
		n, ok := models.AsNumber(value)
		if !ok {
			return &FieldError{Field: field, Rule: string(rule.Kind), Value: value}
		}
		if rule.Kind == KindInteger && n != math.Trunc(n) {
			return &FieldError{Field: field, Rule: "integer", Value: value}
		}
		value = n
	case KindString:
		if _, ok := value.(string); !ok {
			return &FieldError{Field: field, Rule: "string", Value: value}
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return &FieldError{Field: field, Rule: "bool", Value: value}
		}
	}

	if rule.Tag == "" {
		return nil
	}

	if err := v.validate.Var(value, rule.Tag); err != nil {
		tag := rule.Tag
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			tag = verrs[0].Tag()
			if p := verrs[0].Param(); p != "" {
				tag += "=" + p
			}
		}
		return &FieldError{Field: field, Rule: tag, Value: value}
	}

	return nil
}

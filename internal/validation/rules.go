package validation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind ожидаемый тип значения поля
type Kind string

const (
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindString  Kind = "string"
	KindBool    Kind = "bool"
)

// FieldRule правило для одного поля.
// Tag - строка правил go-playground/validator ("min=1,max=20").
type FieldRule struct {
	Kind Kind   `yaml:"kind"`
	Tag  string `yaml:"rules"`
}

// CrossRule межполевое ограничение: Field <= LTEField.
type CrossRule struct {
	Field    string `yaml:"field"`
	LTEField string `yaml:"lte_field"`
}

// TypeRules правила валидности для одного типа сущности.
type TypeRules struct {
	Fields   map[string]FieldRule `yaml:"fields"`
	Required []string             `yaml:"required"`
	Cross    []CrossRule          `yaml:"cross"`
}

// Rules набор правил по типам сущностей.
type Rules struct {
	Types map[string]TypeRules `yaml:"types"`
}

// DefaultRules возвращает встроенные правила для счета на лунке.
func DefaultRules() *Rules {
	return &Rules{
		Types: map[string]TypeRules{
			"hole_score": {
				Fields: map[string]FieldRule{
					"strokes":   {Kind: KindInteger, Tag: "min=1,max=20"},
					"putts":     {Kind: KindInteger, Tag: "min=0,max=10"},
					"penalties": {Kind: KindInteger, Tag: "min=0,max=10"},
					"hole":      {Kind: KindInteger, Tag: "min=1,max=18"},
					"player_id": {Kind: KindString, Tag: "min=1,max=64"},
				},
				Cross: []CrossRule{
					{Field: "putts", LTEField: "strokes"},
				},
			},
		},
	}
}

// LoadRules читает правила из YAML файла.
// Типы, описанные в файле, заменяют встроенные; остальные встроенные сохраняются.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var fromFile Rules
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	rules := DefaultRules()
	for entityType, tr := range fromFile.Types {
		for field, fr := range tr.Fields {
			if err := ValidateFieldName(field); err != nil {
				return nil, fmt.Errorf("invalid rules for %s: %w", entityType, err)
			}
			switch fr.Kind {
			case KindNumber, KindInteger, KindString, KindBool:
			default:
				return nil, fmt.Errorf("invalid rules for %s.%s: unknown kind %q", entityType, field, fr.Kind)
			}
		}
		rules.Types[entityType] = tr
	}

	return rules, nil
}

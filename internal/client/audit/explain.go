// Package audit объясняет решения журнала разрешений конфликтов и выгружает
// журнал в JSON lines (файл или S3).
package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/iudanet/scorekeeper/internal/models"
)

// Explain возвращает текстовое объяснение записи журнала: какие версии
// сравнивались, какая стратегия сработала и что выбрано по каждому полю.
func Explain(entry *models.ResolutionLogEntry) string {
	var b strings.Builder

	mode := "automatic"
	if entry.UserConfirmed {
		mode = "confirmed by user"
	}
	fmt.Fprintf(&b, "Record %s resolved with %s (%s) at %s\n",
		entry.RecordID, entry.Strategy, mode, entry.Timestamp.UTC().Format(time.RFC3339))

	writeVersion(&b, "local", entry.Local)
	writeVersion(&b, "remote", entry.Remote)
	writeVersion(&b, "resolved", entry.Resolved)

	if len(entry.Decisions) > 0 {
		b.WriteString("Field decisions:\n")
		for _, d := range entry.Decisions {
			fmt.Fprintf(&b, "  %s: %s%s\n", d.Field, describeChoice(d), describePolicy(d))
		}
	}

	return b.String()
}

// ExplainConflict описывает открытый конфликт и варианты его ручного разрешения
func ExplainConflict(cc *models.ConflictCase) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Conflict %s on record %s: %s\n", cc.ID, cc.RecordID, cc.Reason)
	fmt.Fprintf(&b, "  detected: %s\n", cc.DetectedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "  outcome:  %s\n", cc.Outcome)
	if len(cc.ConflictingFields) > 0 {
		fmt.Fprintf(&b, "  fields:   %s\n", strings.Join(cc.ConflictingFields, ", "))
	}

	writeVersion(&b, "local", cc.Local)
	writeVersion(&b, "remote", cc.Remote)
	if cc.Merged != nil {
		writeVersion(&b, "merged", cc.Merged)
	}

	choices := []string{string(models.ChoiceKeepLocal)}
	if cc.Remote != nil {
		choices = append(choices, string(models.ChoiceKeepRemote))
	}
	if cc.Merged != nil {
		choices = append(choices, string(models.ChoiceAcceptMerge))
	}
	fmt.Fprintf(&b, "Resolve with: scorekeeper resolve %s <%s>\n", cc.ID, strings.Join(choices, "|"))

	return b.String()
}

func writeVersion(b *strings.Builder, label string, rec *models.Record) {
	fmt.Fprintf(b, "  %-9s ", label+":")
	if rec == nil {
		b.WriteString("(none)\n")
		return
	}
	b.WriteString(FormatFields(rec.Fields))
	if rec.WriterDeviceID != "" {
		fmt.Fprintf(b, "  [%s %s]", rec.WriterDeviceID, rec.WriterRole)
	}
	b.WriteString("\n")
}

func describeChoice(d models.FieldDecision) string {
	switch d.Chosen {
	case models.SideRemote:
		if d.Previous != nil {
			return fmt.Sprintf("remote value %s replaced local %s", FormatValue(d.Value), FormatValue(d.Previous))
		}
		return fmt.Sprintf("remote value %s applied", FormatValue(d.Value))
	case models.SideLocal:
		return fmt.Sprintf("local value %s kept", FormatValue(d.Value))
	default:
		return fmt.Sprintf("both sides agree on %s", FormatValue(d.Value))
	}
}

func describePolicy(d models.FieldDecision) string {
	if d.Reason == "" {
		return fmt.Sprintf(" (%s)", d.Policy)
	}
	return fmt.Sprintf(" (%s: %s)", d.Policy, d.Reason)
}

// FormatFields печатает поля записи в порядке имен: "putts=2, strokes=5"
func FormatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "{}"
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+FormatValue(fields[name]))
	}
	return strings.Join(parts, ", ")
}

// FormatValue печатает значение поля; nil означает удаленное поле
func FormatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "(deleted)"
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

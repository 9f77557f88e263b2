package conflict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/validation"
)

// Verdict результат применения политики
type Verdict int

const (
	Continue Verdict = iota // передать оставшиеся поля следующей политике
	Done                    // все поля решены, цепочка завершена
	Manual                  // требуется решение пользователя
)

// Policy звено цепочки разрешения конфликтов
type Policy interface {
	Strategy() models.Strategy
	// Apply принимает решения по нерешенным полям case. Для Manual возвращает причину.
	Apply(c *Case) (Verdict, string)
}

// Case рабочее состояние разрешения одного конфликта
type Case struct {
	Local     *models.Record
	Remote    *models.Record
	decisions map[string]models.FieldDecision
	winner    models.Side // сторона, выигравшая запись целиком (role_override)
	fields    []string
	Detection Detection
}

func newCase(local, remote *models.Record, d Detection) *Case {
	return &Case{
		Local:     local,
		Remote:    remote,
		Detection: d,
		decisions: make(map[string]models.FieldDecision),
		fields:    unionFields(local, remote),
	}
}

// Undecided возвращает нерешенные поля в детерминированном порядке
func (c *Case) Undecided() []string {
	out := make([]string, 0, len(c.fields))
	for _, f := range c.fields {
		if _, ok := c.decisions[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Decide фиксирует выбор стороны для поля
func (c *Case) Decide(field string, side models.Side, policy models.Strategy, reason string) {
	src := c.side(side)
	c.decisions[field] = models.FieldDecision{
		Field:    field,
		Chosen:   side,
		Policy:   policy,
		Reason:   reason,
		Value:    src.Fields[field],
		Previous: c.Local.Fields[field],
	}
}

// Decisions возвращает принятые решения, отсортированные по полю
func (c *Case) Decisions() []models.FieldDecision {
	out := make([]models.FieldDecision, 0, len(c.decisions))
	for _, f := range c.fields {
		if d, ok := c.decisions[f]; ok {
			out = append(out, d)
		}
	}
	return out
}

func (c *Case) side(s models.Side) *models.Record {
	if s == models.SideRemote {
		return c.Remote
	}
	return c.Local
}

// RoleOverride: если ровно одна сторона записана официальным лицом,
// она выигрывает запись целиком независимо от времени.
type RoleOverride struct{}

func (RoleOverride) Strategy() models.Strategy { return models.StrategyRoleOverride }

func (p RoleOverride) Apply(c *Case) (Verdict, string) {
	localOfficial := c.Local.WriterRole == models.RoleOfficial
	remoteOfficial := c.Remote.WriterRole == models.RoleOfficial
	if localOfficial == remoteOfficial {
		return Continue, ""
	}

	winner := models.SideLocal
	if remoteOfficial {
		winner = models.SideRemote
	}
	c.winner = winner

	reason := fmt.Sprintf("official edit by %s wins", c.side(winner).WriterDeviceID)
	for _, f := range c.Undecided() {
		c.Decide(f, winner, p.Strategy(), reason)
	}
	return Done, ""
}

// ValidationAware: если для типа есть правила и ровно одна сторона валидна,
// значения невалидных полей берутся с валидной стороны.
type ValidationAware struct {
	Validator *validation.RecordValidator
}

func (ValidationAware) Strategy() models.Strategy { return models.StrategyValidationAware }

func (p ValidationAware) Apply(c *Case) (Verdict, string) {
	if p.Validator == nil || !p.Validator.HasRules(c.Local.Type) {
		return Continue, ""
	}

	localInvalid := p.Validator.InvalidFields(c.Local)
	remoteInvalid := p.Validator.InvalidFields(c.Remote)

	switch {
	case len(localInvalid) > 0 && len(remoteInvalid) > 0:
		return Manual, models.ReasonBothInvalid
	case len(localInvalid) > 0:
		p.take(c, localInvalid, models.SideRemote, "local")
	case len(remoteInvalid) > 0:
		p.take(c, remoteInvalid, models.SideLocal, "remote")
	}
	return Continue, ""
}

func (p ValidationAware) take(c *Case, invalid []string, valid models.Side, invalidSide string) {
	for _, f := range invalid {
		if _, decided := c.decisions[f]; decided {
			continue
		}
		c.Decide(f, valid, p.Strategy(), fmt.Sprintf("%s value %v is invalid", invalidSide, c.side(otherSide(valid)).Fields[f]))
	}
}

// FieldMerge: поля, измененные одной стороной, проходят без конфликта;
// для полей, измененных обеими, побеждает более поздняя запись поля.
type FieldMerge struct{}

func (FieldMerge) Strategy() models.Strategy { return models.StrategyFieldMerge }

func (p FieldMerge) Apply(c *Case) (Verdict, string) {
	if !c.Detection.FieldResolvable {
		return Continue, ""
	}

	for _, f := range c.Undecided() {
		switch c.Detection.Fields[f] {
		case FieldLocalOnly:
			c.Decide(f, models.SideLocal, p.Strategy(), "changed only locally")
		case FieldRemoteOnly:
			c.Decide(f, models.SideRemote, p.Strategy(), "changed only remotely")
		case FieldSame, FieldUntouched:
			c.Decide(f, models.SideBoth, p.Strategy(), "same value on both sides")
		case FieldConflict:
			lt, lok := c.Local.FieldWriteTimes[f]
			rt, rok := c.Remote.FieldWriteTimes[f]
			switch {
			case !lok || !rok || lt.Equal(rt):
				// Нет данных для сравнения - оставляем timestamp_fallback
			case c.Local.Register(f).Wins(c.Remote.Register(f)):
				c.Decide(f, models.SideLocal, p.Strategy(), "later field write")
			default:
				c.Decide(f, models.SideRemote, p.Strategy(), "later field write")
			}
		}
	}
	return Continue, ""
}

// TimestampFallback: все оставшиеся поля берутся со стороны с более поздним
// UpdatedAt; при равенстве решает идентификатор устройства.
type TimestampFallback struct{}

func (TimestampFallback) Strategy() models.Strategy { return models.StrategyTimestampFallback }

func (p TimestampFallback) Apply(c *Case) (Verdict, string) {
	winner := models.SideRemote
	if c.Local.IsNewerThan(c.Remote) {
		winner = models.SideLocal
	}

	reason := "later record update"
	if c.Local.UpdatedAt.Equal(c.Remote.UpdatedAt) {
		reason = "equal update time, device id tie-break"
	}

	for _, f := range c.Undecided() {
		c.Decide(f, winner, p.Strategy(), reason)
	}
	return Done, ""
}

// DefaultPolicies возвращает стандартную цепочку политик
func DefaultPolicies(v *validation.RecordValidator) []Policy {
	return []Policy{
		RoleOverride{},
		ValidationAware{Validator: v},
		FieldMerge{},
		TimestampFallback{},
	}
}

func otherSide(s models.Side) models.Side {
	if s == models.SideRemote {
		return models.SideLocal
	}
	return models.SideRemote
}

func describeFields(fields []string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

package conflict

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/validation"
)

var (
	ErrMissingRemote = errors.New("conflict has no remote version")
	ErrMissingMerge  = errors.New("conflict has no merged proposal")
	ErrUnknownChoice = errors.New("unknown resolution choice")
)

// Resolution итог разрешения конкурентных версий
type Resolution struct {
	Merged    *models.Record // nil, если требуется ручное решение
	Outcome   models.Outcome
	Strategy  models.Strategy
	Reason    string // причина ручного решения
	Decisions []models.FieldDecision
	Detection Detection
}

// Resolver разрешает конфликты упорядоченной цепочкой политик
type Resolver struct {
	validator *validation.RecordValidator
	logger    *slog.Logger
	policies  []Policy
}

// NewResolver creates a resolver with the default policy chain.
func NewResolver(validator *validation.RecordValidator, logger *slog.Logger) *Resolver {
	return NewResolverWithPolicies(validator, logger, DefaultPolicies(validator))
}

// NewResolverWithPolicies creates a resolver with a custom policy chain.
// The chain should end with a policy that always returns Done.
func NewResolverWithPolicies(validator *validation.RecordValidator, logger *slog.Logger, policies []Policy) *Resolver {
	return &Resolver{
		validator: validator,
		logger:    logger,
		policies:  policies,
	}
}

// Resolve разрешает пару версий одной записи. Если одна версия доминирует,
// она возвращается без изменений и без стратегии.
// Для конкурентных версий результат не зависит от того, какая из версий локальная:
// Resolve(a, b) и Resolve(b, a) дают одинаковые значения полей.
func (r *Resolver) Resolve(local, remote *models.Record) Resolution {
	detection := Detect(local, remote)
	c := newCase(local, remote, detection)

	res := Resolution{Detection: detection}

	// Доминирующая версия применяется без политик; при равенстве остается локальная
	switch detection.Ordering {
	case crdt.Before:
		res.Outcome = models.OutcomeAutoResolved
		res.Merged = remote.Clone()
		return res
	case crdt.After, crdt.Equal:
		res.Outcome = models.OutcomeAutoResolved
		res.Merged = local.Clone()
		return res
	}

	for _, p := range r.policies {
		verdict, reason := p.Apply(c)
		if verdict == Manual {
			r.logger.Info("Conflict requires manual resolution",
				"record_id", local.ID,
				"policy", string(p.Strategy()),
				"reason", reason,
			)
			res.Outcome = models.OutcomeNeedsManualResolution
			res.Reason = reason
			res.Strategy = p.Strategy()
			res.Decisions = c.Decisions()
			return res
		}
		if verdict == Done {
			break
		}
	}

	res.Decisions = c.Decisions()
	res.Strategy = r.primaryStrategy(c)
	res.Merged = r.assemble(c)

	if r.validator != nil && r.validator.HasRules(res.Merged.Type) {
		if invalid := r.validator.InvalidFields(res.Merged); len(invalid) > 0 {
			r.logger.Info("Merged record is invalid",
				"record_id", local.ID,
				"fields", describeFields(invalid),
			)
			res.Outcome = models.OutcomeNeedsManualResolution
			res.Reason = models.ReasonMergedInvalid
			return res
		}
	}

	res.Outcome = models.OutcomeAutoResolved
	r.logger.Debug("Conflict auto-resolved",
		"record_id", local.ID,
		"strategy", string(res.Strategy),
		"conflicting_fields", describeFields(detection.ConflictingFields),
	)
	return res
}

// primaryStrategy определяет политику, которой атрибутируется решение:
// первая в цепочке, решившая спорное поле; если спорных не было - первая,
// принявшая хоть одно решение.
func (r *Resolver) primaryStrategy(c *Case) models.Strategy {
	significant := func(d models.FieldDecision) bool {
		switch d.Policy {
		case models.StrategyRoleOverride, models.StrategyValidationAware:
			return true
		}
		if !c.Detection.FieldResolvable {
			return true
		}
		return c.Detection.Fields[d.Field] == FieldConflict
	}

	var first models.Strategy
	for _, p := range r.policies {
		for _, d := range c.decisions {
			if d.Policy != p.Strategy() {
				continue
			}
			if significant(d) {
				return p.Strategy()
			}
			if first == "" {
				first = p.Strategy()
			}
		}
	}
	if first == "" {
		return models.StrategyTimestampFallback
	}
	return first
}

// assemble собирает итоговую запись по принятым решениям
func (r *Resolver) assemble(c *Case) *models.Record {
	local, remote := c.Local, c.Remote

	merged := &models.Record{
		ID:              local.ID,
		Type:            local.Type,
		Fields:          make(map[string]any, len(c.decisions)),
		FieldWriteTimes: make(map[string]time.Time, len(c.decisions)),
		BaseFieldTimes:  cloneTimes(remote.FieldWriteTimes),
		VersionVector:   local.VersionVector.Merge(remote.VersionVector),
		RemoteVersion:   remote.VersionVector.Clone(),
		UpdatedAt:       latest(local.UpdatedAt, remote.UpdatedAt),
		SyncStatus:      models.SyncStatusPending,
	}
	if merged.Type == "" {
		merged.Type = remote.Type
	}

	for field, d := range c.decisions {
		switch d.Chosen {
		case models.SideBoth:
			if v, ok := local.Fields[field]; ok {
				merged.Fields[field] = v
			} else if v, ok := remote.Fields[field]; ok {
				merged.Fields[field] = v
			}
			if t := latest(local.FieldWriteTimes[field], remote.FieldWriteTimes[field]); !t.IsZero() {
				merged.FieldWriteTimes[field] = t
			}
		default:
			src := c.side(d.Chosen)
			v, ok := src.Fields[field]
			if !ok {
				// Поле отсутствует на выигравшей стороне - в итоговой записи его нет
				continue
			}
			merged.Fields[field] = v
			if t, ok := src.FieldWriteTimes[field]; ok {
				merged.FieldWriteTimes[field] = t
			}
		}
	}
	if len(merged.FieldWriteTimes) == 0 {
		merged.FieldWriteTimes = nil
	}

	writer := r.writer(c)
	merged.WriterDeviceID = writer.WriterDeviceID
	merged.WriterRole = writer.WriterRole

	return merged
}

// writer выбирает сторону, чьи метаданные автора попадут в итоговую запись
func (r *Resolver) writer(c *Case) *models.Record {
	if c.winner != "" {
		return c.side(c.winner)
	}
	lr, rr := c.Local.WriterRole.Rank(), c.Remote.WriterRole.Rank()
	switch {
	case lr > rr:
		return c.Local
	case rr > lr:
		return c.Remote
	case c.Local.IsNewerThan(c.Remote):
		return c.Local
	default:
		return c.Remote
	}
}

// ApplyChoice строит запись по ручному решению пользователя.
// Для keep_remote и accept_merge конфликт должен содержать соответствующую версию.
func (r *Resolver) ApplyChoice(cc *models.ConflictCase, choice models.Choice) (*models.Record, []models.FieldDecision, error) {
	strategy, ok := choice.Strategy()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownChoice, choice)
	}
	if cc.Local == nil {
		return nil, nil, fmt.Errorf("conflict %s has no local version", cc.ID)
	}

	var (
		chosen *models.Record
		side   models.Side
	)
	switch choice {
	case models.ChoiceKeepLocal:
		chosen, side = cc.Local, models.SideLocal
	case models.ChoiceKeepRemote:
		if cc.Remote == nil {
			return nil, nil, ErrMissingRemote
		}
		chosen, side = cc.Remote, models.SideRemote
	case models.ChoiceAcceptMerge:
		if cc.Merged == nil {
			return nil, nil, ErrMissingMerge
		}
		chosen, side = cc.Merged, models.SideBoth
	}

	result := chosen.Clone()
	result.ID = cc.Local.ID
	result.VersionVector = cc.Local.VersionVector.Clone()
	result.BaseFieldTimes = cloneTimes(cc.Local.BaseFieldTimes)
	result.RemoteVersion = cc.Local.RemoteVersion.Clone()
	if cc.Remote != nil {
		result.VersionVector = result.VersionVector.Merge(cc.Remote.VersionVector)
		result.RemoteVersion = cc.Remote.VersionVector.Clone()
		result.BaseFieldTimes = cloneTimes(cc.Remote.FieldWriteTimes)
	}
	result.SyncStatus = models.SyncStatusPending
	result.LastError = ""

	fields := unionFields(cc.Local, chosen)
	decisions := make([]models.FieldDecision, 0, len(fields))
	for _, f := range fields {
		decisions = append(decisions, models.FieldDecision{
			Field:    f,
			Chosen:   side,
			Policy:   strategy,
			Reason:   "user choice",
			Value:    chosen.Fields[f],
			Previous: cc.Local.Fields[f],
		})
	}

	return result, decisions, nil
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func cloneTimes(in map[string]time.Time) map[string]time.Time {
	if in == nil {
		return nil
	}
	out := make(map[string]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

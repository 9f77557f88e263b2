package audit

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"github.com/iudanet/scorekeeper/internal/models"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func record(device string, role models.Role, fields map[string]any) *models.Record {
	return &models.Record{
		Fields:         fields,
		WriterDeviceID: device,
		WriterRole:     role,
	}
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestExplain(t *testing.T) {
	tests := []struct {
		entry *models.ResolutionLogEntry
		name  string
	}{
		{
			name: "explain_role_override",
			entry: &models.ResolutionLogEntry{
				Timestamp: t0.Add(5 * time.Second),
				RecordID:  "r1-p1-h2",
				Strategy:  models.StrategyRoleOverride,
				Local:     record("device-A", models.RoleRecorder, map[string]any{"strokes": 6.0}),
				Remote:    record("device-C", models.RoleOfficial, map[string]any{"strokes": 5.0}),
				Resolved:  record("device-C", models.RoleOfficial, map[string]any{"strokes": 5.0}),
				Decisions: []models.FieldDecision{
					{Field: "strokes", Chosen: models.SideRemote, Policy: models.StrategyRoleOverride, Reason: "official edit takes precedence", Value: 5.0, Previous: 6.0},
				},
			},
		},
		{
			name: "explain_manual_merge",
			entry: &models.ResolutionLogEntry{
				Timestamp:     t0.Add(90 * time.Minute),
				RecordID:      "r1-p3-h7",
				Strategy:      models.StrategyManualAcceptMerge,
				UserConfirmed: true,
				Local: record("device-A", models.RoleRecorder, map[string]any{
					"notes": "windy", "penalties": 1.0, "player_id": "p3", "putts": 2.0, "strokes": 4.0,
				}),
				Remote: record("device-B", models.RoleRecorder, map[string]any{
					"player_id": "p3", "putts": 1.0, "strokes": 4.0,
				}),
				Resolved: record("device-A", models.RoleRecorder, map[string]any{
					"penalties": 1.0, "player_id": "p3", "putts": 1.0, "strokes": 4.0,
				}),
				Decisions: []models.FieldDecision{
					{Field: "putts", Chosen: models.SideRemote, Policy: models.StrategyFieldMerge, Reason: "newer write", Value: 1.0, Previous: 2.0},
					{Field: "penalties", Chosen: models.SideLocal, Policy: models.StrategyFieldMerge, Value: 1.0},
					{Field: "strokes", Chosen: models.SideBoth, Policy: models.StrategyFieldMerge, Value: 4.0},
					{Field: "notes", Chosen: models.SideRemote, Policy: models.StrategyFieldMerge, Reason: "deleted remotely", Value: nil, Previous: "windy"},
				},
			},
		},
	}

	g := newGoldie(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, []byte(Explain(tt.entry)))
		})
	}
}

func TestExplainConflict(t *testing.T) {
	tests := []struct {
		cc   *models.ConflictCase
		name string
	}{
		{
			name: "conflict_both_invalid",
			cc: &models.ConflictCase{
				ID:                "c-1",
				RecordID:          "r1-p1-h1",
				Reason:            models.ReasonBothInvalid,
				DetectedAt:        t0.Add(time.Minute),
				Outcome:           models.OutcomeNeedsManualResolution,
				ConflictingFields: []string{"putts", "strokes"},
				Local:             record("device-A", models.RoleRecorder, map[string]any{"putts": 6.0, "strokes": 4.0}),
				Remote:            record("device-B", models.RoleRecorder, map[string]any{"putts": 2.0, "strokes": 1.0}),
			},
		},
		{
			name: "conflict_push_rejected",
			cc: &models.ConflictCase{
				ID:         "c-2",
				RecordID:   "r1-p1-h3",
				Reason:     models.ReasonPushRejected,
				DetectedAt: t0.Add(2 * time.Minute),
				Outcome:    models.OutcomeNeedsManualResolution,
				Local:      record("cart-x", models.RoleOfficial, map[string]any{"strokes": 2.0}),
			},
		},
	}

	g := newGoldie(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, []byte(ExplainConflict(tt.cc)))
		})
	}
}

func TestFormatFields(t *testing.T) {
	tests := []struct {
		fields map[string]any
		name   string
		want   string
	}{
		{name: "empty", fields: nil, want: "{}"},
		{name: "sorted", fields: map[string]any{"strokes": 5.0, "putts": 2.0}, want: "putts=2, strokes=5"},
		{name: "mixed", fields: map[string]any{"player_id": "p1", "dq": true, "gone": nil}, want: `dq=true, gone=(deleted), player_id="p1"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatFields(tt.fields))
		})
	}
}

package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func TestDetect_Ordering(t *testing.T) {
	tests := []struct {
		name   string
		local  crdt.VersionVector
		remote crdt.VersionVector
		want   crdt.Ordering
	}{
		{name: "equal", local: crdt.VersionVector{"A": 1}, remote: crdt.VersionVector{"A": 1}, want: crdt.Equal},
		{name: "local dominates", local: crdt.VersionVector{"A": 2, "B": 1}, remote: crdt.VersionVector{"A": 1, "B": 1}, want: crdt.After},
		{name: "remote dominates", local: crdt.VersionVector{"A": 1}, remote: crdt.VersionVector{"A": 1, "B": 1}, want: crdt.Before},
		{name: "concurrent", local: crdt.VersionVector{"A": 2}, remote: crdt.VersionVector{"A": 1, "B": 1}, want: crdt.Concurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := &models.Record{ID: "r", VersionVector: tt.local, Fields: map[string]any{"strokes": 4.0}}
			remote := &models.Record{ID: "r", VersionVector: tt.remote, Fields: map[string]any{"strokes": 5.0}}

			d := Detect(local, remote)
			assert.Equal(t, tt.want, d.Ordering)
			assert.Equal(t, tt.want == crdt.Concurrent, d.Concurrent())
			if !d.Concurrent() {
				assert.Nil(t, d.Fields, "fields are classified only for concurrent versions")
			}
		})
	}
}

func TestDetect_ClassifiesFields(t *testing.T) {
	base := map[string]time.Time{"strokes": at(0), "putts": at(0), "hole": at(0)}

	local := &models.Record{
		ID:              "r",
		VersionVector:   crdt.VersionVector{"A": 2, "B": 1},
		Fields:          map[string]any{"strokes": 4.0, "putts": 2.0, "hole": 7.0, "penalties": 1.0, "player_id": "p1"},
		FieldWriteTimes: map[string]time.Time{"strokes": at(5), "putts": at(6), "hole": at(0), "penalties": at(7), "player_id": at(8)},
		BaseFieldTimes:  base,
	}
	remote := &models.Record{
		ID:              "r",
		VersionVector:   crdt.VersionVector{"A": 1, "B": 2},
		Fields:          map[string]any{"strokes": 5.0, "putts": 2, "hole": 7.0, "player_id": "p1"},
		FieldWriteTimes: map[string]time.Time{"strokes": at(4), "putts": at(3), "hole": at(0), "player_id": at(9)},
	}

	d := Detect(local, remote)
	require.True(t, d.Concurrent())
	assert.True(t, d.FieldResolvable)

	assert.Equal(t, map[string]FieldClass{
		"hole":      FieldUntouched,
		"penalties": FieldLocalOnly,
		"player_id": FieldSame,
		"putts":     FieldSame, // 2 и 2.0 - одно значение
		"strokes":   FieldConflict,
	}, d.Fields)
	assert.Equal(t, []string{"strokes"}, d.ConflictingFields)
}

func TestDetect_RemoteOnly(t *testing.T) {
	local := &models.Record{
		VersionVector:   crdt.VersionVector{"A": 2},
		Fields:          map[string]any{"strokes": 4.0},
		FieldWriteTimes: map[string]time.Time{"strokes": at(0)},
		BaseFieldTimes:  map[string]time.Time{"strokes": at(0)},
	}
	remote := &models.Record{
		VersionVector:   crdt.VersionVector{"A": 1, "B": 1},
		Fields:          map[string]any{"strokes": 6.0},
		FieldWriteTimes: map[string]time.Time{"strokes": at(3)},
	}

	d := Detect(local, remote)
	assert.Equal(t, FieldRemoteOnly, d.Fields["strokes"])
	assert.Empty(t, d.ConflictingFields)
}

func TestDetect_NotFieldResolvable(t *testing.T) {
	local := &models.Record{
		VersionVector:   crdt.VersionVector{"A": 1},
		Fields:          map[string]any{"strokes": 4.0},
		FieldWriteTimes: map[string]time.Time{"strokes": at(1)},
	}
	remote := &models.Record{
		VersionVector: crdt.VersionVector{"B": 1},
		Fields:        map[string]any{"strokes": 5.0},
	}

	d := Detect(local, remote)
	require.True(t, d.Concurrent())
	assert.False(t, d.FieldResolvable)
}

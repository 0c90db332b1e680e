package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"tasks": KindTasks, " Issues ": KindIssues, "VISITS": KindVisits} {
		got, err := ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("partners")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestValidate_PresenceOnly(t *testing.T) {
	tests := []struct {
		name  string
		rec   Record
		field string
	}{
		{"task without id", Task{Title: "x"}, "id"},
		{"task without title", Task{ID: "t1", Title: "  "}, "title"},
		{"issue without reference", Issue{ID: "i1", Type: "late"}, "reference"},
		{"issue without type", Issue{ID: "i1", Reference: "AWB1"}, "type"},
		{"visit without partner", VisitNote{ID: "v1", VisitDate: "2026-03-01"}, "partner_name"},
		{"visit without date", VisitNote{ID: "v1", PartnerName: "Agen A"}, "visit_date"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rec.Validate()
			require.ErrorIs(t, err, ErrMissingField)
			assert.Contains(t, err.Error(), tc.field)
		})
	}

	assert.NoError(t, Task{ID: "t1", Title: "call hub"}.Validate())
	assert.NoError(t, Issue{ID: "i1", Reference: "AWB1", Type: "late"}.Validate())
	assert.NoError(t, VisitNote{ID: "v1", PartnerName: "Agen A", VisitDate: "2026-03-01"}.Validate())
}

func TestPrepare_FillsDefaultsOnlyWhenMissing(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	task := Prepare(Task{Title: "x"}, now).(Task)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, now, task.CreatedAt)
	assert.Equal(t, CategoryToday, task.Category)
	assert.Equal(t, PriorityP3, task.Priority)
	assert.Equal(t, TaskOpen, task.Status)

	kept := Prepare(Task{ID: "t1", Title: "x", Status: TaskClosed, Priority: PriorityP1}, now).(Task)
	assert.Equal(t, "t1", kept.ID)
	assert.Equal(t, TaskClosed, kept.Status)
	assert.Equal(t, PriorityP1, kept.Priority)

	issue := Prepare(Issue{Reference: "AWB1", Type: "late"}, now).(Issue)
	assert.NotEmpty(t, issue.ID)
	assert.Equal(t, IssueOpen, issue.Status)
	assert.Equal(t, now, issue.CreatedAt)

	visit := Prepare(VisitNote{PartnerName: "Agen A"}, now).(VisitNote)
	assert.NotEmpty(t, visit.ID)
}

func TestIssue_FeedsClassifier(t *testing.T) {
	old := Issue{ID: "i1", Status: IssueOpen, CreatedAt: time.Now().Add(-48 * time.Hour)}
	assert.True(t, old.SLA().Breached)

	done := old
	done.Status = IssueDone
	assert.Equal(t, "Solved", done.SLA().Label)
}

func TestRecordTags_IDMapsToMongoKey(t *testing.T) {
	b, err := bson.Marshal(Task{ID: "t1", Title: "x"})
	require.NoError(t, err)
	var doc bson.M
	require.NoError(t, bson.Unmarshal(b, &doc))
	assert.Equal(t, "t1", doc["_id"])
	assert.NotContains(t, doc, "id")

	j, err := json.Marshal(Issue{ID: "i1", SOPRef: "SOP-7"})
	require.NoError(t, err)
	assert.Contains(t, string(j), `"sop_ref":"SOP-7"`)
}

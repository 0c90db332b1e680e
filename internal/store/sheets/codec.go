package sheets

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/fieldops-backend/internal/domain"
)

// Sheet titles, one per synced collection.
const (
	SheetTasks  = "Tasks"
	SheetIssues = "Issues"
	SheetVisits = "Visits"
)

// Column layouts. Rows map to records by position, never by header text, so
// these orders must not change without migrating existing spreadsheets.
var (
	TaskColumns = []string{
		"id", "title", "description", "created_at", "deadline",
		"category", "priority", "status", "division", "notes",
	}
	IssueColumns = []string{
		"id", "reference", "type", "opcode", "sop_ref",
		"chronology", "division", "status", "created_at", "screenshot",
	}
	VisitColumns = []string{
		"id", "partner_name", "partner_nia", "visit_date", "findings",
		"operational_issues", "suggestions", "summary", "plan_date",
		"completed", "map_link", "latitude", "longitude",
	}
)

// codec maps one record kind to and from a spreadsheet row.
type codec[T domain.Record] struct {
	sheet   string
	columns []string
	encode  func(T) []any
	decode  func(row) T
}

// lastColumn is the A1 letter of the final column.
func (c codec[T]) lastColumn() string { return columnLetter(len(c.columns)) }

// dataRange covers every data row (row 2 down).
func (c codec[T]) dataRange() string {
	return fmt.Sprintf("%s!A2:%s", c.sheet, c.lastColumn())
}

// headerRange covers the header row.
func (c codec[T]) headerRange() string {
	return fmt.Sprintf("%s!A1:%s1", c.sheet, c.lastColumn())
}

// tableRange is the append target; the API finds the end of the table.
func (c codec[T]) tableRange() string {
	return fmt.Sprintf("%s!A1:%s", c.sheet, c.lastColumn())
}

// rowRange covers one sheet row (1-based).
func (c codec[T]) rowRange(n int) string {
	return fmt.Sprintf("%s!A%d:%s%d", c.sheet, n, c.lastColumn(), n)
}

// blockRange covers rows 2..n+1, for writing n data rows back.
func (c codec[T]) blockRange(n int) string {
	return fmt.Sprintf("%s!A2:%s%d", c.sheet, c.lastColumn(), n+1)
}

func (c codec[T]) header() []any {
	out := make([]any, len(c.columns))
	for i, h := range c.columns {
		out[i] = h
	}
	return out
}

func columnLetter(n int) string {
	s := ""
	for n > 0 {
		n--
		s = string(rune('A'+n%26)) + s
		n /= 26
	}
	return s
}

// row is one raw spreadsheet row. Trailing empty cells are omitted by the
// API, so every accessor tolerates short rows.
type row []any

func (r row) str(i int) string {
	if i >= len(r) || r[i] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(r[i]))
}

func (r row) timeAt(i int) time.Time {
	t, err := time.Parse(time.RFC3339, r.str(i))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (r row) boolAt(i int) bool {
	b, _ := strconv.ParseBool(r.str(i))
	return b
}

func (r row) floatAt(i int) *float64 {
	s := r.str(i)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

var taskCodec = codec[domain.Task]{
	sheet:   SheetTasks,
	columns: TaskColumns,
	encode: func(t domain.Task) []any {
		return []any{
			t.ID, t.Title, t.Description, formatTime(t.CreatedAt), t.Deadline,
			string(t.Category), string(t.Priority), string(t.Status), t.Division, t.Notes,
		}
	},
	decode: func(r row) domain.Task {
		return domain.Task{
			ID:          r.str(0),
			Title:       r.str(1),
			Description: r.str(2),
			CreatedAt:   r.timeAt(3),
			Deadline:    r.str(4),
			Category:    domain.TaskCategory(r.str(5)),
			Priority:    domain.Priority(r.str(6)),
			Status:      domain.TaskStatus(r.str(7)),
			Division:    r.str(8),
			Notes:       r.str(9),
		}
	},
}

var issueCodec = codec[domain.Issue]{
	sheet:   SheetIssues,
	columns: IssueColumns,
	encode: func(i domain.Issue) []any {
		return []any{
			i.ID, i.Reference, i.Type, i.OpCode, i.SOPRef,
			i.Chronology, i.Division, string(i.Status), formatTime(i.CreatedAt), i.ScreenshotURL,
		}
	},
	decode: func(r row) domain.Issue {
		return domain.Issue{
			ID:            r.str(0),
			Reference:     r.str(1),
			Type:          r.str(2),
			OpCode:        r.str(3),
			SOPRef:        r.str(4),
			Chronology:    r.str(5),
			Division:      r.str(6),
			Status:        domain.IssueStatus(r.str(7)),
			CreatedAt:     r.timeAt(8),
			ScreenshotURL: r.str(9),
		}
	},
}

var visitCodec = codec[domain.VisitNote]{
	sheet:   SheetVisits,
	columns: VisitColumns,
	encode: func(v domain.VisitNote) []any {
		return []any{
			v.ID, v.PartnerName, v.PartnerNIA, v.VisitDate, v.Findings,
			v.OperationalIssues, v.Suggestions, v.Summary, v.PlanDate,
			formatBool(v.Completed), v.MapLink, formatFloat(v.Latitude), formatFloat(v.Longitude),
		}
	},
	decode: func(r row) domain.VisitNote {
		return domain.VisitNote{
			ID:                r.str(0),
			PartnerName:       r.str(1),
			PartnerNIA:        r.str(2),
			VisitDate:         r.str(3),
			Findings:          r.str(4),
			OperationalIssues: r.str(5),
			Suggestions:       r.str(6),
			Summary:           r.str(7),
			PlanDate:          r.str(8),
			Completed:         r.boolAt(9),
			MapLink:           r.str(10),
			Latitude:          r.floatAt(11),
			Longitude:         r.floatAt(12),
		}
	},
}

package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/tbourn/fieldops-backend/internal/classify"
	"github.com/tbourn/fieldops-backend/internal/domain"
)

// Dashboard is the landing-page summary.
type Dashboard struct {
	GeneratedAt    time.Time                   `json:"generated_at"`
	OpenTasks      map[domain.TaskCategory]int `json:"open_tasks"`
	Issues         classify.Summary            `json:"issues"`
	OverdueIssues  []IssueView                 `json:"overdue_issues"`
	PartnerHealth  map[classify.Health]int     `json:"partner_health"`
	PartnersAtRisk int                         `json:"partners_at_risk"`
	Visits         VisitSummary                `json:"visits"`
	Feedback       FeedbackTotals              `json:"feedback"`
	Sync           SyncState                   `json:"sync"`
}

// VisitSummary counts planned and completed partner visits.
type VisitSummary struct {
	Planned   int `json:"planned"`
	Completed int `json:"completed"`
}

// DashboardService assembles Dashboard from the other services.
type DashboardService struct {
	Records  *RecordService
	Partners *PartnerService
	Feedback *FeedbackService
}

// Summary builds the dashboard as of the record service clock. Closed tasks
// are not counted.
func (s *DashboardService) Summary(ctx context.Context) (*Dashboard, error) {
	ctx, span := otel.Tracer("services/DashboardService").Start(ctx, "Summary")
	defer span.End()

	now := s.Records.now()
	snap := s.Records.Sync.Snapshot()

	d := &Dashboard{
		GeneratedAt: now.UTC(),
		OpenTasks: map[domain.TaskCategory]int{
			domain.CategoryToday:         0,
			domain.CategoryThisWeek:      0,
			domain.CategoryWaitingUpdate: 0,
		},
		Issues:        classify.Summarize(snap.Issues, now),
		OverdueIssues: issueViews(classify.OverdueSet(snap.Issues, now), now),
		Sync:          s.Records.State(),
	}
	for _, t := range snap.Tasks {
		if t.Status == domain.TaskClosed {
			continue
		}
		d.OpenTasks[t.Category]++
	}
	for _, v := range snap.Visits {
		if v.Completed {
			d.Visits.Completed++
		} else {
			d.Visits.Planned++
		}
	}

	health, err := s.Partners.Health(ctx)
	if err != nil {
		return nil, err
	}
	d.PartnerHealth = health
	d.PartnersAtRisk = health[classify.AtRisk]

	if s.Feedback != nil {
		if d.Feedback, err = s.Feedback.Totals(ctx); err != nil {
			return nil, err
		}
	}
	return d, nil
}

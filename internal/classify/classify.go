// Package classify holds the time- and volume-based rules that drive the
// dashboard's urgency indicators: the 24-hour SLA window for issues and the
// growth/stagnant/at-risk trend for partners.
//
// Every function here is pure arithmetic over its inputs and never fails.
// Results are not cached; callers re-evaluate on every read so labels track
// the wall clock.
package classify

import (
	"fmt"
	"time"
)

// SLAWindow is the resolution window before an unresolved issue is breached.
const SLAWindow = 24 * time.Hour

// StatusDone is the issue status that suppresses SLA evaluation.
const StatusDone = "DONE"

// SLA is the evaluated service-level state of one issue.
type SLA struct {
	Breached bool   `json:"breached"`
	Label    string `json:"label"`
}

// Health is a partner's trend classification.
type Health string

const (
	Growth   Health = "GROWTH"
	Stagnant Health = "STAGNANT"
	AtRisk   Health = "AT_RISK"
)

// Valid reports whether h is one of the known classifications.
func (h Health) Valid() bool {
	switch h {
	case Growth, Stagnant, AtRisk:
		return true
	}
	return false
}

// SLAStatus evaluates an issue against the wall clock.
func SLAStatus(createdAt time.Time, status string) SLA {
	return SLAStatusAt(createdAt, status, time.Now())
}

// SLAStatusAt evaluates an issue created at createdAt with the given status
// as of now.
func SLAStatusAt(createdAt time.Time, status string, now time.Time) SLA {
	if status == StatusDone {
		return SLA{Breached: false, Label: "Solved"}
	}
	elapsed := now.Sub(createdAt)
	if elapsed > SLAWindow {
		return SLA{Breached: true, Label: fmt.Sprintf("Overdue %dh", max(nearestHours(elapsed-SLAWindow), 1))}
	}
	return SLA{Breached: false, Label: fmt.Sprintf("%dh left", nearestHours(SLAWindow-elapsed))}
}

// nearestHours rounds d to the nearest hour, half-up. A breach always
// reports at least one hour, so the caller clamps that branch.
func nearestHours(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + 30*time.Minute) / time.Hour)
}

// PartnerStatus classifies a partner from its current and previous monthly
// volume. The comparison is multiplicative, so prev == 0 needs no special
// case: any positive current volume is growth and zero stays stagnant.
func PartnerStatus(current, prev float64) Health {
	switch {
	case current > prev*1.1:
		return Growth
	case current < prev*0.8:
		return AtRisk
	default:
		return Stagnant
	}
}

// Timed is anything that carries an SLA anchor and a status.
type Timed interface {
	OpenedAt() time.Time
	StatusCode() string
}

// Overdue reports whether item has breached its SLA as of now.
func Overdue(item Timed, now time.Time) bool {
	return SLAStatusAt(item.OpenedAt(), item.StatusCode(), now).Breached
}

// OverdueSet returns the unresolved items whose SLA window has elapsed,
// preserving input order.
func OverdueSet[T Timed](items []T, now time.Time) []T {
	out := make([]T, 0)
	for _, it := range items {
		if Overdue(it, now) {
			out = append(out, it)
		}
	}
	return out
}

// Summary aggregates SLA state for dashboard alert badges.
type Summary struct {
	Open    int `json:"open"`
	Overdue int `json:"overdue"`
	Solved  int `json:"solved"`
}

// Summarize counts open, overdue and solved items as of now. Overdue items
// are also counted as open.
func Summarize[T Timed](items []T, now time.Time) Summary {
	var s Summary
	for _, it := range items {
		if it.StatusCode() == StatusDone {
			s.Solved++
			continue
		}
		s.Open++
		if Overdue(it, now) {
			s.Overdue++
		}
	}
	return s
}

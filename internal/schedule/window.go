// Package schedule implements the time-window model, the time-cursor
// resolver, and the batch schedule planner. Everything here is pure:
// no store access, no clocks, no side effects. The same functions back
// the UI preview, campaign creation, and live re-scheduling on resume.
package schedule

import (
	"time"

	"github.com/CesarNXT/topzap-engine/internal/domain"
)

const dateLayout = "2006-01-02"

// Window is a day's effective send window.
type Window struct {
	Start  time.Time
	End    time.Time
	Active bool
}

// ruleFor returns the override rule for the given day, if any.
func ruleFor(day time.Time, rules []domain.ScheduleRule) *domain.ScheduleRule {
	date := day.Format(dateLayout)
	for i := range rules {
		if rules[i].Date == date {
			return &rules[i]
		}
	}
	return nil
}

// EffectiveWindow resolves the send window for the calendar day containing t.
// Precedence: per-date rule override, then the working-hours default, then
// the full day 00:00-23:59.
func EffectiveWindow(t time.Time, wh domain.WorkingHours, rules []domain.ScheduleRule) Window {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())

	startMin, endMin := 0, 24*60-1
	if !wh.IsZero() {
		startMin, endMin = wh.StartMinute, wh.EndMinute
	}

	active := true
	if r := ruleFor(day, rules); r != nil {
		active = r.Active
		if r.StartMinute != nil {
			startMin = *r.StartMinute
		}
		if r.EndMinute != nil {
			endMin = *r.EndMinute
		}
	}

	return Window{
		Start:  day.Add(time.Duration(startMin) * time.Minute),
		End:    day.Add(time.Duration(endMin) * time.Minute),
		Active: active,
	}
}

// startOfNextDay returns midnight of the day after t.
func startOfNextDay(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, 1)
}

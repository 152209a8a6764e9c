package campaign

import (
	"time"

	"github.com/CesarNXT/topzap-engine/internal/domain"
)

// fullDayEnd is the last minute of a fully-open day.
const fullDayEnd = 24*60 - 1

// openTodayRule returns a rule forcing the day containing now fully open,
// mirroring "start now" semantics.
func openTodayRule(now time.Time) domain.ScheduleRule {
	start, end := 0, fullDayEnd
	return domain.ScheduleRule{
		Date:        now.Format(dateLayout),
		Active:      true,
		StartMinute: &start,
		EndMinute:   &end,
	}
}

// upsertRule replaces the rule for the same date or appends a new one.
func upsertRule(rules []domain.ScheduleRule, r domain.ScheduleRule) []domain.ScheduleRule {
	for i := range rules {
		if rules[i].Date == r.Date {
			rules[i] = r
			return rules
		}
	}
	return append(rules, r)
}

// rescheduleForResume re-assigns every still-pending item a fresh send
// instant starting from now, and rebuilds the batch aggregate map.
//
// Pending items keep their relative order (ascending scheduledAt). Batches
// that already have sent/failed activity survive with their historical
// span and stats; their pending share is carried forward to wherever the
// new cursor lands. The campaign's rules gain a fully-open rule for today
// and nextRunAt drops to now so the next tick picks the campaign up
// immediately.
func rescheduleForResume(c *domain.Campaign, pending []domain.QueueItem, now time.Time) []domain.QueueItem {
	c.Rules = upsertRule(c.Rules, openTodayRule(now))

	avgDelay := c.Speed.AvgDelay()
	cursor := nextSendSlot(now, avgDelay, c.WorkingHours, c.Rules)

	// Keep only batch history that actually happened.
	rebuilt := make(map[string]domain.Batch)
	for date, b := range c.Batches {
		done := b.Sent + b.Failed
		if done == 0 {
			continue
		}
		b.Count = done
		rebuilt[date] = b
	}

	updated := make([]domain.QueueItem, 0, len(pending))
	for _, item := range pending {
		item.ScheduledAt = cursor
		updated = append(updated, item)
		addToBatch(rebuilt, cursor)
		cursor = nextSendSlot(cursor.Add(avgDelay), avgDelay, c.WorkingHours, c.Rules)
	}

	c.Batches = rebuilt
	c.NextRunAt = now
	return updated
}

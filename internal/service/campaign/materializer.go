package campaign

import (
	"fmt"
	"time"

	"github.com/CesarNXT/topzap-engine/internal/domain"
	"github.com/CesarNXT/topzap-engine/internal/schedule"
)

const dateLayout = "2006-01-02"

// materialize assigns a send instant to every recipient and rolls the
// assignments up into per-day batch aggregates.
//
// The cursor starts at the first valid instant at or after start and
// advances by the average configured delay between recipients, re-resolving
// through the window model each step so items never land outside an active
// window. Item IDs are derived from (campaign, sequence), so re-running a
// failed materialization produces the same ids and overwrites rather than
// duplicates.
func materialize(c *domain.Campaign, recipients []domain.Recipient, start time.Time) ([]domain.QueueItem, map[string]domain.Batch, error) {
	if len(recipients) == 0 {
		return nil, nil, &ValidationError{Field: "recipients", Reason: "at least one recipient is required"}
	}

	avgDelay := c.Speed.AvgDelay()
	cursor := nextSendSlot(start, avgDelay, c.WorkingHours, c.Rules)

	items := make([]domain.QueueItem, 0, len(recipients))
	batches := make(map[string]domain.Batch)

	for seq, r := range recipients {
		item := domain.QueueItem{
			ID:          queueItemID(c.ID, seq),
			CampaignID:  c.ID,
			TenantID:    c.TenantID,
			Seq:         seq,
			Name:        r.Name,
			Phone:       r.Phone,
			Status:      domain.QueuePending,
			ScheduledAt: cursor,
		}
		items = append(items, item)
		addToBatch(batches, cursor)

		cursor = nextSendSlot(cursor.Add(avgDelay), avgDelay, c.WorkingHours, c.Rules)
	}

	return items, batches, nil
}

// nextSendSlot resolves the next instant a send may start. On top of the
// window resolution it requires the delay following the send to fit inside
// the same window, so a day holds exactly floor(available/avgDelay) sends
// and materialized counts agree with the planner's batch counts.
func nextSendSlot(at time.Time, avgDelay time.Duration, wh domain.WorkingHours, rules []domain.ScheduleRule) time.Time {
	for day := 0; day < 366; day++ {
		cursor := schedule.NextValidTime(at, wh, rules)
		w := schedule.EffectiveWindow(cursor, wh, rules)
		if !cursor.Add(avgDelay).After(w.End) {
			return cursor
		}
		at = startOfDay(cursor).AddDate(0, 0, 1)
	}
	return schedule.NextValidTime(at, wh, rules)
}

// queueItemID builds the deterministic id for a recipient's queue item.
func queueItemID(campaignID string, seq int) string {
	return fmt.Sprintf("%s-%06d", campaignID, seq)
}

// addToBatch extends the aggregate for the calendar day containing at.
func addToBatch(batches map[string]domain.Batch, at time.Time) {
	date := at.Format(dateLayout)
	b, ok := batches[date]
	if !ok {
		b = domain.Batch{
			ID:          date,
			Name:        at.Format("Jan 2, 2006"),
			ScheduledAt: at,
			EndTime:     at,
		}
	}
	if at.Before(b.ScheduledAt) {
		b.ScheduledAt = at
	}
	if at.After(b.EndTime) {
		b.EndTime = at
	}
	b.Count++
	batches[date] = b
}

package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/CesarNXT/topzap-engine/internal/domain"
)

// maxPlanDays is the hard cap on how far ahead a plan may extend.
const maxPlanDays = 365

// ErrPlanTooLong is returned when the recipients cannot be scheduled within
// a year of the start instant.
var ErrPlanTooLong = errors.New("schedule would exceed one year")

// PlannedBatch is one day's slice of a campaign plan.
type PlannedBatch struct {
	Date  string    `json:"date"` // "2006-01-02"
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int       `json:"count"`
}

// PlanSchedule partitions total recipients into day-sized batches starting
// at start, spacing sends by the average of the configured delay range and
// respecting the working-hours default plus per-date rule overrides.
//
// Each day contributes at most floor(availableSeconds/avgDelay) recipients,
// where availableSeconds runs from the (clamped) cursor to the window end.
// The cursor always advances to the next day after a batch, even when the
// day's window is not exhausted: a calendar day's batch stays contiguous
// and is never topped up later.
//
// Deterministic: same inputs, same plan. Returns ErrPlanTooLong if the plan
// would span more than a year.
func PlanSchedule(total int, speed domain.SpeedConfig, start time.Time, wh domain.WorkingHours, rules []domain.ScheduleRule) ([]PlannedBatch, error) {
	if total < 1 {
		return nil, fmt.Errorf("recipient count must be at least 1, got %d", total)
	}
	if err := speed.Validate(); err != nil {
		return nil, err
	}

	avgDelay := speed.AvgDelay()
	cursor := start
	remaining := total
	var batches []PlannedBatch

	for day := 0; day < maxPlanDays; day++ {
		if remaining == 0 {
			return batches, nil
		}

		w := EffectiveWindow(cursor, wh, rules)
		if !w.Active {
			cursor = startOfNextDay(cursor)
			continue
		}

		// Clamp the cursor into the window.
		if cursor.Before(w.Start) {
			cursor = w.Start
		}
		if cursor.After(w.End) {
			cursor = startOfNextDay(cursor)
			continue
		}

		available := w.End.Sub(cursor)
		capacity := int(available / avgDelay)
		if capacity <= 0 {
			cursor = startOfNextDay(cursor)
			continue
		}

		count := capacity
		if remaining < count {
			count = remaining
		}

		batches = append(batches, PlannedBatch{
			Date:  cursor.Format(dateLayout),
			Start: cursor,
			End:   cursor.Add(time.Duration(count) * avgDelay),
			Count: count,
		})
		remaining -= count
		cursor = startOfNextDay(cursor)
	}

	if remaining > 0 {
		return nil, ErrPlanTooLong
	}
	return batches, nil
}

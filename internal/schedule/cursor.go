package schedule

import (
	"time"

	"github.com/CesarNXT/topzap-engine/internal/domain"
)

// maxCursorDays bounds the day-walk in NextValidTime. A rule set that marks
// every day inactive would otherwise loop forever.
const maxCursorDays = 366

// NextValidTime returns the earliest instant >= t that falls inside an
// active send window.
//
// The function walks calendar days starting at t's day: inactive days are
// skipped, an instant before the window snaps to the window start, an
// instant inside the window is returned unchanged, and an instant past the
// window rolls to the next day. If no active window is found within
// maxCursorDays the last computed pointer is returned; callers must treat
// that as "no valid slot found soon" and surface it rather than schedule
// into it.
//
// NextValidTime is non-decreasing in t and idempotent for a fixed config.
func NextValidTime(t time.Time, wh domain.WorkingHours, rules []domain.ScheduleRule) time.Time {
	cursor := t
	for i := 0; i < maxCursorDays; i++ {
		w := EffectiveWindow(cursor, wh, rules)

		if !w.Active {
			cursor = startOfNextDay(cursor)
			continue
		}
		if cursor.Before(w.Start) {
			return w.Start
		}
		if !cursor.After(w.End) {
			return cursor
		}
		cursor = startOfNextDay(cursor)
	}
	return cursor
}

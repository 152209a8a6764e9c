package schedule

import (
	"testing"
	"time"

	"github.com/CesarNXT/topzap-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	speed60 = domain.SpeedConfig{MinDelaySeconds: 30, MaxDelaySeconds: 90} // avg 60s
	window  = domain.WorkingHours{StartMinute: 8 * 60, EndMinute: 18 * 60}
)

func day(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", value)
	require.NoError(t, err)
	return ts
}

func intPtr(v int) *int { return &v }

func TestNextValidTimeInsideWindow(t *testing.T) {
	at := day(t, "2026-03-02 10:30")
	got := NextValidTime(at, window, nil)
	assert.Equal(t, at, got, "instant inside the window must be returned unchanged")
}

func TestNextValidTimeBeforeWindowSnapsToStart(t *testing.T) {
	at := day(t, "2026-03-02 06:15")
	got := NextValidTime(at, window, nil)
	assert.Equal(t, day(t, "2026-03-02 08:00"), got)
}

// Start at 20:00 against an 08:00-18:00 window rolls to next day 08:00.
func TestNextValidTimeAfterWindowRollsToNextDay(t *testing.T) {
	at := day(t, "2026-03-02 20:00")
	got := NextValidTime(at, window, nil)
	assert.Equal(t, day(t, "2026-03-03 08:00"), got)
}

func TestNextValidTimeSkipsInactiveDays(t *testing.T) {
	rules := []domain.ScheduleRule{
		{Date: "2026-03-03", Active: false},
		{Date: "2026-03-04", Active: false},
	}
	at := day(t, "2026-03-02 20:00")
	got := NextValidTime(at, window, rules)
	assert.Equal(t, day(t, "2026-03-05 08:00"), got)
}

func TestNextValidTimeRuleOverridesWindow(t *testing.T) {
	rules := []domain.ScheduleRule{
		{Date: "2026-03-02", Active: true, StartMinute: intPtr(14 * 60), EndMinute: intPtr(16 * 60)},
	}
	got := NextValidTime(day(t, "2026-03-02 09:00"), window, rules)
	assert.Equal(t, day(t, "2026-03-02 14:00"), got)
}

func TestNextValidTimeNoWorkingHoursMeansFullDay(t *testing.T) {
	at := day(t, "2026-03-02 01:23")
	got := NextValidTime(at, domain.WorkingHours{}, nil)
	assert.Equal(t, at, got)
}

func TestNextValidTimeAllInactiveTerminates(t *testing.T) {
	var rules []domain.ScheduleRule
	start := day(t, "2026-03-02 08:00")
	for d := 0; d < maxCursorDays+10; d++ {
		rules = append(rules, domain.ScheduleRule{Date: start.AddDate(0, 0, d).Format("2006-01-02"), Active: false})
	}
	got := NextValidTime(start, window, rules)
	// No valid slot exists; the bounded walk returns its last pointer.
	assert.True(t, got.After(start.AddDate(0, 0, maxCursorDays-1)))
}

// NextValidTime is idempotent and non-decreasing.
func TestNextValidTimeIdempotentAndMonotone(t *testing.T) {
	rules := []domain.ScheduleRule{{Date: "2026-03-03", Active: false}}
	prev := time.Time{}
	for _, in := range []string{
		"2026-03-02 07:00", "2026-03-02 08:00", "2026-03-02 12:00",
		"2026-03-02 18:30", "2026-03-03 09:00", "2026-03-04 05:00",
	} {
		at := day(t, in)
		once := NextValidTime(at, window, rules)
		twice := NextValidTime(once, window, rules)
		assert.Equal(t, once, twice, "idempotence broken at %s", in)
		assert.False(t, once.Before(at), "result precedes input at %s", in)
		assert.False(t, once.Before(prev), "monotonicity broken at %s", in)
		prev = once
	}
}

// Batch counts sum to exactly the recipient total.
func TestPlanScheduleCoverage(t *testing.T) {
	start := day(t, "2026-03-02 08:00")
	for _, total := range []int{1, 17, 500, 600, 601, 1000, 5000} {
		plan, err := PlanSchedule(total, speed60, start, window, nil)
		require.NoError(t, err, "total=%d", total)
		sum := 0
		for _, b := range plan {
			sum += b.Count
		}
		assert.Equal(t, total, sum, "total=%d", total)
	}
}

// Each batch lies entirely within its day's effective window.
func TestPlanScheduleWindowContainment(t *testing.T) {
	plan, err := PlanSchedule(2500, speed60, day(t, "2026-03-02 11:00"), window, nil)
	require.NoError(t, err)
	for _, b := range plan {
		w := EffectiveWindow(b.Start, window, nil)
		assert.True(t, w.Active)
		assert.False(t, b.Start.Before(w.Start), "batch %s starts before window", b.Date)
		assert.False(t, b.End.After(w.End), "batch %s ends after window", b.Date)
	}
}

// 500 recipients at avg 60s in a 10h window fit in a single
// batch starting at the window start.
func TestPlanScheduleSingleBatch(t *testing.T) {
	plan, err := PlanSchedule(500, speed60, day(t, "2026-03-02 08:00"), window, nil)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, 500, plan[0].Count)
	assert.Equal(t, day(t, "2026-03-02 08:00"), plan[0].Start)
	assert.Equal(t, day(t, "2026-03-02 08:00").Add(500*time.Minute), plan[0].End)
}

// 1000 recipients overflow into day two, which starts at the
// second day's window start rather than the first day's window end.
func TestPlanScheduleOverflowsToNextDayWindowStart(t *testing.T) {
	plan, err := PlanSchedule(1000, speed60, day(t, "2026-03-02 08:00"), window, nil)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, 600, plan[0].Count)
	assert.Equal(t, 400, plan[1].Count)
	assert.Equal(t, day(t, "2026-03-03 08:00"), plan[1].Start)
}

// An inactive day never appears as a batch; its load rolls
// onto the next active day.
func TestPlanScheduleSkipsInactiveDay(t *testing.T) {
	rules := []domain.ScheduleRule{{Date: "2026-03-03", Active: false}}
	plan, err := PlanSchedule(1000, speed60, day(t, "2026-03-02 08:00"), window, rules)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "2026-03-02", plan[0].Date)
	assert.Equal(t, "2026-03-04", plan[1].Date)
	for _, b := range plan {
		assert.NotEqual(t, "2026-03-03", b.Date)
	}
}

func TestPlanScheduleStartMidWindowClampsCapacity(t *testing.T) {
	// Starting at 17:30 leaves 30 minutes: capacity 30 at avg 60s.
	plan, err := PlanSchedule(100, speed60, day(t, "2026-03-02 17:30"), window, nil)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, 30, plan[0].Count)
	assert.Equal(t, 70, plan[1].Count)
}

func TestPlanScheduleZeroCapacityDaySkipped(t *testing.T) {
	// A window shorter than one avg delay holds zero sends.
	shortRules := []domain.ScheduleRule{
		{Date: "2026-03-02", Active: true, StartMinute: intPtr(10 * 60), EndMinute: intPtr(10 * 60)},
	}
	plan, err := PlanSchedule(5, speed60, day(t, "2026-03-02 09:00"), window, shortRules)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "2026-03-03", plan[0].Date, "zero-capacity day must not emit an empty batch")
}

func TestPlanScheduleTooLong(t *testing.T) {
	// One send per day (tiny window) cannot place 400 recipients in a year.
	tiny := domain.WorkingHours{StartMinute: 10 * 60, EndMinute: 10*60 + 1}
	_, err := PlanSchedule(400, speed60, day(t, "2026-03-02 08:00"), tiny, nil)
	assert.ErrorIs(t, err, ErrPlanTooLong)
}

func TestPlanScheduleRejectsBadInput(t *testing.T) {
	_, err := PlanSchedule(0, speed60, day(t, "2026-03-02 08:00"), window, nil)
	assert.Error(t, err)

	_, err = PlanSchedule(10, domain.SpeedConfig{MinDelaySeconds: 90, MaxDelaySeconds: 30}, day(t, "2026-03-02 08:00"), window, nil)
	assert.Error(t, err)
}

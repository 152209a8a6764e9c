package domain

import (
	"fmt"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	// CampaignDeleting blocks the dispatcher while child collections are
	// being removed. A campaign never leaves this state.
	CampaignDeleting CampaignStatus = "deleting"
)

// legalTransitions is the table of allowed status changes. Every status
// write goes through CanTransition so impossible states (e.g. a completed
// campaign resuming) are rejected at the write site, not discovered later.
var legalTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignScheduled: {CampaignSending, CampaignPaused, CampaignFailed, CampaignDeleting},
	CampaignSending:   {CampaignCompleted, CampaignPaused, CampaignFailed, CampaignDeleting},
	CampaignPaused:    {CampaignSending, CampaignFailed, CampaignDeleting},
	CampaignCompleted: {CampaignDeleting},
	CampaignFailed:    {CampaignDeleting},
	CampaignDeleting:  {},
}

// CanTransition reports whether a campaign may move from one status to another.
func CanTransition(from, to CampaignStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states the dispatcher never acts on again.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignFailed || s == CampaignDeleting
}

// IsActive returns true for states the dispatch cycle considers.
func (s CampaignStatus) IsActive() bool {
	return s == CampaignScheduled || s == CampaignSending
}

// MessagePart is one unit of the campaign's message template. Parts are sent
// in order for each recipient; Body supports liquid placeholders resolved
// against the recipient ({{ name }}, {{ phone }}).
type MessagePart struct {
	Body string `json:"body" dynamodbav:"body"`
}

// SpeedConfig bounds the delay between consecutive sends of one campaign.
type SpeedConfig struct {
	MinDelaySeconds int `json:"min_delay_seconds" dynamodbav:"min_delay_seconds"`
	MaxDelaySeconds int `json:"max_delay_seconds" dynamodbav:"max_delay_seconds"`
}

// AvgDelay returns the planning delay: the midpoint of the configured range.
func (s SpeedConfig) AvgDelay() time.Duration {
	avg := float64(s.MinDelaySeconds+s.MaxDelaySeconds) / 2
	return time.Duration(avg * float64(time.Second))
}

// Validate checks the speed bounds.
func (s SpeedConfig) Validate() error {
	if s.MinDelaySeconds <= 0 {
		return fmt.Errorf("min delay must be positive, got %d", s.MinDelaySeconds)
	}
	if s.MaxDelaySeconds < s.MinDelaySeconds {
		return fmt.Errorf("max delay %d is below min delay %d", s.MaxDelaySeconds, s.MinDelaySeconds)
	}
	return nil
}

// WorkingHours is the default daily send window, as minutes since midnight.
// A zero value means no default: the full day 00:00-23:59 is open.
type WorkingHours struct {
	StartMinute int `json:"start_minute" dynamodbav:"start_minute"`
	EndMinute   int `json:"end_minute" dynamodbav:"end_minute"`
}

// IsZero reports whether no working hours are configured.
func (w WorkingHours) IsZero() bool { return w.StartMinute == 0 && w.EndMinute == 0 }

// Validate checks the window bounds.
func (w WorkingHours) Validate() error {
	if w.IsZero() {
		return nil
	}
	if w.StartMinute < 0 || w.StartMinute > 24*60-1 {
		return fmt.Errorf("window start %d out of range", w.StartMinute)
	}
	if w.EndMinute <= w.StartMinute || w.EndMinute > 24*60-1 {
		return fmt.Errorf("window end %d must be after start %d and within the day", w.EndMinute, w.StartMinute)
	}
	return nil
}

// ScheduleRule overrides the working hours for a single calendar date.
// Consumed read-only by the planner and cursor resolver; the dispatcher
// only writes rules on resume ("today fully open").
type ScheduleRule struct {
	Date        string `json:"date" dynamodbav:"date"` // "2006-01-02"
	Active      bool   `json:"active" dynamodbav:"active"`
	StartMinute *int   `json:"start_minute,omitempty" dynamodbav:"start_minute,omitempty"`
	EndMinute   *int   `json:"end_minute,omitempty" dynamodbav:"end_minute,omitempty"`
}

// CampaignStats are the aggregate progress counters for a campaign.
// Invariant: Pending + Sent + Failed == total recipients.
type CampaignStats struct {
	Pending int `json:"pending" dynamodbav:"pending"`
	Sent    int `json:"sent" dynamodbav:"sent"`
	Failed  int `json:"failed" dynamodbav:"failed"`
	Replied int `json:"replied" dynamodbav:"replied"` // written by delivery callbacks, read-only here
	Blocked int `json:"blocked" dynamodbav:"blocked"` // written by delivery callbacks, read-only here
}

// Batch is the per-calendar-day rollup of queue items.
type Batch struct {
	ID          string    `json:"id" dynamodbav:"id"` // date string "2006-01-02"
	Name        string    `json:"name" dynamodbav:"name"`
	ScheduledAt time.Time `json:"scheduled_at" dynamodbav:"scheduled_at"`
	EndTime     time.Time `json:"end_time" dynamodbav:"end_time"`
	Count       int       `json:"count" dynamodbav:"count"`
	Sent        int       `json:"sent" dynamodbav:"sent"`
	Failed      int       `json:"failed" dynamodbav:"failed"`
	Delivered   int       `json:"delivered" dynamodbav:"delivered"`
}

// Campaign is a bulk message campaign owned by a tenant.
type Campaign struct {
	ID       string `json:"id" dynamodbav:"id"`
	TenantID string `json:"tenant_id" dynamodbav:"tenant_id"`
	Name     string `json:"name" dynamodbav:"name"`

	Status   CampaignStatus `json:"status" dynamodbav:"status"`
	Template []MessagePart  `json:"template" dynamodbav:"template"`
	Speed    SpeedConfig    `json:"speed" dynamodbav:"speed"`

	WorkingHours WorkingHours   `json:"working_hours" dynamodbav:"working_hours"`
	Rules        []ScheduleRule `json:"rules" dynamodbav:"rules"`

	ScheduledAt time.Time  `json:"scheduled_at" dynamodbav:"scheduled_at"`
	NextRunAt   time.Time  `json:"next_run_at" dynamodbav:"next_run_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" dynamodbav:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty"`

	TotalRecipients int              `json:"total_recipients" dynamodbav:"total_recipients"`
	Stats           CampaignStats    `json:"stats" dynamodbav:"stats"`
	Batches         map[string]Batch `json:"batches" dynamodbav:"batches"` // keyed by date string

	LastError string `json:"last_error,omitempty" dynamodbav:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// PlannedWindow returns the campaign's occupied [start, end] interval for
// overlap checks: first batch start to last batch end. Campaigns without
// persisted batches fall back to a conservative one-hour window from
// ScheduledAt.
func (c *Campaign) PlannedWindow() (time.Time, time.Time) {
	if len(c.Batches) == 0 {
		return c.ScheduledAt, c.ScheduledAt.Add(time.Hour)
	}
	var start, end time.Time
	for _, b := range c.Batches {
		if start.IsZero() || b.ScheduledAt.Before(start) {
			start = b.ScheduledAt
		}
		if b.EndTime.After(end) {
			end = b.EndTime
		}
	}
	return start, end
}

// Package campaign implements campaign lifecycle management: creation with
// schedule planning and overlap detection, queue materialization,
// pause/resume with live rescheduling, and guarded deletion. The dispatch
// loop lives in internal/dispatch; this package owns every mutating
// operation a caller can request.
package campaign

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CesarNXT/topzap-engine/internal/domain"
	"github.com/CesarNXT/topzap-engine/internal/schedule"
)

// Service implements campaign business logic on top of a Repository.
// Safe for concurrent use if the repository is.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// SetClock overrides the service's clock. Intended for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	TenantID     string                `json:"tenant_id"`
	Name         string                `json:"name"`
	Template     []domain.MessagePart  `json:"template"`
	Recipients   []domain.Recipient    `json:"recipients"`
	Speed        domain.SpeedConfig    `json:"speed"`
	WorkingHours domain.WorkingHours   `json:"working_hours"`
	Rules        []domain.ScheduleRule `json:"rules"`
	StartNow     bool                  `json:"start_now"`
	ScheduledAt  *time.Time            `json:"scheduled_at,omitempty"`
}

func (in *CreateInput) validate() error {
	if in.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if len(in.Template) == 0 {
		return &ValidationError{Field: "template", Reason: "at least one message part is required"}
	}
	for i, p := range in.Template {
		if strings.TrimSpace(p.Body) == "" {
			return &ValidationError{Field: "template", Reason: fmt.Sprintf("part %d is empty", i)}
		}
	}
	if len(in.Recipients) == 0 {
		return &ValidationError{Field: "recipients", Reason: "at least one recipient is required"}
	}
	for i, r := range in.Recipients {
		if !strings.HasPrefix(r.Phone, "+") {
			return &ValidationError{Field: "recipients", Reason: fmt.Sprintf("recipient %d: phone must start with +", i)}
		}
	}
	if err := in.Speed.Validate(); err != nil {
		return &ValidationError{Field: "speed", Reason: err.Error()}
	}
	if err := in.WorkingHours.Validate(); err != nil {
		return &ValidationError{Field: "working_hours", Reason: err.Error()}
	}
	for _, r := range in.Rules {
		if _, err := time.Parse(dateLayout, r.Date); err != nil {
			return &ValidationError{Field: "rules", Reason: fmt.Sprintf("bad date %q", r.Date)}
		}
	}
	if !in.StartNow && in.ScheduledAt == nil {
		return &ValidationError{Field: "scheduled_at", Reason: "required unless start_now is set"}
	}
	return nil
}

// Create validates the input, plans the schedule, runs the overlap guard,
// and persists the campaign with its fully materialized queue. No write
// happens before validation and conflict detection pass.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetTenant(ctx, in.TenantID); err != nil {
		return nil, err
	}

	now := s.now()
	rules := append([]domain.ScheduleRule(nil), in.Rules...)

	start := now
	if in.StartNow {
		// Starting now overrides today's window entirely.
		rules = upsertRule(rules, openTodayRule(now))
	} else {
		start = *in.ScheduledAt
		if start.Before(now) {
			return nil, &ValidationError{Field: "scheduled_at", Reason: "must not be in the past"}
		}
		// Deferring past today blocks the intervening days so nothing can
		// slide in front of the chosen start.
		for d := startOfDay(now); d.Before(startOfDay(start)); d = d.AddDate(0, 0, 1) {
			rules = upsertRule(rules, domain.ScheduleRule{Date: d.Format(dateLayout), Active: false})
		}
	}

	plan, err := schedule.PlanSchedule(len(in.Recipients), in.Speed, start, in.WorkingHours, rules)
	if err != nil {
		return nil, &ValidationError{Field: "schedule", Reason: err.Error()}
	}
	planStart := plan[0].Start
	planEnd := plan[len(plan)-1].End

	if err := s.checkOverlap(ctx, in.TenantID, "", planStart, planEnd); err != nil {
		return nil, err
	}

	c := &domain.Campaign{
		ID:              uuid.New().String(),
		TenantID:        in.TenantID,
		Name:            in.Name,
		Status:          domain.CampaignScheduled,
		Template:        in.Template,
		Speed:           in.Speed,
		WorkingHours:    in.WorkingHours,
		Rules:           rules,
		ScheduledAt:     start,
		NextRunAt:       planStart,
		TotalRecipients: len(in.Recipients),
		Stats:           domain.CampaignStats{Pending: len(in.Recipients)},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	items, batches, err := materialize(c, in.Recipients, start)
	if err != nil {
		return nil, err
	}
	c.Batches = batches

	if err := s.repo.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	if err := s.repo.PutQueueItems(ctx, items); err != nil {
		// A partially written queue must not survive: remove it along with
		// the campaign document so the caller can retry cleanly.
		if cleanupErr := s.repo.DeleteQueue(ctx, c.TenantID, c.ID); cleanupErr != nil {
			log.Printf("[campaign.Service] cleanup of partial queue for %s failed: %v", c.ID, cleanupErr)
		}
		if cleanupErr := s.repo.DeleteCampaign(ctx, c.TenantID, c.ID); cleanupErr != nil {
			log.Printf("[campaign.Service] cleanup of campaign %s failed: %v", c.ID, cleanupErr)
		}
		return nil, fmt.Errorf("materialize queue: %w", err)
	}

	log.Printf("[campaign.Service] Campaign %s created: %d recipients across %d batches",
		c.ID, c.TotalRecipients, len(c.Batches))
	return c, nil
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	return s.repo.GetCampaign(ctx, tenantID, id)
}

// List returns all of a tenant's campaigns.
func (s *Service) List(ctx context.Context, tenantID string) ([]domain.Campaign, error) {
	return s.repo.ListCampaigns(ctx, tenantID)
}

// Pause makes a campaign invisible to the dispatch cycle. A send already in
// flight is allowed to complete; pausing only prevents future ticks from
// selecting the campaign.
func (s *Service) Pause(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	c, err := s.repo.GetCampaign(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(c.Status, domain.CampaignPaused) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, domain.CampaignPaused)
	}
	if err := s.repo.UpdateStatus(ctx, tenantID, id, c.Status, domain.CampaignPaused); err != nil {
		return nil, err
	}
	c.Status = domain.CampaignPaused
	return c, nil
}

// Resume transitions a paused campaign back to sending, rescheduling all
// still-pending items from now forward. Completed batch history is
// preserved untouched, and the overlap guard runs against the rebuilt
// window before anything is written.
func (s *Service) Resume(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	c, err := s.repo.GetCampaign(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignPaused {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, domain.CampaignSending)
	}

	pending, err := s.repo.PendingItems(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("load pending items: %w", err)
	}

	now := s.now()
	updated := rescheduleForResume(c, pending, now)

	newStart, newEnd := c.PlannedWindow()
	if err := s.checkOverlap(ctx, tenantID, id, newStart, newEnd); err != nil {
		return nil, err
	}

	if err := s.repo.RescheduleItems(ctx, updated); err != nil {
		return nil, fmt.Errorf("reschedule queue: %w", err)
	}
	if err := s.repo.ReplaceSchedule(ctx, c); err != nil {
		return nil, fmt.Errorf("persist schedule: %w", err)
	}
	if err := s.repo.UpdateStatus(ctx, tenantID, id, domain.CampaignPaused, domain.CampaignSending); err != nil {
		return nil, err
	}
	c.Status = domain.CampaignSending

	log.Printf("[campaign.Service] Campaign %s resumed: %d pending items rescheduled from %s",
		c.ID, len(updated), now.Format(time.RFC3339))
	return c, nil
}

// Delete removes a campaign and its queue. The status flips to the blocking
// deleting state first so an in-flight dispatch tick cannot act on the
// campaign mid-removal, then child items go in bounded groups, then the
// campaign document itself. A campaign already in deleting skips the flip,
// so a delete interrupted after the status write can be retried.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	c, err := s.repo.GetCampaign(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignDeleting {
		if err := s.repo.UpdateStatus(ctx, tenantID, id, c.Status, domain.CampaignDeleting); err != nil {
			return err
		}
	}
	if err := s.repo.DeleteQueue(ctx, tenantID, id); err != nil {
		return fmt.Errorf("delete queue: %w", err)
	}
	if err := s.repo.DeleteCampaign(ctx, tenantID, id); err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	log.Printf("[campaign.Service] Campaign %s deleted", id)
	return nil
}

// Plan returns the batch plan for the given parameters without any writes.
// Exposed for UI preview rendering.
func (s *Service) Plan(total int, speed domain.SpeedConfig, start time.Time, wh domain.WorkingHours, rules []domain.ScheduleRule) ([]schedule.PlannedBatch, error) {
	return schedule.PlanSchedule(total, speed, start, wh, rules)
}

// NextValidTime resolves the next send-eligible instant. Exposed for UI
// preview rendering.
func (s *Service) NextValidTime(at time.Time, wh domain.WorkingHours, rules []domain.ScheduleRule) time.Time {
	return schedule.NextValidTime(at, wh, rules)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

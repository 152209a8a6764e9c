package campaign

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrTenantNotFound    = errors.New("tenant not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports bad input shape. It is raised before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports that a candidate schedule collides with another of
// the tenant's campaigns. Raised before any write, and rendered to the
// caller with the colliding campaign and its window.
type ConflictError struct {
	CampaignID   string
	CampaignName string
	Start        time.Time
	End          time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("schedule conflicts with campaign %q (%s) running %s to %s",
		e.CampaignName, e.CampaignID,
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

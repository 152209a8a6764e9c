package campaign

import (
	"context"
	"time"
)

// Overlaps reports whether two half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect. Symmetric by construction.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// checkOverlap rejects a candidate [start,end] window that intersects any of
// the tenant's other non-terminal campaigns. excludeID skips the campaign
// being resumed so it never conflicts with itself.
func (s *Service) checkOverlap(ctx context.Context, tenantID, excludeID string, start, end time.Time) error {
	existing, err := s.repo.ListCampaigns(ctx, tenantID)
	if err != nil {
		return err
	}
	for i := range existing {
		c := &existing[i]
		if c.ID == excludeID || c.Status.IsTerminal() {
			continue
		}
		otherStart, otherEnd := c.PlannedWindow()
		if Overlaps(start, end, otherStart, otherEnd) {
			return &ConflictError{
				CampaignID:   c.ID,
				CampaignName: c.Name,
				Start:        otherStart,
				End:          otherEnd,
			}
		}
	}
	return nil
}

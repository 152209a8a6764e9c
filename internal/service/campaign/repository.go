package campaign

import (
	"context"
	"time"

	"github.com/CesarNXT/topzap-engine/internal/domain"
)

// StatsDelta carries atomic counter adjustments for a campaign and,
// optionally, for the batch identified by BatchID. Deltas are applied via
// the store's atomic increment primitive, never read-modify-write.
type StatsDelta struct {
	Pending int
	Sent    int
	Failed  int
	BatchID string
}

// Repository defines the data access contract for campaigns, queue items,
// and tenants. Implementations must be safe for concurrent use across
// tenants; the engine only requires read-after-write consistency within a
// single tenant's subtree.
type Repository interface {
	// GetTenant returns a tenant. Returns ErrTenantNotFound if it doesn't exist.
	GetTenant(ctx context.Context, id string) (*domain.Tenant, error)

	// CreateCampaign inserts a new campaign document.
	CreateCampaign(ctx context.Context, c *domain.Campaign) error

	// GetCampaign returns a single campaign. Returns ErrNotFound if it doesn't exist.
	GetCampaign(ctx context.Context, tenantID, id string) (*domain.Campaign, error)

	// ListCampaigns returns all of a tenant's campaigns, newest first.
	ListCampaigns(ctx context.Context, tenantID string) ([]domain.Campaign, error)

	// ListActiveCampaigns returns all campaigns across all tenants whose
	// status is scheduled or sending. Backed by the status index; the
	// full-scan fallback is a degraded dev-only mode.
	ListActiveCampaigns(ctx context.Context) ([]domain.Campaign, error)

	// UpdateStatus transitions a campaign's status. The write is conditional
	// on the campaign still being in from; a lost race or an illegal
	// transition returns ErrInvalidTransition.
	UpdateStatus(ctx context.Context, tenantID, id string, from, to domain.CampaignStatus) error

	// SetNextRunAt moves the campaign's dispatch cursor.
	SetNextRunAt(ctx context.Context, tenantID, id string, at time.Time) error

	// SetLastError records a descriptive error on the campaign document.
	SetLastError(ctx context.Context, tenantID, id, msg string) error

	// ReplaceSchedule persists the campaign's rules, batch map, stats and
	// nextRunAt after a resume reschedule.
	ReplaceSchedule(ctx context.Context, c *domain.Campaign) error

	// AddStats applies counter deltas atomically at campaign level and, when
	// BatchID is set, mirrored at batch level.
	AddStats(ctx context.Context, tenantID, campaignID string, d StatsDelta) error

	// PutQueueItems writes queue items in size-bounded groups. Each group is
	// an independent atomic unit; a partial failure leaves earlier groups
	// committed and is surfaced to the caller.
	PutQueueItems(ctx context.Context, items []domain.QueueItem) error

	// NextPendingItem returns the pending queue item with the smallest
	// scheduledAt, or nil if no pending items remain.
	NextPendingItem(ctx context.Context, tenantID, campaignID string) (*domain.QueueItem, error)

	// PendingItems returns all pending items in ascending scheduledAt order.
	PendingItems(ctx context.Context, tenantID, campaignID string) ([]domain.QueueItem, error)

	// MarkItemSent transitions an item to sent and records the send instant
	// and provider tracking id.
	MarkItemSent(ctx context.Context, item *domain.QueueItem, at time.Time, trackingID string) error

	// MarkItemFailed transitions an item to failed and records the error.
	MarkItemFailed(ctx context.Context, item *domain.QueueItem, at time.Time, sendErr string) error

	// RescheduleItems rewrites the scheduledAt of the given items in
	// size-bounded groups.
	RescheduleItems(ctx context.Context, items []domain.QueueItem) error

	// DeleteQueue removes all of a campaign's queue items in bounded groups.
	DeleteQueue(ctx context.Context, tenantID, campaignID string) error

	// DeleteCampaign removes the campaign document itself.
	DeleteCampaign(ctx context.Context, tenantID, id string) error
}

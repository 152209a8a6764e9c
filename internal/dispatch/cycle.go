// Package dispatch implements the periodic tick that drains campaign
// queues. Each tick is stateless: it discovers active campaigns, picks one
// per tenant, performs at most one send per tenant, and writes every
// outcome back to the store before returning. All continuity between ticks
// lives in persisted campaign state, never in memory.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/CesarNXT/topzap-engine/internal/domain"
	"github.com/CesarNXT/topzap-engine/internal/message"
	"github.com/CesarNXT/topzap-engine/internal/provider"
	"github.com/CesarNXT/topzap-engine/internal/service/campaign"
)

// rateLimitGrace is added to the tick period to form the rate-limit
// backoff, guaranteeing the campaign sits out at least one full tick.
const rateLimitGrace = 5 * time.Second

// defaultChunkSize bounds how many tenants are processed concurrently.
const defaultChunkSize = 10

// Store is the slice of the campaign repository the dispatch cycle needs.
type Store interface {
	ListActiveCampaigns(ctx context.Context) ([]domain.Campaign, error)
	GetCampaign(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
	GetTenant(ctx context.Context, id string) (*domain.Tenant, error)
	UpdateStatus(ctx context.Context, tenantID, id string, from, to domain.CampaignStatus) error
	SetNextRunAt(ctx context.Context, tenantID, id string, at time.Time) error
	SetLastError(ctx context.Context, tenantID, id, msg string) error
	NextPendingItem(ctx context.Context, tenantID, campaignID string) (*domain.QueueItem, error)
	MarkItemSent(ctx context.Context, item *domain.QueueItem, at time.Time, trackingID string) error
	MarkItemFailed(ctx context.Context, item *domain.QueueItem, at time.Time, sendErr string) error
	AddStats(ctx context.Context, tenantID, campaignID string, d campaign.StatsDelta) error
}

// Cycle executes dispatch ticks.
type Cycle struct {
	store    Store
	sender   provider.Sender
	renderer *message.Renderer
	guard    *TickGuard

	tickPeriod time.Duration
	chunkSize  int
	now        func() time.Time
	randIntn   func(n int) int
}

// NewCycle builds a dispatch cycle. guard may be nil when no tick-overlap
// protection is configured (single-worker deployments).
func NewCycle(store Store, sender provider.Sender, renderer *message.Renderer, guard *TickGuard, tickPeriod time.Duration) *Cycle {
	return &Cycle{
		store:      store,
		sender:     sender,
		renderer:   renderer,
		guard:      guard,
		tickPeriod: tickPeriod,
		chunkSize:  defaultChunkSize,
		now:        time.Now,
		randIntn:   rand.Intn,
	}
}

// SetClock overrides the cycle's clock. Intended for tests.
func (cy *Cycle) SetClock(now func() time.Time) { cy.now = now }

// SetRand overrides the jitter source. Intended for tests.
func (cy *Cycle) SetRand(randIntn func(n int) int) { cy.randIntn = randIntn }

// SetChunkSize bounds how many tenants run concurrently per tick.
func (cy *Cycle) SetChunkSize(n int) {
	if n > 0 {
		cy.chunkSize = n
	}
}

func (cy *Cycle) backoff() time.Duration {
	return cy.tickPeriod + rateLimitGrace
}

// RunTick performs one dispatch pass and returns the number of messages
// sent. Per-campaign errors are absorbed and logged; only discovery-level
// failures are returned, and those mutate nothing.
func (cy *Cycle) RunTick(ctx context.Context) (int, error) {
	if cy.guard != nil {
		ok, err := cy.guard.TryAcquire(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			log.Printf("[DispatchCycle] Previous tick still running, skipping")
			return 0, nil
		}
		defer func() {
			if err := cy.guard.Release(ctx); err != nil {
				log.Printf("[DispatchCycle] Lock release failed: %v", err)
			}
		}()
	}

	now := cy.now()
	active, err := cy.store.ListActiveCampaigns(ctx)
	if err != nil {
		log.Printf("[DispatchCycle] Discovery failed: %v", err)
		return 0, fmt.Errorf("discover active campaigns: %w", err)
	}
	if len(active) == 0 {
		return 0, nil
	}

	byTenant := make(map[string][]domain.Campaign)
	for _, c := range active {
		byTenant[c.TenantID] = append(byTenant[c.TenantID], c)
	}

	// One campaign per tenant per tick. Rotation is derived from the wall
	// clock so no cursor has to be stored: each minute a tenant's active
	// campaigns take turns in a fixed order.
	type job struct {
		tenantID   string
		campaignID string
	}
	jobs := make([]job, 0, len(byTenant))
	for tenantID, list := range byTenant {
		sort.Slice(list, func(i, j int) bool {
			if list[i].CreatedAt.Equal(list[j].CreatedAt) {
				return list[i].ID < list[j].ID
			}
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		})
		pick := list[now.Minute()%len(list)]
		jobs = append(jobs, job{tenantID: tenantID, campaignID: pick.ID})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].tenantID < jobs[j].tenantID })

	var sent atomic.Int64
	for start := 0; start < len(jobs); start += cy.chunkSize {
		end := start + cy.chunkSize
		if end > len(jobs) {
			end = len(jobs)
		}
		var wg sync.WaitGroup
		for _, j := range jobs[start:end] {
			wg.Add(1)
			go func(j job) {
				defer wg.Done()
				if cy.processCampaign(ctx, now, j.tenantID, j.campaignID) {
					sent.Add(1)
				}
			}(j)
		}
		wg.Wait()
	}

	if n := sent.Load(); n > 0 {
		log.Printf("[DispatchCycle] Tick complete: %d message(s) sent across %d tenant(s)", n, len(jobs))
	}
	return int(sent.Load()), nil
}

// processCampaign performs at most one send for the given campaign.
// Returns true when a message went out.
func (cy *Cycle) processCampaign(ctx context.Context, now time.Time, tenantID, campaignID string) bool {
	// Re-fetch for freshness: the campaign may have been paused or deleted
	// between discovery and now, and a stale read must not produce a send.
	c, err := cy.store.GetCampaign(ctx, tenantID, campaignID)
	if err != nil {
		if !errors.Is(err, campaign.ErrNotFound) {
			log.Printf("[DispatchCycle] Campaign %s refresh failed: %v", campaignID, err)
		}
		return false
	}
	if !c.Status.IsActive() {
		return false
	}
	if now.Before(c.NextRunAt) {
		return false
	}

	tenant, err := cy.store.GetTenant(ctx, tenantID)
	if err != nil {
		log.Printf("[DispatchCycle] Tenant %s lookup failed: %v", tenantID, err)
		return false
	}
	if tenant.ProviderCredential == "" {
		cy.failCampaign(ctx, c, "tenant has no provider credential configured")
		return false
	}

	item, err := cy.store.NextPendingItem(ctx, tenantID, campaignID)
	if err != nil {
		log.Printf("[DispatchCycle] Campaign %s queue read failed: %v", campaignID, err)
		return false
	}
	if item == nil {
		if err := cy.store.UpdateStatus(ctx, tenantID, campaignID, c.Status, domain.CampaignCompleted); err != nil {
			log.Printf("[DispatchCycle] Campaign %s completion failed: %v", campaignID, err)
			return false
		}
		log.Printf("[DispatchCycle] Campaign %s completed: queue drained", campaignID)
		return false
	}
	if item.ScheduledAt.After(now) {
		// Next item belongs to a later window; park the campaign until then.
		if err := cy.store.SetNextRunAt(ctx, tenantID, campaignID, item.ScheduledAt); err != nil {
			log.Printf("[DispatchCycle] Campaign %s park failed: %v", campaignID, err)
		}
		return false
	}

	if c.Status == domain.CampaignScheduled {
		if err := cy.store.UpdateStatus(ctx, tenantID, campaignID, domain.CampaignScheduled, domain.CampaignSending); err != nil {
			// Lost a race with a pause or delete; leave the item untouched.
			log.Printf("[DispatchCycle] Campaign %s start skipped: %v", campaignID, err)
			return false
		}
		c.Status = domain.CampaignSending
	}

	return cy.sendItem(ctx, now, c, tenant, item)
}

// sendItem renders and sends every message part for one queue item and
// records the outcome.
func (cy *Cycle) sendItem(ctx context.Context, now time.Time, c *domain.Campaign, tenant *domain.Tenant, item *domain.QueueItem) bool {
	batchID := item.ScheduledAt.Format("2006-01-02")

	bodies, err := cy.renderer.RenderAll(c.Template, item.Name, item.Phone)
	if err != nil {
		cy.recordFailure(ctx, now, c, item, batchID, fmt.Sprintf("render: %v", err))
		return false
	}

	trackingID := uuid.New().String()
	for _, body := range bodies {
		err := cy.sender.Send(ctx, tenant.ProviderCredential, provider.Message{
			Phone:      item.Phone,
			Body:       body,
			TrackingID: trackingID,
		})
		if err == nil {
			continue
		}
		if errors.Is(err, provider.ErrRateLimited) {
			// Leave the item pending; the campaign sits out longer than one
			// tick so the provider can recover.
			next := now.Add(cy.backoff())
			if err := cy.store.SetNextRunAt(ctx, c.TenantID, c.ID, next); err != nil {
				log.Printf("[DispatchCycle] Campaign %s backoff write failed: %v", c.ID, err)
			}
			log.Printf("[DispatchCycle] Campaign %s rate limited, backing off until %s",
				c.ID, next.Format(time.RFC3339))
			return false
		}
		cy.recordFailure(ctx, now, c, item, batchID, err.Error())
		return false
	}

	if err := cy.store.MarkItemSent(ctx, item, now, trackingID); err != nil {
		log.Printf("[DispatchCycle] Item %s sent-mark failed: %v", item.ID, err)
		return false
	}
	if err := cy.store.AddStats(ctx, c.TenantID, c.ID, campaign.StatsDelta{Pending: -1, Sent: 1, BatchID: batchID}); err != nil {
		log.Printf("[DispatchCycle] Campaign %s stats update failed: %v", c.ID, err)
	}
	cy.rescheduleSelf(ctx, now, c)
	return true
}

// recordFailure marks one item failed and keeps the campaign moving; a bad
// recipient never halts the queue.
func (cy *Cycle) recordFailure(ctx context.Context, now time.Time, c *domain.Campaign, item *domain.QueueItem, batchID, sendErr string) {
	if err := cy.store.MarkItemFailed(ctx, item, now, sendErr); err != nil {
		log.Printf("[DispatchCycle] Item %s failed-mark failed: %v", item.ID, err)
		return
	}
	if err := cy.store.AddStats(ctx, c.TenantID, c.ID, campaign.StatsDelta{Pending: -1, Failed: 1, BatchID: batchID}); err != nil {
		log.Printf("[DispatchCycle] Campaign %s stats update failed: %v", c.ID, err)
	}
	log.Printf("[DispatchCycle] Item %s failed: %s", item.ID, sendErr)
	cy.rescheduleSelf(ctx, now, c)
}

// rescheduleSelf moves the campaign's nextRunAt forward by a random delay
// within the configured speed range, so campaigns never send in lockstep.
func (cy *Cycle) rescheduleSelf(ctx context.Context, now time.Time, c *domain.Campaign) {
	min, max := c.Speed.MinDelaySeconds, c.Speed.MaxDelaySeconds
	delay := time.Duration(min) * time.Second
	if max > min {
		delay = time.Duration(min+cy.randIntn(max-min+1)) * time.Second
	}
	if err := cy.store.SetNextRunAt(ctx, c.TenantID, c.ID, now.Add(delay)); err != nil {
		log.Printf("[DispatchCycle] Campaign %s reschedule failed: %v", c.ID, err)
	}
}

// failCampaign moves a campaign to the terminal failed state with a
// descriptive error for the UI.
func (cy *Cycle) failCampaign(ctx context.Context, c *domain.Campaign, reason string) {
	if err := cy.store.SetLastError(ctx, c.TenantID, c.ID, reason); err != nil {
		log.Printf("[DispatchCycle] Campaign %s error write failed: %v", c.ID, err)
	}
	if err := cy.store.UpdateStatus(ctx, c.TenantID, c.ID, c.Status, domain.CampaignFailed); err != nil {
		log.Printf("[DispatchCycle] Campaign %s fail transition failed: %v", c.ID, err)
		return
	}
	log.Printf("[DispatchCycle] Campaign %s failed: %s", c.ID, reason)
}

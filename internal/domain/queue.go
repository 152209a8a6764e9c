package domain

import "time"

// QueueItemStatus enumerates the lifecycle of a single queued message.
type QueueItemStatus string

const (
	QueuePending QueueItemStatus = "pending"
	QueueSent    QueueItemStatus = "sent"
	QueueFailed  QueueItemStatus = "failed"
)

// QueueItem is one recipient's slot in a campaign's send queue. Exactly one
// item exists per recipient per campaign; the item ID is derived
// deterministically from (campaign, sequence) so materialization retries
// are idempotent.
type QueueItem struct {
	ID         string `json:"id" dynamodbav:"id"`
	CampaignID string `json:"campaign_id" dynamodbav:"campaign_id"`
	TenantID   string `json:"tenant_id" dynamodbav:"tenant_id"`

	// Seq is the recipient's position in creation order. ScheduledAt values
	// are non-decreasing in Seq.
	Seq   int    `json:"seq" dynamodbav:"seq"`
	Name  string `json:"name" dynamodbav:"name"`
	Phone string `json:"phone" dynamodbav:"phone"`

	Status      QueueItemStatus `json:"status" dynamodbav:"status"`
	ScheduledAt time.Time       `json:"scheduled_at" dynamodbav:"scheduled_at"`
	SentAt      *time.Time      `json:"sent_at,omitempty" dynamodbav:"sent_at,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty" dynamodbav:"failed_at,omitempty"`
	Error       string          `json:"error,omitempty" dynamodbav:"error,omitempty"`

	// TrackingID correlates this item with provider-side delivery callbacks.
	TrackingID string `json:"tracking_id,omitempty" dynamodbav:"tracking_id,omitempty"`
}

// Recipient is the input shape for campaign creation.
type Recipient struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Tenant is an account on whose behalf campaigns run. The provider
// credential lives here; a tenant without one cannot send.
type Tenant struct {
	ID                 string    `json:"id" dynamodbav:"id"`
	Name               string    `json:"name" dynamodbav:"name"`
	ProviderCredential string    `json:"provider_credential,omitempty" dynamodbav:"provider_credential,omitempty"`
	CreatedAt          time.Time `json:"created_at" dynamodbav:"created_at"`
}

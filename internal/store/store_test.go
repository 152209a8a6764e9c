package store

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CesarNXT/topzap-engine/internal/domain"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "TENANT#t1", tenantPK("t1"))
	assert.Equal(t, "CAMPAIGN#c1", campaignSK("c1"))
	assert.Equal(t, "QUEUE#c1#c1-000042", queueSK("c1", "c1-000042"))
	assert.Equal(t, "STATUS#sending", statusPK("sending"))
}

func TestQueueSortKeyFollowsSequence(t *testing.T) {
	// Item ids zero-pad the sequence, so lexicographic sort-key order is
	// send order. The dispatcher relies on this for its single-item query.
	keys := []string{
		queueSK("c1", fmt.Sprintf("c1-%06d", 100)),
		queueSK("c1", fmt.Sprintf("c1-%06d", 2)),
		queueSK("c1", fmt.Sprintf("c1-%06d", 11)),
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	assert.Equal(t, []string{keys[1], keys[2], keys[0]}, sorted)
}

func TestCampaignRecordRoundTrip(t *testing.T) {
	next := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c := domain.Campaign{
		ID:       "c1",
		TenantID: "t1",
		Name:     "March promo",
		Status:   domain.CampaignSending,
		Template: []domain.MessagePart{{Body: "Hi {{ name }}"}},
		Speed:    domain.SpeedConfig{MinDelaySeconds: 30, MaxDelaySeconds: 90},
		Rules: []domain.ScheduleRule{
			{Date: "2026-03-03", Active: false},
		},
		NextRunAt:       next,
		TotalRecipients: 10,
		Stats:           domain.CampaignStats{Pending: 7, Sent: 2, Failed: 1},
		Batches: map[string]domain.Batch{
			"2026-03-02": {ID: "2026-03-02", Count: 10, ScheduledAt: next, EndTime: next.Add(time.Hour)},
		},
	}

	av, err := attributevalue.MarshalMap(newCampaignRecord(&c))
	require.NoError(t, err)

	var rec campaignRecord
	require.NoError(t, attributevalue.UnmarshalMap(av, &rec))

	assert.Equal(t, "TENANT#t1", rec.PK)
	assert.Equal(t, "CAMPAIGN#c1", rec.SK)
	assert.Equal(t, "STATUS#sending", rec.GSI1PK)
	assert.Equal(t, c.Stats, rec.Stats)
	assert.Equal(t, c.Rules, rec.Rules)
	assert.True(t, rec.NextRunAt.Equal(c.NextRunAt))
	assert.Equal(t, 10, rec.Batches["2026-03-02"].Count)
}

func TestQueueRecordRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	it := domain.QueueItem{
		ID:          "c1-000000",
		CampaignID:  "c1",
		TenantID:    "t1",
		Seq:         0,
		Name:        "Ana",
		Phone:       "+5511999990000",
		Status:      domain.QueuePending,
		ScheduledAt: at,
	}

	av, err := attributevalue.MarshalMap(queueRecord{
		PK:        tenantPK(it.TenantID),
		SK:        queueSK(it.CampaignID, it.ID),
		QueueItem: it,
	})
	require.NoError(t, err)

	var rec queueRecord
	require.NoError(t, attributevalue.UnmarshalMap(av, &rec))
	assert.Equal(t, it.Phone, rec.Phone)
	assert.Equal(t, domain.QueuePending, rec.Status)
	assert.True(t, rec.ScheduledAt.Equal(at))
	assert.Nil(t, rec.SentAt)
}

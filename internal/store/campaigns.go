package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/CesarNXT/topzap-engine/internal/domain"
	"github.com/CesarNXT/topzap-engine/internal/pkg/logger"
	"github.com/CesarNXT/topzap-engine/internal/service/campaign"
)

var _ campaign.Repository = (*Repo)(nil)

type tenantRecord struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	domain.Tenant
}

type campaignRecord struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
	domain.Campaign
}

func newCampaignRecord(c *domain.Campaign) campaignRecord {
	return campaignRecord{
		PK:       tenantPK(c.TenantID),
		SK:       campaignSK(c.ID),
		GSI1PK:   statusPK(string(c.Status)),
		GSI1SK:   timeAttr(c.NextRunAt),
		Campaign: *c,
	}
}

// GetTenant implements campaign.Repository.
func (r *Repo) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	result, err := r.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: tenantPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting tenant %s: %w", id, err)
	}
	if result.Item == nil {
		return nil, campaign.ErrTenantNotFound
	}
	var rec tenantRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling tenant %s: %w", id, err)
	}
	return &rec.Tenant, nil
}

// PutTenant upserts a tenant document.
func (r *Repo) PutTenant(ctx context.Context, t *domain.Tenant) error {
	av, err := attributevalue.MarshalMap(tenantRecord{
		PK:     tenantPK(t.ID),
		SK:     "META",
		Tenant: *t,
	})
	if err != nil {
		return fmt.Errorf("marshaling tenant %s: %w", t.ID, err)
	}
	if _, err := r.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("putting tenant %s: %w", t.ID, err)
	}
	return nil
}

// CreateCampaign inserts a new campaign document. Fails if the id already
// exists.
func (r *Repo) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	av, err := attributevalue.MarshalMap(newCampaignRecord(c))
	if err != nil {
		return fmt.Errorf("marshaling campaign %s: %w", c.ID, err)
	}
	_, err = r.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("putting campaign %s: %w", c.ID, err)
	}
	return nil
}

// GetCampaign implements campaign.Repository.
func (r *Repo) GetCampaign(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	result, err := r.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       campaignKey(tenantID, id),
	})
	if err != nil {
		return nil, fmt.Errorf("getting campaign %s: %w", id, err)
	}
	if result.Item == nil {
		return nil, campaign.ErrNotFound
	}
	var rec campaignRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling campaign %s: %w", id, err)
	}
	return &rec.Campaign, nil
}

// ListCampaigns returns all of a tenant's campaigns, newest first.
func (r *Repo) ListCampaigns(ctx context.Context, tenantID string) ([]domain.Campaign, error) {
	var out []domain.Campaign
	var startKey map[string]types.AttributeValue
	for {
		result, err := r.db.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
				":prefix": &types.AttributeValueMemberS{Value: "CAMPAIGN#"},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("listing campaigns for tenant %s: %w", tenantID, err)
		}
		for _, item := range result.Items {
			var rec campaignRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("unmarshaling campaign list: %w", err)
			}
			out = append(out, rec.Campaign)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListActiveCampaigns queries the status index for scheduled and sending
// campaigns across all tenants. When the index is unavailable and the scan
// fallback is enabled, it degrades to a full table scan.
func (r *Repo) ListActiveCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	var out []domain.Campaign
	for _, status := range []domain.CampaignStatus{domain.CampaignScheduled, domain.CampaignSending} {
		list, err := r.queryByStatus(ctx, status)
		if err != nil {
			if r.allowScanFallback {
				logger.Warn("status index query failed, falling back to FULL TABLE SCAN (degraded, dev-only)",
					"error", err.Error())
				return r.scanActiveCampaigns(ctx)
			}
			return nil, fmt.Errorf("querying %s campaigns: %w", status, err)
		}
		out = append(out, list...)
	}
	return out, nil
}

func (r *Repo) queryByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	var out []domain.Campaign
	var startKey map[string]types.AttributeValue
	for {
		result, err := r.db.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			IndexName:              aws.String(statusIndex),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: statusPK(string(status))},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range result.Items {
			var rec campaignRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("unmarshaling active campaign: %w", err)
			}
			out = append(out, rec.Campaign)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return out, nil
}

func (r *Repo) scanActiveCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	var out []domain.Campaign
	var startKey map[string]types.AttributeValue
	for {
		result, err := r.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(r.tableName),
			FilterExpression: aws.String("#status IN (:scheduled, :sending)"),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":scheduled": &types.AttributeValueMemberS{Value: string(domain.CampaignScheduled)},
				":sending":   &types.AttributeValueMemberS{Value: string(domain.CampaignSending)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scanning active campaigns: %w", err)
		}
		for _, item := range result.Items {
			var rec campaignRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("unmarshaling scanned campaign: %w", err)
			}
			out = append(out, rec.Campaign)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return out, nil
}

// UpdateStatus transitions a campaign conditionally on its current status,
// keeping the status index key in sync. Sending sets startedAt once;
// completion stamps completedAt.
func (r *Repo) UpdateStatus(ctx context.Context, tenantID, id string, from, to domain.CampaignStatus) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", campaign.ErrInvalidTransition, from, to)
	}

	now := timeAttr(time.Now())
	update := "SET #status = :to, GSI1PK = :gpk, #updated = :now"
	// DynamoDB rejects requests that declare attribute names the
	// expressions never reference, so the map grows with the expression.
	names := map[string]string{
		"#status":  "status",
		"#updated": "updated_at",
	}
	values := map[string]types.AttributeValue{
		":to":   &types.AttributeValueMemberS{Value: string(to)},
		":gpk":  &types.AttributeValueMemberS{Value: statusPK(string(to))},
		":now":  &types.AttributeValueMemberS{Value: now},
		":from": &types.AttributeValueMemberS{Value: string(from)},
	}
	switch to {
	case domain.CampaignSending:
		update += ", #started = if_not_exists(#started, :now)"
		names["#started"] = "started_at"
	case domain.CampaignCompleted:
		update += ", #completed = :now"
		names["#completed"] = "completed_at"
	}

	_, err := r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       campaignKey(tenantID, id),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("#status = :from"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: %s -> %s lost a concurrent update", campaign.ErrInvalidTransition, from, to)
		}
		return fmt.Errorf("updating status of campaign %s: %w", id, err)
	}
	return nil
}

// SetNextRunAt implements campaign.Repository.
func (r *Repo) SetNextRunAt(ctx context.Context, tenantID, id string, at time.Time) error {
	_, err := r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              campaignKey(tenantID, id),
		UpdateExpression: aws.String("SET #next = :at, GSI1SK = :at, #updated = :now"),
		ExpressionAttributeNames: map[string]string{
			"#next":    "next_run_at",
			"#updated": "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":  &types.AttributeValueMemberS{Value: timeAttr(at)},
			":now": &types.AttributeValueMemberS{Value: timeAttr(time.Now())},
		},
	})
	if err != nil {
		return fmt.Errorf("setting nextRunAt of campaign %s: %w", id, err)
	}
	return nil
}

// SetLastError implements campaign.Repository.
func (r *Repo) SetLastError(ctx context.Context, tenantID, id, msg string) error {
	_, err := r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              campaignKey(tenantID, id),
		UpdateExpression: aws.String("SET #lastErr = :msg, #updated = :now"),
		ExpressionAttributeNames: map[string]string{
			"#lastErr": "last_error",
			"#updated": "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":msg": &types.AttributeValueMemberS{Value: msg},
			":now": &types.AttributeValueMemberS{Value: timeAttr(time.Now())},
		},
	})
	if err != nil {
		return fmt.Errorf("setting error of campaign %s: %w", id, err)
	}
	return nil
}

// ReplaceSchedule persists the rescheduled rules, batch map, stats, and
// dispatch cursor in one write.
func (r *Repo) ReplaceSchedule(ctx context.Context, c *domain.Campaign) error {
	rules, err := attributevalue.Marshal(c.Rules)
	if err != nil {
		return fmt.Errorf("marshaling rules: %w", err)
	}
	batches, err := attributevalue.Marshal(c.Batches)
	if err != nil {
		return fmt.Errorf("marshaling batches: %w", err)
	}
	stats, err := attributevalue.Marshal(c.Stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}

	_, err = r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key:       campaignKey(c.TenantID, c.ID),
		UpdateExpression: aws.String(
			"SET #rules = :rules, #batches = :batches, #stats = :stats, #next = :at, GSI1SK = :at, #updated = :now"),
		ExpressionAttributeNames: map[string]string{
			"#rules":   "rules",
			"#batches": "batches",
			"#stats":   "stats",
			"#next":    "next_run_at",
			"#updated": "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rules":   rules,
			":batches": batches,
			":stats":   stats,
			":at":      &types.AttributeValueMemberS{Value: timeAttr(c.NextRunAt)},
			":now":     &types.AttributeValueMemberS{Value: timeAttr(time.Now())},
		},
	})
	if err != nil {
		return fmt.Errorf("replacing schedule of campaign %s: %w", c.ID, err)
	}
	return nil
}

// AddStats applies counter deltas in a single UpdateItem. DynamoDB's ADD
// action is limited to top-level attributes, so the nested counters use
// SET with arithmetic instead; UpdateItem is atomic per item, so concurrent
// increments on the same document still never lose updates.
func (r *Repo) AddStats(ctx context.Context, tenantID, campaignID string, d campaign.StatsDelta) error {
	update := "SET #stats.#pending = #stats.#pending + :dp, " +
		"#stats.#sent = #stats.#sent + :ds, " +
		"#stats.#failed = #stats.#failed + :df"
	names := map[string]string{
		"#stats":   "stats",
		"#pending": "pending",
		"#sent":    "sent",
		"#failed":  "failed",
	}
	values := map[string]types.AttributeValue{
		":dp": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", d.Pending)},
		":ds": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", d.Sent)},
		":df": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", d.Failed)},
	}
	if d.BatchID != "" {
		update += ", #batches.#bid.#sent = #batches.#bid.#sent + :ds, " +
			"#batches.#bid.#failed = #batches.#bid.#failed + :df"
		names["#batches"] = "batches"
		names["#bid"] = d.BatchID
	}

	_, err := r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       campaignKey(tenantID, campaignID),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("adding stats to campaign %s: %w", campaignID, err)
	}
	return nil
}

// DeleteCampaign removes the campaign document.
func (r *Repo) DeleteCampaign(ctx context.Context, tenantID, id string) error {
	_, err := r.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       campaignKey(tenantID, id),
	})
	if err != nil {
		return fmt.Errorf("deleting campaign %s: %w", id, err)
	}
	return nil
}

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
)

type queueRecord struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	domain.QueueItem
}

// PutQueueItems writes queue items in groups of at most 25, the
// BatchWriteItem ceiling. Item ids embed a zero-padded sequence, so the sort
// key order matches the send order and a retried materialization overwrites
// instead of duplicating.
func (r *Repo) PutQueueItems(ctx context.Context, items []domain.QueueItem) error {
	requests := make([]types.WriteRequest, 0, len(items))
	for i := range items {
		it := items[i]
		av, err := attributevalue.MarshalMap(queueRecord{
			PK:        tenantPK(it.TenantID),
			SK:        queueSK(it.CampaignID, it.ID),
			QueueItem: it,
		})
		if err != nil {
			return fmt.Errorf("marshaling queue item %s: %w", it.ID, err)
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: av},
		})
	}
	return r.batchWrite(ctx, requests)
}

// RescheduleItems rewrites the given items. Callers pass fully populated
// items, so a plain put per item is a correct rewrite.
func (r *Repo) RescheduleItems(ctx context.Context, items []domain.QueueItem) error {
	return r.PutQueueItems(ctx, items)
}

// batchWrite issues BatchWriteItem in bounded groups, retrying unprocessed
// items with a linear backoff.
func (r *Repo) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += maxBatchWrite {
		end := start + maxBatchWrite
		if end > len(requests) {
			end = len(requests)
		}
		pending := requests[start:end]
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt >= maxWriteRetries {
				return fmt.Errorf("batch write: %d item(s) unprocessed after %d attempts", len(pending), attempt)
			}
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
				}
			}
			result, err := r.db.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{
					r.tableName: pending,
				},
			})
			if err != nil {
				return fmt.Errorf("batch write: %w", err)
			}
			pending = result.UnprocessedItems[r.tableName]
		}
	}
	return nil
}

// NextPendingItem returns the first pending item in sort-key order, which
// by construction is ascending sequence and therefore ascending
// scheduledAt.
func (r *Repo) NextPendingItem(ctx context.Context, tenantID, campaignID string) (*domain.QueueItem, error) {
	var startKey map[string]types.AttributeValue
	for {
		result, err := r.db.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			FilterExpression:       aws.String("#status = :pending"),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":      &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
				":prefix":  &types.AttributeValueMemberS{Value: queuePrefix(campaignID)},
				":pending": &types.AttributeValueMemberS{Value: string(domain.QueuePending)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("querying next pending item of campaign %s: %w", campaignID, err)
		}
		if len(result.Items) > 0 {
			var rec queueRecord
			if err := attributevalue.UnmarshalMap(result.Items[0], &rec); err != nil {
				return nil, fmt.Errorf("unmarshaling queue item: %w", err)
			}
			return &rec.QueueItem, nil
		}
		if result.LastEvaluatedKey == nil {
			return nil, nil
		}
		startKey = result.LastEvaluatedKey
	}
}

// PendingItems returns every pending item of a campaign in ascending
// scheduledAt order.
func (r *Repo) PendingItems(ctx context.Context, tenantID, campaignID string) ([]domain.QueueItem, error) {
	var out []domain.QueueItem
	var startKey map[string]types.AttributeValue
	for {
		result, err := r.db.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			FilterExpression:       aws.String("#status = :pending"),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":      &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
				":prefix":  &types.AttributeValueMemberS{Value: queuePrefix(campaignID)},
				":pending": &types.AttributeValueMemberS{Value: string(domain.QueuePending)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("querying pending items of campaign %s: %w", campaignID, err)
		}
		for _, item := range result.Items {
			var rec queueRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("unmarshaling queue item: %w", err)
			}
			out = append(out, rec.QueueItem)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out, nil
}

// MarkItemSent transitions an item pending -> sent. Re-marking an already
// sent item is a no-op so retried ticks stay idempotent.
func (r *Repo) MarkItemSent(ctx context.Context, item *domain.QueueItem, at time.Time, trackingID string) error {
	_, err := r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(item.TenantID, item.CampaignID, item.ID),
		UpdateExpression:    aws.String("SET #status = :sent, #sentAt = :at, #tracking = :tid"),
		ConditionExpression: aws.String("#status = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#status":   "status",
			"#sentAt":   "sent_at",
			"#tracking": "tracking_id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sent":    &types.AttributeValueMemberS{Value: string(domain.QueueSent)},
			":pending": &types.AttributeValueMemberS{Value: string(domain.QueuePending)},
			":at":      &types.AttributeValueMemberS{Value: timeAttr(at)},
			":tid":     &types.AttributeValueMemberS{Value: trackingID},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return fmt.Errorf("marking item %s sent: %w", item.ID, err)
	}
	return nil
}

// MarkItemFailed transitions an item pending -> failed with the send error
// captured on the item.
func (r *Repo) MarkItemFailed(ctx context.Context, item *domain.QueueItem, at time.Time, sendErr string) error {
	_, err := r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 itemKey(item.TenantID, item.CampaignID, item.ID),
		UpdateExpression:    aws.String("SET #status = :failed, #failedAt = :at, #err = :msg"),
		ConditionExpression: aws.String("#status = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#status":   "status",
			"#failedAt": "failed_at",
			"#err":      "error",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":  &types.AttributeValueMemberS{Value: string(domain.QueueFailed)},
			":pending": &types.AttributeValueMemberS{Value: string(domain.QueuePending)},
			":at":      &types.AttributeValueMemberS{Value: timeAttr(at)},
			":msg":     &types.AttributeValueMemberS{Value: sendErr},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return fmt.Errorf("marking item %s failed: %w", item.ID, err)
	}
	return nil
}

// DeleteQueue removes every queue item of a campaign in bounded groups.
func (r *Repo) DeleteQueue(ctx context.Context, tenantID, campaignID string) error {
	var requests []types.WriteRequest
	var startKey map[string]types.AttributeValue
	for {
		result, err := r.db.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ProjectionExpression:   aws.String("PK, SK"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
				":prefix": &types.AttributeValueMemberS{Value: queuePrefix(campaignID)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return fmt.Errorf("listing queue of campaign %s: %w", campaignID, err)
		}
		for _, item := range result.Items {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
					"PK": item["PK"],
					"SK": item["SK"],
				}},
			})
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return r.batchWrite(ctx, requests)
}

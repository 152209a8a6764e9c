// Package store persists campaigns, queue items, and tenants in a DynamoDB
// single-table layout:
//
//	PK=TENANT#<tenantID>  SK=META                      tenant document
//	PK=TENANT#<tenantID>  SK=CAMPAIGN#<campaignID>     campaign document
//	PK=TENANT#<tenantID>  SK=QUEUE#<campaignID>#<item> queue item
//
// Campaign documents also carry GSI1PK=STATUS#<status> / GSI1SK=<nextRunAt>
// so the dispatcher's discovery query is index-backed instead of a table
// scan. Counters are mutated exclusively through single UpdateItem calls,
// which DynamoDB applies atomically per item.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	statusIndex = "status-index"

	// maxBatchWrite is DynamoDB's BatchWriteItem item ceiling per request.
	maxBatchWrite = 25

	// maxWriteRetries bounds the unprocessed-items retry loop.
	maxWriteRetries = 5
)

// Config holds the store's connection settings.
type Config struct {
	TableName string
	Region    string
	Profile   string

	// Endpoint overrides the DynamoDB endpoint for local development.
	Endpoint string

	// AllowScanFallback enables the degraded full-scan discovery path when
	// the status index is unavailable. Dev-only; never enable in production.
	AllowScanFallback bool
}

// Repo is the DynamoDB-backed repository.
type Repo struct {
	db                *dynamodb.Client
	tableName         string
	allowScanFallback bool
}

// NewRepo creates a repository from shared AWS configuration.
func NewRepo(ctx context.Context, cfg Config) (*Repo, error) {
	if cfg.TableName == "" {
		return nil, fmt.Errorf("store: table name is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var dbOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		dbOpts = append(dbOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Repo{
		db:                dynamodb.NewFromConfig(awsCfg, dbOpts...),
		tableName:         cfg.TableName,
		allowScanFallback: cfg.AllowScanFallback,
	}, nil
}

func tenantPK(tenantID string) string { return "TENANT#" + tenantID }

func campaignSK(campaignID string) string { return "CAMPAIGN#" + campaignID }

func queueSK(campaignID, itemID string) string {
	return "QUEUE#" + campaignID + "#" + itemID
}

// queuePrefix covers every queue item of one campaign.
func queuePrefix(campaignID string) string { return "QUEUE#" + campaignID + "#" }

func statusPK(status string) string { return "STATUS#" + status }

func campaignKey(tenantID, campaignID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
		"SK": &types.AttributeValueMemberS{Value: campaignSK(campaignID)},
	}
}

func itemKey(tenantID, campaignID, itemID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
		"SK": &types.AttributeValueMemberS{Value: queueSK(campaignID, itemID)},
	}
}

func timeAttr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CesarNXT/topzap-engine/internal/domain"
	"github.com/CesarNXT/topzap-engine/internal/service/campaign"
)

// capturedUpdate is the wire shape of an UpdateItem request body.
type capturedUpdate struct {
	UpdateExpression         string
	ConditionExpression      string
	ExpressionAttributeNames map[string]string
}

// newCaptureRepo points a Repo at a local endpoint that records every
// UpdateItem request body and answers with an empty success, so tests can
// assert the exact expressions sent over the wire.
func newCaptureRepo(t *testing.T) (*Repo, *[]capturedUpdate) {
	t.Helper()
	var captured []capturedUpdate

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body capturedUpdate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		captured = append(captured, body)
		w.Header().Set("Content-Type", "application/x-amz-json-1.0")
		fmt.Fprint(w, "{}")
	}))
	t.Cleanup(srv.Close)

	client := dynamodb.New(dynamodb.Options{
		Region: "us-east-1",
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "local", SecretAccessKey: "local"}, nil
		}),
		BaseEndpoint: aws.String(srv.URL),
	})

	return &Repo{db: client, tableName: "topzap-test"}, &captured
}

var nameToken = regexp.MustCompile(`#\w+`)

// assertNamesMatchExpressions checks DynamoDB's contract that every entry in
// ExpressionAttributeNames is referenced by an expression and vice versa;
// unused declarations make the whole request invalid.
func assertNamesMatchExpressions(t *testing.T, u capturedUpdate) {
	t.Helper()
	used := make(map[string]bool)
	for _, tok := range nameToken.FindAllString(u.UpdateExpression+" "+u.ConditionExpression, -1) {
		used[tok] = true
	}
	for name := range u.ExpressionAttributeNames {
		assert.True(t, used[name], "declared attribute name %s is never referenced", name)
	}
	for tok := range used {
		_, ok := u.ExpressionAttributeNames[tok]
		assert.True(t, ok, "expression references undeclared name %s", tok)
	}
}

func TestUpdateStatusDeclaresOnlyReferencedNames(t *testing.T) {
	repo, captured := newCaptureRepo(t)
	ctx := context.Background()

	transitions := []struct {
		from, to domain.CampaignStatus
	}{
		{domain.CampaignScheduled, domain.CampaignSending},
		{domain.CampaignSending, domain.CampaignPaused},
		{domain.CampaignPaused, domain.CampaignSending},
		{domain.CampaignSending, domain.CampaignCompleted},
		{domain.CampaignSending, domain.CampaignFailed},
	}
	for _, tr := range transitions {
		require.NoError(t, repo.UpdateStatus(ctx, "t1", "c1", tr.from, tr.to))
	}
	require.Len(t, *captured, len(transitions))

	for i, u := range *captured {
		tr := transitions[i]
		assertNamesMatchExpressions(t, u)
		if tr.to == domain.CampaignSending {
			assert.Contains(t, u.UpdateExpression, "#started", "%s -> %s", tr.from, tr.to)
		} else {
			assert.NotContains(t, u.UpdateExpression, "#started", "%s -> %s", tr.from, tr.to)
		}
		if tr.to == domain.CampaignCompleted {
			assert.Contains(t, u.UpdateExpression, "#completed")
		} else {
			assert.NotContains(t, u.UpdateExpression, "#completed", "%s -> %s", tr.from, tr.to)
		}
	}
}

func TestAddStatsUsesSetArithmeticOnNestedPaths(t *testing.T) {
	repo, captured := newCaptureRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.AddStats(ctx, "t1", "c1", campaign.StatsDelta{Pending: -1, Sent: 1}))
	require.NoError(t, repo.AddStats(ctx, "t1", "c1", campaign.StatsDelta{
		Pending: -1, Failed: 1, BatchID: "2026-03-02",
	}))
	require.Len(t, *captured, 2)

	for _, u := range *captured {
		// ADD only works on top-level attributes; nested counters must go
		// through SET arithmetic.
		assert.True(t, strings.HasPrefix(u.UpdateExpression, "SET "), u.UpdateExpression)
		assert.NotContains(t, u.UpdateExpression, "ADD")
		assert.Contains(t, u.UpdateExpression, "#stats.#pending = #stats.#pending + :dp")
		assertNamesMatchExpressions(t, u)
	}

	withBatch := (*captured)[1]
	assert.Contains(t, withBatch.UpdateExpression, "#batches.#bid.#sent = #batches.#bid.#sent + :ds")
	assert.Equal(t, "2026-03-02", withBatch.ExpressionAttributeNames["#bid"])

	without := (*captured)[0]
	assert.NotContains(t, without.UpdateExpression, "#batches")
}

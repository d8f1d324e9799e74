package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

const skSlotPrefix = "SLOT#"

// SubmissionStore reads and writes per-slot state in the submissions table.
type SubmissionStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// NewSubmissionStore creates a SubmissionStore for the given table.
func NewSubmissionStore(client DynamoAPI, tableName string) *SubmissionStore {
	return &SubmissionStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// GetSubmission returns the state of one slot, or (nil, nil) if the slot
// has never been processed.
func (s *SubmissionStore) GetSubmission(ctx context.Context, tenant, participantRef string, slot int) (*SubmissionState, error) {
	pk := participantPK(tenant, participantRef)
	sk := slotSK(slot)

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem submission PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var state SubmissionState
	if err := attributevalue.UnmarshalMap(result.Item, &state); err != nil {
		return nil, fmt.Errorf("unmarshal submission PK=%s SK=%s: %w", pk, sk, err)
	}
	return &state, nil
}

// PutSubmission overwrites the state of one slot.
func (s *SubmissionStore) PutSubmission(ctx context.Context, tenant, participantRef string, slot int, state *SubmissionState) error {
	pk := participantPK(tenant, participantRef)
	sk := slotSK(slot)

	now := s.now()
	if state.UpdatedAt == 0 {
		state.UpdatedAt = now.Unix()
	}

	item, err := attributevalue.MarshalMap(state)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt(now), 10)}

	start := time.Now()
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem submission PK=%s SK=%s: %w", pk, sk, err)
	}
	log.Debug().
		Str("pk", pk).
		Str("sk", sk).
		Bool("metadataProcessed", state.MetadataProcessed).
		Bool("hasThumbnail", state.ThumbnailKey != nil).
		Dur("duration", time.Since(start)).
		Msg("Submission state persisted")
	return nil
}

// ListSubmissions returns every processed slot of a participant keyed by
// slot index.
func (s *SubmissionStore) ListSubmissions(ctx context.Context, tenant, participantRef string) (map[int]*SubmissionState, error) {
	pk := participantPK(tenant, participantRef)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skSlotPrefix},
		},
		ConsistentRead: aws.Bool(true),
	}

	states := make(map[int]*SubmissionState)

	// DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query submissions PK=%s: %w", pk, err)
		}

		for _, item := range result.Items {
			skAttr, ok := item["SK"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			slot, err := strconv.Atoi(strings.TrimPrefix(skAttr.Value, skSlotPrefix))
			if err != nil {
				log.Warn().Str("pk", pk).Str("sk", skAttr.Value).Msg("Submission with malformed sort key, skipping")
				continue
			}
			var state SubmissionState
			if err := attributevalue.UnmarshalMap(item, &state); err != nil {
				log.Warn().Err(err).Str("pk", pk).Str("sk", skAttr.Value).Msg("Failed to unmarshal submission, skipping")
				continue
			}
			states[slot] = &state
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	log.Debug().Str("pk", pk).Int("count", len(states)).Msg("Submissions listed")
	return states, nil
}

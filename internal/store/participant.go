package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

const skState = "STATE"

// ParticipantStore reads and mutates per-participant completion state.
type ParticipantStore struct {
	client          DynamoAPI
	tableName       string
	defaultRequired int
	now             func() time.Time
}

// NewParticipantStore creates a ParticipantStore for the given table.
// defaultRequired is the number of slots (0..n-1) a participant must fill
// when no requiredSlots attribute has been registered for them.
func NewParticipantStore(client DynamoAPI, tableName string, defaultRequired int) *ParticipantStore {
	if defaultRequired < 1 {
		defaultRequired = 1
	}
	return &ParticipantStore{
		client:          client,
		tableName:       tableName,
		defaultRequired: defaultRequired,
		now:             time.Now,
	}
}

func participantKey(tenant, participantRef string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: participantPK(tenant, participantRef)},
		"SK": &types.AttributeValueMemberS{Value: skState},
	}
}

// GetParticipant returns the participant's state, or (nil, nil) if no slot
// has been counted yet.
func (s *ParticipantStore) GetParticipant(ctx context.Context, tenant, participantRef string) (*ParticipantState, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            participantKey(tenant, participantRef),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem participant %s/%s: %w", tenant, participantRef, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var state ParticipantState
	if err := attributevalue.UnmarshalMap(result.Item, &state); err != nil {
		return nil, fmt.Errorf("unmarshal participant %s/%s: %w", tenant, participantRef, err)
	}
	sort.Ints(state.ProcessedSlots)
	return &state, nil
}

// Required returns the number of slots the participant must fill.
func (s *ParticipantStore) Required(state *ParticipantState) int {
	if state != nil && state.RequiredSlots > 0 {
		return state.RequiredSlots
	}
	return s.defaultRequired
}

// IncrementAndCheck adds slot to the participant's processed set and
// reports whether this call completed it.
//
// It is a single UpdateItem: ADD on a number set guarded by a condition
// that the slot is not yet a member, returning the post-update item. Each
// successful call therefore grows the set by exactly one element, and
// completion is monotonic, so only the call that added the last missing
// required slot sees Finalize = true. A failed condition means the slot
// was already counted by an earlier delivery.
func (s *ParticipantStore) IncrementAndCheck(ctx context.Context, tenant, participantRef string, slot int) (IncrementResult, error) {
	slotNum := strconv.Itoa(slot)
	now := s.now()

	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 participantKey(tenant, participantRef),
		UpdateExpression:    aws.String("ADD processedSlots :slotSet SET #status = if_not_exists(#status, :pending), updatedAt = :now, expiresAt = :expiresAt"),
		ConditionExpression: aws.String("attribute_not_exists(processedSlots) OR NOT contains(processedSlots, :slot)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status", // "status" is a DynamoDB reserved word
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":slotSet":   &types.AttributeValueMemberNS{Value: []string{slotNum}},
			":slot":      &types.AttributeValueMemberN{Value: slotNum},
			":pending":   &types.AttributeValueMemberS{Value: StatusPending},
			":now":       &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			":expiresAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt(now), 10)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			log.Debug().
				Str("tenant", tenant).
				Str("participantRef", participantRef).
				Int("slot", slot).
				Msg("Slot already counted")
			return IncrementResult{Duplicate: true}, nil
		}
		return IncrementResult{}, fmt.Errorf("UpdateItem increment %s/%s slot %d: %w", tenant, participantRef, slot, err)
	}

	var state ParticipantState
	if err := attributevalue.UnmarshalMap(result.Attributes, &state); err != nil {
		return IncrementResult{}, fmt.Errorf("unmarshal increment result %s/%s: %w", tenant, participantRef, err)
	}

	required := s.Required(&state)
	res := IncrementResult{
		Processed: len(state.ProcessedSlots),
		Required:  required,
		// Slots outside 0..required-1 never complete the set; without this
		// guard a late extra slot on a complete set would finalize again.
		Finalize: slot < required && coversRequired(state.ProcessedSlots, required),
	}

	log.Debug().
		Str("tenant", tenant).
		Str("participantRef", participantRef).
		Int("slot", slot).
		Int("processed", res.Processed).
		Int("required", res.Required).
		Bool("finalize", res.Finalize).
		Msg("Participant slot counted")
	return res, nil
}

// coversRequired reports whether slots contains every index 0..required-1.
func coversRequired(slots []int, required int) bool {
	seen := make(map[int]bool, len(slots))
	for _, s := range slots {
		if s >= 0 && s < required {
			seen[s] = true
		}
	}
	return len(seen) == required
}

// SetErrorState records a participant-level error code. It does not touch
// processedSlots or status; a degraded slot still counts toward completion.
func (s *ParticipantStore) SetErrorState(ctx context.Context, tenant, participantRef, code string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              participantKey(tenant, participantRef),
		UpdateExpression: aws.String("SET errorCode = :code, updatedAt = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":code": &types.AttributeValueMemberS{Value: code},
			":now":  &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("set error state %s/%s -> %s: %w", tenant, participantRef, code, err)
	}

	log.Debug().Str("tenant", tenant).Str("participantRef", participantRef).Str("errorCode", code).Msg("Participant error code recorded")
	return nil
}

// MarkErrored records code and moves the participant to StatusErrored in
// one update.
func (s *ParticipantStore) MarkErrored(ctx context.Context, tenant, participantRef, code string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              participantKey(tenant, participantRef),
		UpdateExpression: aws.String("SET errorCode = :code, #status = :errored, updatedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":code":    &types.AttributeValueMemberS{Value: code},
			":errored": &types.AttributeValueMemberS{Value: StatusErrored},
			":now":     &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("mark participant errored %s/%s -> %s: %w", tenant, participantRef, code, err)
	}

	log.Info().Str("tenant", tenant).Str("participantRef", participantRef).Str("errorCode", code).Msg("Participant marked errored")
	return nil
}

// SetStatus updates the participant's lifecycle status without touching
// other attributes.
func (s *ParticipantStore) SetStatus(ctx context.Context, tenant, participantRef, status string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              participantKey(tenant, participantRef),
		UpdateExpression: aws.String("SET #status = :status, updatedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: status},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("update participant status %s/%s -> %s: %w", tenant, participantRef, status, err)
	}

	log.Debug().Str("tenant", tenant).Str("participantRef", participantRef).Str("status", status).Msg("Participant status updated")
	return nil
}

// RegisterParticipant seeds the number of required slots for a
// participant. An already registered value is kept.
func (s *ParticipantStore) RegisterParticipant(ctx context.Context, tenant, participantRef string, required int) error {
	if required < 1 {
		return fmt.Errorf("required slots must be at least 1, got %d", required)
	}
	now := s.now()
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              participantKey(tenant, participantRef),
		UpdateExpression: aws.String("SET requiredSlots = if_not_exists(requiredSlots, :required), #status = if_not_exists(#status, :pending), updatedAt = :now, expiresAt = :expiresAt"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":required":  &types.AttributeValueMemberN{Value: strconv.Itoa(required)},
			":pending":   &types.AttributeValueMemberS{Value: StatusPending},
			":now":       &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			":expiresAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt(now), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("register participant %s/%s: %w", tenant, participantRef, err)
	}

	log.Info().Str("tenant", tenant).Str("participantRef", participantRef).Int("requiredSlots", required).Msg("Participant registered")
	return nil
}

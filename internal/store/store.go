// Package store provides the DynamoDB-backed state the upload pipeline uses
// to track per-slot processing and per-participant completion.
//
// Two tables are used, both keyed on a string partition key PK and sort
// key SK:
//
//   - submissions: PK = {tenant}#{participantRef}, SK = SLOT#{slotIndex:04d}.
//     One item per uploaded photo slot.
//   - participants: PK = {tenant}#{participantRef}, SK = STATE.
//     One item per participant holding the set of processed slots.
//
// The participant item's processedSlots number set is only ever mutated by
// ParticipantStore.IncrementAndCheck, which performs a single conditional
// UpdateItem. Concurrent invocations for different slots of the same
// participant share no memory, so the store-level condition is what makes
// exactly one of them observe the transition to complete.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// StateTTL is the time-to-live for pipeline state records. Finalized
// participants live on in the system of record; this table only needs to
// outlast the competition and its redelivery window.
const StateTTL = 30 * 24 * time.Hour

// Participant statuses.
const (
	StatusPending    = "pending"
	StatusFinalizing = "finalizing"
	StatusCompleted  = "completed"
	StatusErrored    = "errored"
)

// Participant-level error codes recorded on ParticipantState.ErrorCode.
const (
	ErrorCodeExif      = "EXIF_ERROR"
	ErrorCodeThumbnail = "THUMBNAIL_ERROR"
	ErrorCodeFinalize  = "FINALIZE_ERROR"
)

// DynamoAPI is the subset of the DynamoDB client used by the stores.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// SubmissionState is the processing state of one participant slot.
type SubmissionState struct {
	Uploaded          bool              `json:"uploaded" dynamodbav:"uploaded"`
	ThumbnailKey      *string           `json:"thumbnailKey" dynamodbav:"thumbnailKey"`
	MetadataProcessed bool              `json:"metadataProcessed" dynamodbav:"metadataProcessed"`
	Metadata          map[string]string `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	OriginalKey       string            `json:"originalKey,omitempty" dynamodbav:"originalKey,omitempty"`
	UpdatedAt         int64             `json:"updatedAt" dynamodbav:"updatedAt"`
}

// ParticipantState tracks which slots of a participant have been processed.
type ParticipantState struct {
	ProcessedSlots []int  `json:"processedSlots" dynamodbav:"processedSlots,numberset,omitempty"`
	RequiredSlots  int    `json:"requiredSlots,omitempty" dynamodbav:"requiredSlots,omitempty"`
	ErrorCode      string `json:"errorCode,omitempty" dynamodbav:"errorCode,omitempty"`
	Status         string `json:"status,omitempty" dynamodbav:"status,omitempty"`
	UpdatedAt      int64  `json:"updatedAt,omitempty" dynamodbav:"updatedAt,omitempty"`
}

// IncrementResult is returned by ParticipantStore.IncrementAndCheck.
type IncrementResult struct {
	// Finalize is true for exactly one caller per participant: the one whose
	// slot completed the required set.
	Finalize bool
	// Duplicate is true when the slot had already been counted.
	Duplicate bool
	Processed int
	Required  int
}

// participantPK returns the partition key shared by both tables.
func participantPK(tenant, participantRef string) string {
	return tenant + "#" + participantRef
}

// slotSK returns the submissions sort key for a slot.
func slotSK(slot int) string {
	return fmt.Sprintf("%s%04d", skSlotPrefix, slot)
}

// expiresAt returns the Unix epoch timestamp for record expiration (now + StateTTL).
func expiresAt(now time.Time) int64 {
	return now.Add(StateTTL).Unix()
}

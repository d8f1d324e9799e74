package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/rs/zerolog/log"
)

// DataAPI is the subset of the RDS Data API client used by DataAPIStore.
type DataAPI interface {
	BeginTransaction(ctx context.Context, params *rdsdata.BeginTransactionInput, optFns ...func(*rdsdata.Options)) (*rdsdata.BeginTransactionOutput, error)
	CommitTransaction(ctx context.Context, params *rdsdata.CommitTransactionInput, optFns ...func(*rdsdata.Options)) (*rdsdata.CommitTransactionOutput, error)
	RollbackTransaction(ctx context.Context, params *rdsdata.RollbackTransactionInput, optFns ...func(*rdsdata.Options)) (*rdsdata.RollbackTransactionOutput, error)
	BatchExecuteStatement(ctx context.Context, params *rdsdata.BatchExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.BatchExecuteStatementOutput, error)
	ExecuteStatement(ctx context.Context, params *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
}

// DataAPIStore implements Store on the Aurora Data API.
type DataAPIStore struct {
	client     DataAPI
	clusterARN string
	secretARN  string
	database   string
}

var _ Store = (*DataAPIStore)(nil)

func NewDataAPIStore(client DataAPI, clusterARN, secretARN, database string) *DataAPIStore {
	return &DataAPIStore{
		client:     client,
		clusterARN: clusterARN,
		secretARN:  secretARN,
		database:   database,
	}
}

const upsertSubmissionSQL = `INSERT INTO submissions (tenant, participant_ref, slot_index, original_key, thumbnail_key, metadata, metadata_processed, status, updated_at)
		VALUES (:tenant, :participant_ref, :slot_index, :original_key, :thumbnail_key, :metadata::jsonb, :metadata_processed, :status, NOW())
		ON CONFLICT (tenant, participant_ref, slot_index) DO UPDATE SET
			original_key = EXCLUDED.original_key, thumbnail_key = EXCLUDED.thumbnail_key, metadata = EXCLUDED.metadata,
			metadata_processed = EXCLUDED.metadata_processed, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

const updateParticipantSQL = `UPDATE participants SET status = :status, upload_count = :upload_count, updated_at = NOW()
		WHERE tenant = :tenant AND participant_ref = :participant_ref`

func metadataJSON(md map[string]string) string {
	if len(md) == 0 {
		return "{}"
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func submissionParams(tenant, participantRef string, r SubmissionRecord) []rdsdatatypes.SqlParameter {
	var thumb rdsdatatypes.Field = &rdsdatatypes.FieldMemberIsNull{Value: true}
	if r.ThumbnailKey != nil {
		thumb = &rdsdatatypes.FieldMemberStringValue{Value: *r.ThumbnailKey}
	}
	return []rdsdatatypes.SqlParameter{
		{Name: aws.String("tenant"), Value: &rdsdatatypes.FieldMemberStringValue{Value: tenant}},
		{Name: aws.String("participant_ref"), Value: &rdsdatatypes.FieldMemberStringValue{Value: participantRef}},
		{Name: aws.String("slot_index"), Value: &rdsdatatypes.FieldMemberLongValue{Value: int64(r.SlotIndex)}},
		{Name: aws.String("original_key"), Value: &rdsdatatypes.FieldMemberStringValue{Value: r.OriginalKey}},
		{Name: aws.String("thumbnail_key"), Value: thumb},
		{Name: aws.String("metadata"), Value: &rdsdatatypes.FieldMemberStringValue{Value: metadataJSON(r.Metadata)}, TypeHint: rdsdatatypes.TypeHintJson},
		{Name: aws.String("metadata_processed"), Value: &rdsdatatypes.FieldMemberBooleanValue{Value: r.MetadataProcessed}},
		{Name: aws.String("status"), Value: &rdsdatatypes.FieldMemberStringValue{Value: r.Status}},
	}
}

// BulkUpdateSubmissions upserts all records in one transaction. Any failure
// rolls the transaction back.
func (s *DataAPIStore) BulkUpdateSubmissions(ctx context.Context, tenant, participantRef string, records []SubmissionRecord) error {
	if len(records) == 0 {
		return errors.New("bulk update submissions: no records")
	}

	start := time.Now()
	tx, err := s.client.BeginTransaction(ctx, &rdsdata.BeginTransactionInput{
		ResourceArn: aws.String(s.clusterARN),
		SecretArn:   aws.String(s.secretARN),
		Database:    aws.String(s.database),
	})
	if err != nil {
		return fmt.Errorf("BeginTransaction: %w", err)
	}
	txID := tx.TransactionId

	paramSets := make([][]rdsdatatypes.SqlParameter, 0, len(records))
	for _, r := range records {
		paramSets = append(paramSets, submissionParams(tenant, participantRef, r))
	}

	_, err = s.client.BatchExecuteStatement(ctx, &rdsdata.BatchExecuteStatementInput{
		ResourceArn:   aws.String(s.clusterARN),
		SecretArn:     aws.String(s.secretARN),
		Database:      aws.String(s.database),
		Sql:           aws.String(upsertSubmissionSQL),
		ParameterSets: paramSets,
		TransactionId: txID,
	})
	if err != nil {
		s.rollback(ctx, txID, tenant, participantRef)
		log.Error().Err(err).Str("tenant", tenant).Str("participantRef", participantRef).Int("records", len(records)).Msg("BatchExecuteStatement failed")
		return fmt.Errorf("BatchExecuteStatement submissions: %w", err)
	}

	if _, err := s.client.CommitTransaction(ctx, &rdsdata.CommitTransactionInput{
		ResourceArn:   aws.String(s.clusterARN),
		SecretArn:     aws.String(s.secretARN),
		TransactionId: txID,
	}); err != nil {
		s.rollback(ctx, txID, tenant, participantRef)
		return fmt.Errorf("CommitTransaction: %w", err)
	}

	log.Debug().
		Str("tenant", tenant).
		Str("participantRef", participantRef).
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Submissions written to system of record")
	return nil
}

// rollback is best-effort; the Data API expires abandoned transactions
// after three minutes regardless.
func (s *DataAPIStore) rollback(ctx context.Context, txID *string, tenant, participantRef string) {
	_, err := s.client.RollbackTransaction(context.WithoutCancel(ctx), &rdsdata.RollbackTransactionInput{
		ResourceArn:   aws.String(s.clusterARN),
		SecretArn:     aws.String(s.secretARN),
		TransactionId: txID,
	})
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Str("participantRef", participantRef).Msg("RollbackTransaction failed")
	}
}

// UpdateParticipantStatus sets status and upload count on the participant
// row. A missing row is ErrParticipantNotFound.
func (s *DataAPIStore) UpdateParticipantStatus(ctx context.Context, tenant, participantRef, status string, uploadCount int) error {
	out, err := s.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
		ResourceArn: aws.String(s.clusterARN),
		SecretArn:   aws.String(s.secretARN),
		Database:    aws.String(s.database),
		Sql:         aws.String(updateParticipantSQL),
		Parameters: []rdsdatatypes.SqlParameter{
			{Name: aws.String("status"), Value: &rdsdatatypes.FieldMemberStringValue{Value: status}},
			{Name: aws.String("upload_count"), Value: &rdsdatatypes.FieldMemberLongValue{Value: int64(uploadCount)}},
			{Name: aws.String("tenant"), Value: &rdsdatatypes.FieldMemberStringValue{Value: tenant}},
			{Name: aws.String("participant_ref"), Value: &rdsdatatypes.FieldMemberStringValue{Value: participantRef}},
		},
	})
	if err != nil {
		log.Error().Err(err).Str("tenant", tenant).Str("participantRef", participantRef).Str("status", status).Msg("UpdateParticipantStatus failed")
		return fmt.Errorf("UpdateParticipantStatus: %w", err)
	}
	if out.NumberOfRecordsUpdated == 0 {
		return fmt.Errorf("update participant %s/%s: %w", tenant, participantRef, ErrParticipantNotFound)
	}

	log.Debug().Str("tenant", tenant).Str("participantRef", participantRef).Str("status", status).Int("uploadCount", uploadCount).Msg("Participant status written to system of record")
	return nil
}

// Package durable writes finalized submissions to the relational system of
// record (Aurora PostgreSQL through the RDS Data API).
package durable

import (
	"context"
	"errors"
)

// Submission statuses written to the submissions table.
const (
	SubmissionStatusCompleted = "completed"
)

// ErrParticipantNotFound is returned by UpdateParticipantStatus when no
// participant row matches.
var ErrParticipantNotFound = errors.New("participant not found in system of record")

// SubmissionRecord is one slot of a finalized participant.
type SubmissionRecord struct {
	SlotIndex         int
	OriginalKey       string
	ThumbnailKey      *string
	Metadata          map[string]string
	MetadataProcessed bool
	Status            string
}

// Store is the system of record for submissions and participants.
type Store interface {
	// BulkUpdateSubmissions upserts every record atomically: either all rows
	// are written or none are.
	BulkUpdateSubmissions(ctx context.Context, tenant, participantRef string, records []SubmissionRecord) error
	// UpdateParticipantStatus sets the participant's status and upload count.
	UpdateParticipantStatus(ctx context.Context, tenant, participantRef, status string, uploadCount int) error
}

package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a per-item failure.
type ErrorKind string

const (
	KindInvalidKeyFormat                  ErrorKind = "InvalidKeyFormat"
	KindPhotoNotFound                     ErrorKind = "PhotoNotFound"
	KindMetadataExtractionFailed          ErrorKind = "MetadataExtractionFailed"
	KindThumbnailRenderFailed             ErrorKind = "ThumbnailRenderFailed"
	KindFailedToIncrementParticipantState ErrorKind = "FailedToIncrementParticipantState"
	KindFailedToFinalizeParticipant       ErrorKind = "FailedToFinalizeParticipant"
)

// Sentinel errors, one per kind, for errors.Is.
var (
	ErrInvalidKeyFormat                  = errors.New("invalid key format")
	ErrPhotoNotFound                     = errors.New("photo not found")
	ErrMetadataExtractionFailed          = errors.New("metadata extraction failed")
	ErrThumbnailRenderFailed             = errors.New("thumbnail render failed")
	ErrFailedToIncrementParticipantState = errors.New("failed to increment participant state")
	ErrFailedToFinalizeParticipant       = errors.New("failed to finalize participant")
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidKeyFormat:                  ErrInvalidKeyFormat,
	KindPhotoNotFound:                     ErrPhotoNotFound,
	KindMetadataExtractionFailed:          ErrMetadataExtractionFailed,
	KindThumbnailRenderFailed:             ErrThumbnailRenderFailed,
	KindFailedToIncrementParticipantState: ErrFailedToIncrementParticipantState,
	KindFailedToFinalizeParticipant:       ErrFailedToFinalizeParticipant,
}

// ItemError is the failure of one object reference. Slot is -1 when the key
// could not be parsed.
type ItemError struct {
	Kind           ErrorKind
	Tenant         string
	ParticipantRef string
	Slot           int
	Key            string
	Err            error
}

func (e *ItemError) Error() string {
	if e.Tenant == "" {
		return fmt.Sprintf("%s: key %q: %v", e.Kind, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %s/%s slot %d: %v", e.Kind, e.Tenant, e.ParticipantRef, e.Slot, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *ItemError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Finalize steps, reported in FinalizeError.Step.
const (
	StepReadState         = "read-state"
	StepWriteSubmissions  = "write-submissions"
	StepUpdateParticipant = "update-participant"
	StepAnnounce          = "announce"
)

// FinalizeError is returned when the finalize protocol gave up. Step is the
// step that failed on the last attempt.
type FinalizeError struct {
	Tenant         string
	ParticipantRef string
	Step           string
	Attempts       int
	Err            error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize %s/%s failed at %s after %d attempt(s): %v", e.Tenant, e.ParticipantRef, e.Step, e.Attempts, e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }

func (e *FinalizeError) Is(target error) bool {
	return target == ErrFailedToFinalizeParticipant
}

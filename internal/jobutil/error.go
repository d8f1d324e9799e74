// Package jobutil holds the shared error-recording helper used when a unit
// of pipeline work fails in a way the participant record should reflect.
package jobutil

import (
	"context"

	"github.com/rs/zerolog/log"
)

// ErrorWriter persists a participant-level error code.
type ErrorWriter func(ctx context.Context, tenant, participantRef, code string) error

// Failure describes what went wrong, for logging.
type Failure struct {
	Tenant         string
	ParticipantRef string
	Slot           int
	Key            string
	Kind           string
	Code           string
	Err            error
}

// RecordParticipantError logs the failure and persists its code through
// write. The write is best-effort: its own failure is logged and swallowed
// so the caller can carry on with the item. The write runs even if ctx has
// been cancelled.
func RecordParticipantError(ctx context.Context, f Failure, write ErrorWriter) {
	log.Error().
		Err(f.Err).
		Str("tenant", f.Tenant).
		Str("participantRef", f.ParticipantRef).
		Int("slot", f.Slot).
		Str("key", f.Key).
		Str("kind", f.Kind).
		Str("errorCode", f.Code).
		Msg("Participant error")

	if err := write(context.WithoutCancel(ctx), f.Tenant, f.ParticipantRef, f.Code); err != nil {
		log.Warn().
			Err(err).
			Str("tenant", f.Tenant).
			Str("participantRef", f.ParticipantRef).
			Str("errorCode", f.Code).
			Msg("Failed to record participant error code")
	}
}

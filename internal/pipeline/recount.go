package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ErrSlotNotUploaded is returned by Recount for a slot with no uploaded
// submission state.
var ErrSlotNotUploaded = errors.New("slot has no uploaded submission")

// Recount counts a slot whose submission state was written but whose
// increment never happened, as after a crash between the two. Such a slot
// is otherwise stuck, since redelivery stops at the idempotency guard. It
// finalizes the participant when the slot completes the required set.
func (p *Pipeline) Recount(ctx context.Context, tenant, participantRef string, slot int) (Outcome, error) {
	logger := log.With().Str("tenant", tenant).Str("participantRef", participantRef).Int("slot", slot).Logger()
	itemErr := func(kind ErrorKind, err error) *ItemError {
		return &ItemError{Kind: kind, Tenant: tenant, ParticipantRef: participantRef, Slot: slot, Err: err}
	}

	sub, err := p.deps.Submissions.GetSubmission(ctx, tenant, participantRef, slot)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("read submission: %w", err)
	}
	if sub == nil || !sub.Uploaded {
		return OutcomeFailed, fmt.Errorf("%s/%s slot %d: %w", tenant, participantRef, slot, ErrSlotNotUploaded)
	}

	res, err := p.deps.Participants.IncrementAndCheck(ctx, tenant, participantRef, slot)
	if err != nil {
		return OutcomeFailed, itemErr(KindFailedToIncrementParticipantState, err)
	}
	switch {
	case res.Duplicate:
		logger.Info().Msg("Slot was already counted")
		return OutcomeDuplicate, nil
	case !res.Finalize:
		logger.Info().Int("processed", res.Processed).Int("required", res.Required).Msg("Slot recounted")
		return OutcomeCounted, nil
	}

	logger.Info().Int("processed", res.Processed).Int("required", res.Required).Msg("Recount completed participant, finalizing")
	if err := p.Finalize(ctx, tenant, participantRef); err != nil {
		return OutcomeFailed, itemErr(KindFailedToFinalizeParticipant, err)
	}
	return OutcomeFinalized, nil
}

package pipeline

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-contest/internal/announce"
	"github.com/fpang/photo-contest/internal/durable"
	"github.com/fpang/photo-contest/internal/store"
)

var errNothingToFinalize = errors.New("no processed slots to finalize")

// finalizeBackOff is exponential from FinalizeBaseDelay doubling each
// attempt, capped in total at FinalizeMaxRetries attempts and by ctx.
func (p *Pipeline) finalizeBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.FinalizeBaseDelay
	b.MaxInterval = p.cfg.FinalizeMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.FinalizeMaxRetries-1)), ctx)
}

// Finalize promotes a complete participant to completed in the system of
// record and announces it. It is entered once per participant, by the
// caller whose increment completed the slot set, or by an operator.
//
// Every attempt re-reads state and rewrites all records, so a retry after
// a partial attempt converges. The participant status row is written after
// the submissions commit, so a half-applied attempt is never observed as
// completed. On exhaustion the participant is marked errored with
// FINALIZE_ERROR and a *FinalizeError is returned.
func (p *Pipeline) Finalize(ctx context.Context, tenant, participantRef string) error {
	logger := log.With().Str("tenant", tenant).Str("participantRef", participantRef).Logger()
	start := time.Now()

	if err := p.deps.Participants.SetStatus(ctx, tenant, participantRef, store.StatusFinalizing); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark participant finalizing")
	}

	// One event ID across attempts lets subscribers drop a repeat
	// announcement after an ambiguous PutEvents failure.
	eventID := uuid.NewString()

	var (
		attempts int
		step     string
		count    int
	)
	op := func() error {
		attempts++
		var err error
		step, count, err = p.finalizeOnce(ctx, tenant, participantRef, eventID)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempts).Str("step", step).Msg("Finalize attempt failed")
			if errors.Is(err, durable.ErrParticipantNotFound) {
				return backoff.Permanent(err)
			}
		}
		return err
	}

	if err := backoff.Retry(op, p.finalizeBackOff(ctx)); err != nil {
		ferr := &FinalizeError{Tenant: tenant, ParticipantRef: participantRef, Step: step, Attempts: attempts, Err: err}
		logger.Error().
			Err(err).
			Str("step", step).
			Int("attempts", attempts).
			Dur("duration", time.Since(start)).
			Str("kind", string(KindFailedToFinalizeParticipant)).
			Msg("Finalize exhausted, marking participant errored")
		if merr := p.deps.Participants.MarkErrored(context.WithoutCancel(ctx), tenant, participantRef, store.ErrorCodeFinalize); merr != nil {
			logger.Error().Err(merr).Msg("Failed to mark participant errored")
		}
		p.recordFinalize(attempts, false)
		return ferr
	}

	if err := p.deps.Participants.SetStatus(ctx, tenant, participantRef, store.StatusCompleted); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark participant completed in state table")
	}
	p.recordFinalize(attempts, true)
	logger.Info().
		Int("uploadCount", count).
		Int("attempts", attempts).
		Dur("duration", time.Since(start)).
		Msg("Participant finalized")
	return nil
}

// finalizeOnce is one attempt. It returns the step it reached and the
// number of records written.
func (p *Pipeline) finalizeOnce(ctx context.Context, tenant, participantRef, eventID string) (string, int, error) {
	participant, err := p.deps.Participants.GetParticipant(ctx, tenant, participantRef)
	if err != nil {
		return StepReadState, 0, err
	}
	if participant == nil || len(participant.ProcessedSlots) == 0 {
		return StepReadState, 0, errNothingToFinalize
	}
	submissions, err := p.deps.Submissions.ListSubmissions(ctx, tenant, participantRef)
	if err != nil {
		return StepReadState, 0, err
	}
	if len(submissions) == 0 {
		return StepReadState, 0, errNothingToFinalize
	}

	records := buildRecords(tenant, participantRef, participant.ProcessedSlots, submissions)

	if err := p.deps.Durable.BulkUpdateSubmissions(ctx, tenant, participantRef, records); err != nil {
		return StepWriteSubmissions, 0, err
	}
	if err := p.deps.Durable.UpdateParticipantStatus(ctx, tenant, participantRef, store.StatusCompleted, len(records)); err != nil {
		return StepUpdateParticipant, 0, err
	}
	if err := p.deps.Announcer.AnnounceFinalized(ctx, announce.ParticipantFinalized{
		EventID:        eventID,
		Tenant:         tenant,
		ParticipantRef: participantRef,
		UploadCount:    len(records),
	}); err != nil {
		return StepAnnounce, 0, err
	}
	return StepAnnounce, len(records), nil
}

// buildRecords returns one record per processed slot in slot order. A slot
// whose metadata is absent or unprocessed gets an empty metadata object.
func buildRecords(tenant, participantRef string, slots []int, submissions map[int]*store.SubmissionState) []durable.SubmissionRecord {
	slots = slices.Clone(slots)
	slices.Sort(slots)

	records := make([]durable.SubmissionRecord, 0, len(slots))
	for _, slot := range slots {
		rec := durable.SubmissionRecord{
			SlotIndex: slot,
			Metadata:  map[string]string{},
			Status:    durable.SubmissionStatusCompleted,
		}
		sub := submissions[slot]
		if sub == nil {
			log.Warn().Str("tenant", tenant).Str("participantRef", participantRef).Int("slot", slot).Msg("Counted slot has no submission state, writing defaults")
		} else {
			rec.OriginalKey = sub.OriginalKey
			rec.ThumbnailKey = sub.ThumbnailKey
			if sub.MetadataProcessed && sub.Metadata != nil {
				rec.Metadata = sub.Metadata
				rec.MetadataProcessed = true
			}
		}
		records = append(records, rec)
	}
	return records
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-contest/internal/jobutil"
	"github.com/fpang/photo-contest/internal/keycodec"
	"github.com/fpang/photo-contest/internal/media"
	"github.com/fpang/photo-contest/internal/store"
)

// Outcome is the result of processing one object reference.
type Outcome string

const (
	// OutcomeSkipped: the object is a derived artifact.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDuplicate: the slot had already been processed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeCounted: the slot was counted; the participant is not complete.
	OutcomeCounted Outcome = "counted"
	// OutcomeFinalized: the slot completed the participant and finalize succeeded.
	OutcomeFinalized Outcome = "finalized"
	OutcomeFailed    Outcome = "failed"
)

// ProcessObject runs one object through the pipeline. Metadata and
// thumbnail failures degrade the item but do not fail it; the returned
// error is an *ItemError for the fatal kinds.
func (p *Pipeline) ProcessObject(ctx context.Context, ref ObjectRef) (Outcome, error) {
	start := time.Now()
	outcome, err := p.processObject(ctx, ref)
	p.recordItem(outcome, time.Since(start))
	return outcome, err
}

func (p *Pipeline) processObject(ctx context.Context, ref ObjectRef) (Outcome, error) {
	bucket := ref.Bucket
	if bucket == "" {
		bucket = p.cfg.Bucket
	}

	parse := keycodec.Parse
	if ref.Escaped {
		parse = keycodec.ParseEscaped
	}
	key, err := parse(ref.Key)
	if err != nil {
		log.Error().Err(err).Str("bucket", bucket).Str("key", ref.Key).Str("kind", string(KindInvalidKeyFormat)).Msg("Rejected object with invalid key")
		return OutcomeFailed, &ItemError{Kind: KindInvalidKeyFormat, Slot: -1, Key: ref.Key, Err: err}
	}

	logger := log.With().
		Str("tenant", key.Tenant).
		Str("participantRef", key.ParticipantRef).
		Int("slot", key.SlotIndex).
		Str("key", key.String()).
		Logger()
	if keycodec.IsThumbnail(key) {
		p.skipThumbnail(ctx, key, logger)
		return OutcomeSkipped, nil
	}
	itemErr := func(kind ErrorKind, err error) *ItemError {
		return &ItemError{Kind: kind, Tenant: key.Tenant, ParticipantRef: key.ParticipantRef, Slot: key.SlotIndex, Key: key.String(), Err: err}
	}

	existing, err := p.deps.Submissions.GetSubmission(ctx, key.Tenant, key.ParticipantRef, key.SlotIndex)
	if err != nil {
		// The increment is idempotent on its own, so reprocessing is safe.
		logger.Warn().Err(err).Msg("Failed to read submission state, processing anyway")
	} else if existing != nil && existing.Uploaded {
		logger.Info().Msg("Duplicate delivery, slot already processed")
		return OutcomeDuplicate, nil
	}

	data, err := p.deps.Blobs.Get(ctx, bucket, key.String())
	if err != nil {
		if errors.Is(err, media.ErrObjectNotFound) {
			logger.Error().Err(err).Str("kind", string(KindPhotoNotFound)).Msg("Photo not found")
		} else {
			logger.Error().Err(err).Str("kind", string(KindPhotoNotFound)).Msg("Failed to fetch photo")
		}
		return OutcomeFailed, itemErr(KindPhotoNotFound, err)
	}

	thumbKey, md, mdOK := p.deriveArtifacts(ctx, bucket, key, data)

	state := &store.SubmissionState{
		Uploaded:          true,
		ThumbnailKey:      thumbKey,
		MetadataProcessed: mdOK,
		Metadata:          md,
		OriginalKey:       key.String(),
	}
	if err := p.deps.Submissions.PutSubmission(ctx, key.Tenant, key.ParticipantRef, key.SlotIndex, state); err != nil {
		logger.Warn().Err(err).Msg("Failed to write submission state, continuing")
	}

	res, err := p.deps.Participants.IncrementAndCheck(ctx, key.Tenant, key.ParticipantRef, key.SlotIndex)
	if err != nil {
		logger.Error().Err(err).Str("kind", string(KindFailedToIncrementParticipantState)).Msg("Failed to increment participant state")
		return OutcomeFailed, itemErr(KindFailedToIncrementParticipantState, err)
	}
	if res.Duplicate {
		logger.Info().Msg("Slot already counted")
		return OutcomeDuplicate, nil
	}
	if !res.Finalize {
		logger.Info().
			Int("processed", res.Processed).
			Int("required", res.Required).
			Bool("hasThumbnail", thumbKey != nil).
			Bool("metadataProcessed", mdOK).
			Msg("Slot processed")
		return OutcomeCounted, nil
	}

	logger.Info().Int("processed", res.Processed).Int("required", res.Required).Msg("Participant complete, finalizing")
	if err := p.Finalize(ctx, key.Tenant, key.ParticipantRef); err != nil {
		return OutcomeFailed, itemErr(KindFailedToFinalizeParticipant, err)
	}
	return OutcomeFinalized, nil
}

// deriveArtifacts runs metadata extraction and thumbnail rendering
// concurrently. Either may fail independently; a failure records a
// participant error code and leaves the artifact absent.
func (p *Pipeline) deriveArtifacts(ctx context.Context, bucket string, key keycodec.Key, data []byte) (*string, media.Metadata, bool) {
	var (
		wg       sync.WaitGroup
		thumbKey *string
		md       media.Metadata
		mdOK     bool
	)

	wg.Go(func() {
		m, err := p.deps.Extractor.Extract(ctx, data)
		if err != nil {
			p.degrade(ctx, key, KindMetadataExtractionFailed, store.ErrorCodeExif, err)
			return
		}
		md, mdOK = m, true
	})

	wg.Go(func() {
		k, err := p.renderThumbnail(ctx, bucket, key, data)
		if err != nil {
			p.degrade(ctx, key, KindThumbnailRenderFailed, store.ErrorCodeThumbnail, err)
			return
		}
		thumbKey = &k
	})

	wg.Wait()
	return thumbKey, md, mdOK
}

func (p *Pipeline) renderThumbnail(ctx context.Context, bucket string, key keycodec.Key, data []byte) (string, error) {
	thumb, err := p.deps.Renderer.Render(ctx, data, p.cfg.ThumbnailWidth)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	thumbKey := keycodec.ThumbnailKey(key)
	if err := p.deps.Blobs.Put(ctx, bucket, thumbKey, thumb, media.ThumbnailContentType); err != nil {
		return "", fmt.Errorf("upload %s: %w", thumbKey, err)
	}
	return thumbKey, nil
}

func (p *Pipeline) degrade(ctx context.Context, key keycodec.Key, kind ErrorKind, code string, err error) {
	jobutil.RecordParticipantError(ctx, jobutil.Failure{
		Tenant:         key.Tenant,
		ParticipantRef: key.ParticipantRef,
		Slot:           key.SlotIndex,
		Key:            key.String(),
		Kind:           string(kind),
		Code:           code,
		Err:            err,
	}, p.deps.Participants.SetErrorState)
}

// skipThumbnail logs a skipped thumbnail_ object. Names that match the
// thumbnail the slot recorded are ours; anything else is an upload that is
// never counted and gets a warning.
func (p *Pipeline) skipThumbnail(ctx context.Context, key keycodec.Key, logger zerolog.Logger) {
	state, err := p.deps.Submissions.GetSubmission(ctx, key.Tenant, key.ParticipantRef, key.SlotIndex)
	if err == nil && state != nil && state.ThumbnailKey != nil && *state.ThumbnailKey == key.String() {
		logger.Debug().Msg("Skipping derived thumbnail")
		return
	}
	logger.Warn().Err(err).Msg("Skipping object named like a thumbnail; it is not counted toward the slot")
}

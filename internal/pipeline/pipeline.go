// Package pipeline is the upload completion orchestrator. It turns object
// notifications into per-slot state, counts slots per participant with the
// store's atomic increment, and runs the finalize protocol exactly once per
// participant when the last required slot has been counted.
package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/photo-contest/internal/announce"
	"github.com/fpang/photo-contest/internal/durable"
	"github.com/fpang/photo-contest/internal/media"
	"github.com/fpang/photo-contest/internal/metrics"
	"github.com/fpang/photo-contest/internal/store"
)

// SubmissionStore is the per-slot state the pipeline reads and writes.
type SubmissionStore interface {
	GetSubmission(ctx context.Context, tenant, participantRef string, slot int) (*store.SubmissionState, error)
	PutSubmission(ctx context.Context, tenant, participantRef string, slot int, state *store.SubmissionState) error
	ListSubmissions(ctx context.Context, tenant, participantRef string) (map[int]*store.SubmissionState, error)
}

// ParticipantStore is the per-participant state. IncrementAndCheck must be
// atomic in the backing store.
type ParticipantStore interface {
	GetParticipant(ctx context.Context, tenant, participantRef string) (*store.ParticipantState, error)
	IncrementAndCheck(ctx context.Context, tenant, participantRef string, slot int) (store.IncrementResult, error)
	SetErrorState(ctx context.Context, tenant, participantRef, code string) error
	MarkErrored(ctx context.Context, tenant, participantRef, code string) error
	SetStatus(ctx context.Context, tenant, participantRef, status string) error
}

var (
	_ SubmissionStore  = (*store.SubmissionStore)(nil)
	_ ParticipantStore = (*store.ParticipantStore)(nil)
)

// Deps are the collaborators of a Pipeline. All are required.
type Deps struct {
	Blobs        media.BlobStore
	Extractor    media.MetadataExtractor
	Renderer     media.ThumbnailRenderer
	Submissions  SubmissionStore
	Participants ParticipantStore
	Durable      durable.Store
	Announcer    announce.Announcer
}

// Config tunes a Pipeline. Zero values take the defaults of DefaultConfig.
type Config struct {
	// Bucket is used for object references that carry no bucket name.
	Bucket             string
	ThumbnailWidth     int
	MessageConcurrency int
	ItemConcurrency    int
	// FinalizeMaxRetries is the total number of finalize attempts.
	FinalizeMaxRetries int
	FinalizeBaseDelay  time.Duration
	FinalizeMaxDelay   time.Duration
	// MetricsOutput receives EMF lines. Nil means stdout.
	MetricsOutput io.Writer
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ThumbnailWidth:     media.DefaultThumbnailWidth,
		MessageConcurrency: 3,
		ItemConcurrency:    2,
		FinalizeMaxRetries: 3,
		FinalizeBaseDelay:  400 * time.Millisecond,
		FinalizeMaxDelay:   5 * time.Second,
		MetricsOutput:      os.Stdout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ThumbnailWidth <= 0 {
		c.ThumbnailWidth = d.ThumbnailWidth
	}
	if c.MessageConcurrency <= 0 {
		c.MessageConcurrency = d.MessageConcurrency
	}
	if c.ItemConcurrency <= 0 {
		c.ItemConcurrency = d.ItemConcurrency
	}
	if c.FinalizeMaxRetries <= 0 {
		c.FinalizeMaxRetries = d.FinalizeMaxRetries
	}
	if c.FinalizeBaseDelay <= 0 {
		c.FinalizeBaseDelay = d.FinalizeBaseDelay
	}
	if c.FinalizeMaxDelay <= 0 {
		c.FinalizeMaxDelay = d.FinalizeMaxDelay
	}
	if c.MetricsOutput == nil {
		c.MetricsOutput = d.MetricsOutput
	}
	return c
}

// Pipeline processes upload notifications. It is safe for concurrent use.
type Pipeline struct {
	deps Deps
	cfg  Config
}

// New validates deps and returns a Pipeline.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	var missing []error
	if deps.Blobs == nil {
		missing = append(missing, errors.New("pipeline: Blobs is required"))
	}
	if deps.Extractor == nil {
		missing = append(missing, errors.New("pipeline: Extractor is required"))
	}
	if deps.Renderer == nil {
		missing = append(missing, errors.New("pipeline: Renderer is required"))
	}
	if deps.Submissions == nil {
		missing = append(missing, errors.New("pipeline: Submissions is required"))
	}
	if deps.Participants == nil {
		missing = append(missing, errors.New("pipeline: Participants is required"))
	}
	if deps.Durable == nil {
		missing = append(missing, errors.New("pipeline: Durable is required"))
	}
	if deps.Announcer == nil {
		missing = append(missing, errors.New("pipeline: Announcer is required"))
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}
	return &Pipeline{deps: deps, cfg: cfg.withDefaults()}, nil
}

// BatchResult lists the IDs of messages that should be redelivered.
type BatchResult struct {
	Failed []string
}

// HandleBatch processes messages concurrently, at most MessageConcurrency
// at a time. Only messages whose envelope could not be decoded are
// reported as failed; item-level failures are logged and absorbed.
func (p *Pipeline) HandleBatch(ctx context.Context, msgs []Message) BatchResult {
	start := time.Now()
	failed := make([]bool, len(msgs))

	var g errgroup.Group
	g.SetLimit(p.cfg.MessageConcurrency)
	for i, m := range msgs {
		g.Go(func() error {
			if err := p.HandleMessage(ctx, m); err != nil {
				log.Error().Err(err).Str("messageId", m.ID).Msg("Failed to handle message")
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	var res BatchResult
	for i, f := range failed {
		if f {
			res.Failed = append(res.Failed, msgs[i].ID)
		}
	}

	log.Info().
		Int("messages", len(msgs)).
		Int("failed", len(res.Failed)).
		Dur("duration", time.Since(start)).
		Msg("Batch processed")
	return res
}

// HandleMessage decodes one message and processes every object it
// references, at most ItemConcurrency at a time. The returned error is
// non-nil only when the envelope itself is undecodable.
func (p *Pipeline) HandleMessage(ctx context.Context, m Message) error {
	refs, err := decodeEnvelope(m.Body)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		log.Debug().Str("messageId", m.ID).Msg("Message carries no object references, skipping")
		return nil
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.ItemConcurrency)
	for _, ref := range refs {
		g.Go(func() error {
			outcome, err := p.ProcessObject(ctx, ref)
			log.Debug().
				Err(err).
				Str("messageId", m.ID).
				Str("key", ref.Key).
				Str("outcome", string(outcome)).
				Msg("Object reference handled")
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) recordItem(outcome Outcome, d time.Duration) {
	metrics.NewTo(p.cfg.MetricsOutput, metrics.Namespace).
		Dimension("Outcome", string(outcome)).
		Count("ItemsProcessed").
		Metric("ItemProcessingMs", float64(d.Milliseconds()), metrics.UnitMilliseconds).
		Flush()
}

func (p *Pipeline) recordFinalize(attempts int, ok bool) {
	r := metrics.NewTo(p.cfg.MetricsOutput, metrics.Namespace).
		Metric("FinalizeAttempts", float64(attempts), metrics.UnitCount)
	if ok {
		r.Count("ParticipantsFinalized")
	} else {
		r.Count("FinalizeFailures")
	}
	r.Flush()
}

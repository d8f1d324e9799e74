package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/fpang/photo-contest/internal/cli"
	"github.com/fpang/photo-contest/internal/keycodec"
	"github.com/fpang/photo-contest/internal/pipeline"
	"github.com/fpang/photo-contest/internal/store"
)

// errAlreadyCompleted is returned by finalize for a completed participant
// unless forced.
var errAlreadyCompleted = errors.New("participant is already completed; pass --force to finalize again")

type participantReader interface {
	GetParticipant(ctx context.Context, tenant, participantRef string) (*store.ParticipantState, error)
	RegisterParticipant(ctx context.Context, tenant, participantRef string, required int) error
	Required(state *store.ParticipantState) int
}

type submissionLister interface {
	ListSubmissions(ctx context.Context, tenant, participantRef string) (map[int]*store.SubmissionState, error)
}

type finalizer interface {
	Finalize(ctx context.Context, tenant, participantRef string) error
	Recount(ctx context.Context, tenant, participantRef string, slot int) (pipeline.Outcome, error)
}

// admin implements the operator commands against the live stores.
type admin struct {
	participants participantReader
	submissions  submissionLister
	pipeline     finalizer
	out          io.Writer
	now          func() time.Time
}

func parseKey(out io.Writer, raw string, escaped bool) error {
	parse := keycodec.Parse
	if escaped {
		parse = keycodec.ParseEscaped
	}
	k, err := parse(raw)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "tenant:\t%s\n", k.Tenant)
	fmt.Fprintf(w, "participant:\t%s\n", k.ParticipantRef)
	fmt.Fprintf(w, "slot:\t%d\n", k.SlotIndex)
	fmt.Fprintf(w, "filename:\t%s\n", k.FileName)
	fmt.Fprintf(w, "thumbnail:\t%v\n", keycodec.IsThumbnail(k))
	if !keycodec.IsThumbnail(k) {
		fmt.Fprintf(w, "thumbnail key:\t%s\n", keycodec.ThumbnailKey(k))
	}
	return w.Flush()
}

func (a *admin) status(ctx context.Context, tenant, participantRef string) error {
	p, err := a.participants.GetParticipant(ctx, tenant, participantRef)
	if err != nil {
		return fmt.Errorf("read participant: %w", err)
	}
	subs, err := a.submissions.ListSubmissions(ctx, tenant, participantRef)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}
	if p == nil && len(subs) == 0 {
		return fmt.Errorf("no state for %s/%s", tenant, participantRef)
	}

	now := a.now()
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "participant:\t%s/%s\n", tenant, participantRef)
	if p != nil {
		fmt.Fprintf(w, "status:\t%s\n", p.Status)
		fmt.Fprintf(w, "processed:\t%d/%d %v\n", len(p.ProcessedSlots), a.participants.Required(p), p.ProcessedSlots)
		if p.ErrorCode != "" {
			fmt.Fprintf(w, "error:\t%s\n", p.ErrorCode)
		}
		fmt.Fprintf(w, "updated:\t%s\n", cli.FormatAge(p.UpdatedAt, now))
	} else {
		fmt.Fprintf(w, "status:\t(no participant state)\n")
	}

	slots := make([]int, 0, len(subs))
	for slot := range subs {
		slots = append(slots, slot)
	}
	slices.Sort(slots)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "SLOT\tUPLOADED\tCOUNTED\tMETADATA\tTHUMBNAIL\tUPDATED")
	for _, slot := range slots {
		s := subs[slot]
		thumb := "-"
		if s.ThumbnailKey != nil {
			thumb = *s.ThumbnailKey
		}
		counted := p != nil && slices.Contains(p.ProcessedSlots, slot)
		fmt.Fprintf(w, "%d\t%v\t%v\t%v\t%s\t%s\n", slot, s.Uploaded, counted, s.MetadataProcessed, thumb, cli.FormatAge(s.UpdatedAt, now))
	}
	return w.Flush()
}

func (a *admin) register(ctx context.Context, tenant, participantRef string, required int) error {
	if err := a.participants.RegisterParticipant(ctx, tenant, participantRef, required); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "registered %s/%s\n", tenant, participantRef)
	return nil
}

// finalize re-runs the finalize protocol. confirm is asked before
// finalizing a completed participant again; force skips it.
func (a *admin) finalize(ctx context.Context, tenant, participantRef string, force bool, confirm func() bool) error {
	p, err := a.participants.GetParticipant(ctx, tenant, participantRef)
	if err != nil {
		return fmt.Errorf("read participant: %w", err)
	}
	if p != nil && p.Status == store.StatusCompleted && !force {
		if confirm == nil || !confirm() {
			return errAlreadyCompleted
		}
	}
	if err := a.pipeline.Finalize(ctx, tenant, participantRef); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "finalized %s/%s\n", tenant, participantRef)
	return nil
}

func (a *admin) recount(ctx context.Context, tenant, participantRef string, slot int) error {
	outcome, err := a.pipeline.Recount(ctx, tenant, participantRef, slot)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s/%s slot %d: %s\n", tenant, participantRef, slot, outcome)
	return nil
}

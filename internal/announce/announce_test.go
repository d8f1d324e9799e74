package announce

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/google/uuid"
)

type fakeEventBridge struct {
	inputs []*eventbridge.PutEventsInput
	out    *eventbridge.PutEventsOutput
	err    error
}

func (f *fakeEventBridge) PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func TestAnnounceFinalized(t *testing.T) {
	fake := &fakeEventBridge{}
	a := NewEventBridgeAnnouncer(fake, "contest-bus")
	now := time.Date(2026, 5, 1, 18, 30, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	err := a.AnnounceFinalized(context.Background(), ParticipantFinalized{
		Tenant:         "acme",
		ParticipantRef: "P1",
		UploadCount:    2,
	})
	if err != nil {
		t.Fatalf("AnnounceFinalized: %v", err)
	}

	if len(fake.inputs) != 1 || len(fake.inputs[0].Entries) != 1 {
		t.Fatalf("expected one PutEvents call with one entry")
	}
	entry := fake.inputs[0].Entries[0]
	if aws.ToString(entry.Source) != "photo-contest" {
		t.Errorf("Source = %q", aws.ToString(entry.Source))
	}
	if aws.ToString(entry.DetailType) != "ParticipantFinalized" {
		t.Errorf("DetailType = %q", aws.ToString(entry.DetailType))
	}
	if aws.ToString(entry.EventBusName) != "contest-bus" {
		t.Errorf("EventBusName = %q", aws.ToString(entry.EventBusName))
	}

	var detail ParticipantFinalized
	if err := json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail); err != nil {
		t.Fatalf("detail is not JSON: %v", err)
	}
	if detail.Tenant != "acme" || detail.ParticipantRef != "P1" || detail.UploadCount != 2 {
		t.Errorf("detail = %+v", detail)
	}
	if _, err := uuid.Parse(detail.EventID); err != nil {
		t.Errorf("eventId %q is not a UUID: %v", detail.EventID, err)
	}
	if !detail.FinalizedAt.Equal(now) {
		t.Errorf("finalizedAt = %v, want %v", detail.FinalizedAt, now)
	}
}

func TestAnnounceFinalized_DefaultBus(t *testing.T) {
	fake := &fakeEventBridge{}
	if err := NewEventBridgeAnnouncer(fake, "").AnnounceFinalized(context.Background(), ParticipantFinalized{Tenant: "acme", ParticipantRef: "P1", EventID: "fixed"}); err != nil {
		t.Fatalf("AnnounceFinalized: %v", err)
	}
	if fake.inputs[0].Entries[0].EventBusName != nil {
		t.Error("EventBusName should be unset for the default bus")
	}
}

func TestAnnounceFinalized_Errors(t *testing.T) {
	fake := &fakeEventBridge{err: errors.New("throttled")}
	if err := NewEventBridgeAnnouncer(fake, "bus").AnnounceFinalized(context.Background(), ParticipantFinalized{}); err == nil {
		t.Error("expected error when PutEvents fails")
	}

	fake = &fakeEventBridge{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries: []eventbridgetypes.PutEventsResultEntry{
			{ErrorCode: aws.String("InternalFailure"), ErrorMessage: aws.String("try again")},
		},
	}}
	if err := NewEventBridgeAnnouncer(fake, "bus").AnnounceFinalized(context.Background(), ParticipantFinalized{}); err == nil {
		t.Error("expected error when an entry fails")
	}
}

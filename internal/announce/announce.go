// Package announce publishes participant lifecycle events to EventBridge.
package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	Source              = "photo-contest"
	DetailTypeFinalized = "ParticipantFinalized"
)

// ParticipantFinalized is the detail of the event emitted once per
// participant when every required slot has been processed.
type ParticipantFinalized struct {
	EventID        string    `json:"eventId"`
	Tenant         string    `json:"tenant"`
	ParticipantRef string    `json:"participantRef"`
	UploadCount    int       `json:"uploadCount"`
	FinalizedAt    time.Time `json:"finalizedAt"`
}

// Announcer publishes participant events.
type Announcer interface {
	AnnounceFinalized(ctx context.Context, event ParticipantFinalized) error
}

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeAnnouncer puts events on a named bus. An empty bus name means
// the account's default bus.
type EventBridgeAnnouncer struct {
	client  EventBridgeAPI
	busName string
	now     func() time.Time
}

var _ Announcer = (*EventBridgeAnnouncer)(nil)

func NewEventBridgeAnnouncer(client EventBridgeAPI, busName string) *EventBridgeAnnouncer {
	return &EventBridgeAnnouncer{client: client, busName: busName, now: time.Now}
}

// AnnounceFinalized puts one ParticipantFinalized event. EventID and
// FinalizedAt are filled in when unset.
func (a *EventBridgeAnnouncer) AnnounceFinalized(ctx context.Context, event ParticipantFinalized) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.FinalizedAt.IsZero() {
		event.FinalizedAt = a.now().UTC()
	}

	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ParticipantFinalized: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(DetailTypeFinalized),
		Detail:     aws.String(string(detail)),
		Time:       aws.Time(event.FinalizedAt),
	}
	if a.busName != "" {
		entry.EventBusName = aws.String(a.busName)
	}

	result, err := a.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("tenant", event.Tenant).Str("participantRef", event.ParticipantRef).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(e.ErrorCode)).
					Str("errorMessage", aws.ToString(e.ErrorMessage)).
					Str("tenant", event.Tenant).
					Str("participantRef", event.ParticipantRef).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
		return fmt.Errorf("PutEvents: %d entries failed", result.FailedEntryCount)
	}

	log.Info().
		Str("eventId", event.EventID).
		Str("tenant", event.Tenant).
		Str("participantRef", event.ParticipantRef).
		Int("uploadCount", event.UploadCount).
		Msg("ParticipantFinalized emitted to EventBridge")
	return nil
}

package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// Message is one inbound queue message.
type Message struct {
	ID   string
	Body string
}

// ObjectRef is one object referenced by a notification.
type ObjectRef struct {
	Bucket string
	Key    string
	// Escaped is true when Key is URL-encoded, as in S3 event notifications.
	Escaped bool
}

const (
	s3TestEvent          = "s3:TestEvent"
	eventBridgeSourceS3  = "aws.s3"
	snsNotificationType  = "Notification"
	s3EventSource        = "aws:s3"
	s3ObjectCreatedEvent = "ObjectCreated:"
)

var errUndecodableEnvelope = errors.New("undecodable envelope")

// probe holds the discriminating fields of every envelope shape we accept.
type probe struct {
	Records    json.RawMessage `json:"Records"`
	Event      string          `json:"Event"`
	Type       string          `json:"Type"`
	Message    string          `json:"Message"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
}

// eventBridgeS3Detail is the detail of an EventBridge "Object Created" event.
type eventBridgeS3Detail struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key string `json:"key"`
	} `json:"object"`
}

// decodeEnvelope extracts object references from a message body. S3 event
// notifications are accepted directly, wrapped in an SNS notification, or
// as EventBridge events from aws.s3. An S3 test event yields no references
// and no error.
func decodeEnvelope(body string) ([]ObjectRef, error) {
	return decodeEnvelopeDepth(body, 0)
}

func decodeEnvelopeDepth(body string, depth int) ([]ObjectRef, error) {
	if depth > 1 {
		return nil, fmt.Errorf("%w: nested envelope", errUndecodableEnvelope)
	}

	var p probe
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errUndecodableEnvelope, err)
	}

	switch {
	case p.Event == s3TestEvent:
		return nil, nil

	case p.Records != nil:
		var ev events.S3Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return nil, fmt.Errorf("%w: s3 event: %v", errUndecodableEnvelope, err)
		}
		refs := make([]ObjectRef, 0, len(ev.Records))
		for _, r := range ev.Records {
			if r.EventSource != "" && r.EventSource != s3EventSource {
				continue
			}
			if r.EventName != "" && !strings.HasPrefix(r.EventName, s3ObjectCreatedEvent) {
				continue
			}
			refs = append(refs, ObjectRef{Bucket: r.S3.Bucket.Name, Key: r.S3.Object.Key, Escaped: true})
		}
		return refs, nil

	case p.Type == snsNotificationType:
		return decodeEnvelopeDepth(p.Message, depth+1)

	case p.Source == eventBridgeSourceS3 && p.Detail != nil:
		var d eventBridgeS3Detail
		if err := json.Unmarshal(p.Detail, &d); err != nil {
			return nil, fmt.Errorf("%w: eventbridge detail: %v", errUndecodableEnvelope, err)
		}
		if d.Object.Key == "" {
			return nil, fmt.Errorf("%w: eventbridge detail without object key", errUndecodableEnvelope)
		}
		return []ObjectRef{{Bucket: d.Bucket.Name, Key: d.Object.Key}}, nil
	}

	return nil, fmt.Errorf("%w: unrecognised message shape", errUndecodableEnvelope)
}

package pipeline

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	s3Body := `{"Records":[
		{"eventSource":"aws:s3","eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"media"},"object":{"key":"acme/P1/0/my+photo.jpg"}}},
		{"eventSource":"aws:s3","eventName":"ObjectRemoved:Delete","s3":{"bucket":{"name":"media"},"object":{"key":"acme/P1/1/b.jpg"}}},
		{"eventSource":"aws:s3","eventName":"ObjectCreated:CompleteMultipartUpload","s3":{"bucket":{"name":"media"},"object":{"key":"acme/P1/2/c.jpg"}}}
	]}`
	snsBody, _ := json.Marshal(map[string]string{
		"Type":    "Notification",
		"Message": s3Body,
	})

	tests := []struct {
		name string
		body string
		want []ObjectRef
	}{
		{
			name: "s3 notification",
			body: s3Body,
			want: []ObjectRef{
				{Bucket: "media", Key: "acme/P1/0/my+photo.jpg", Escaped: true},
				{Bucket: "media", Key: "acme/P1/2/c.jpg", Escaped: true},
			},
		},
		{
			name: "sns wrapped",
			body: string(snsBody),
			want: []ObjectRef{
				{Bucket: "media", Key: "acme/P1/0/my+photo.jpg", Escaped: true},
				{Bucket: "media", Key: "acme/P1/2/c.jpg", Escaped: true},
			},
		},
		{
			name: "eventbridge",
			body: `{"version":"0","source":"aws.s3","detail-type":"Object Created","detail":{"bucket":{"name":"media"},"object":{"key":"acme/P2/0/x.jpg","size":1024}}}`,
			want: []ObjectRef{{Bucket: "media", Key: "acme/P2/0/x.jpg"}},
		},
		{
			name: "s3 test event",
			body: `{"Service":"Amazon S3","Event":"s3:TestEvent","Time":"2026-05-01T10:00:00.000Z","Bucket":"media"}`,
			want: nil,
		},
		{
			name: "empty records",
			body: `{"Records":[]}`,
			want: []ObjectRef{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeEnvelope(tt.body)
			if err != nil {
				t.Fatalf("decodeEnvelope: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d refs %+v, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ref %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecodeEnvelope_Errors(t *testing.T) {
	nested, _ := json.Marshal(map[string]string{"Type": "Notification", "Message": `{"Type":"Notification","Message":"{}"}`})

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"unknown shape", `{"foo":"bar"}`},
		{"eventbridge other source", `{"source":"aws.ec2","detail":{}}`},
		{"eventbridge without key", `{"source":"aws.s3","detail":{"bucket":{"name":"media"}}}`},
		{"sns with garbage", `{"Type":"Notification","Message":"not json"}`},
		{"doubly nested sns", string(nested)},
		{"records wrong type", `{"Records":"oops"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeEnvelope(tt.body); !errors.Is(err, errUndecodableEnvelope) {
				t.Errorf("decodeEnvelope(%s) error = %v, want errUndecodableEnvelope", tt.body, err)
			}
		})
	}
}

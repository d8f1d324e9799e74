package keycodec

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    Key
		wantErr bool
	}{
		{
			name: "valid key",
			key:  "acme/P1/0/a.jpg",
			want: Key{Tenant: "acme", ParticipantRef: "P1", SlotIndex: 0, FileName: "a.jpg"},
		},
		{
			name: "multi-digit slot",
			key:  "acme/runner-42/12/IMG_0001.JPG",
			want: Key{Tenant: "acme", ParticipantRef: "runner-42", SlotIndex: 12, FileName: "IMG_0001.JPG"},
		},
		{name: "missing file name", key: "acme/P1/0", wantErr: true},
		{name: "missing everything", key: "acme", wantErr: true},
		{name: "empty tenant", key: "/P1/0/a.jpg", wantErr: true},
		{name: "empty file name", key: "acme/P1/0/", wantErr: true},
		{name: "non-numeric slot", key: "acme/P1/first/a.jpg", wantErr: true},
		{name: "negative slot", key: "acme/P1/-1/a.jpg", wantErr: true},
		{name: "zero-padded slot", key: "acme/P9/01/a.jpg", wantErr: true},
		{name: "signed slot", key: "acme/P9/+1/a.jpg", wantErr: true},
		{name: "padded zero slot", key: "acme/P9/00/a.jpg", wantErr: true},
		{name: "nested file name", key: "acme/P1/0/sub/a.jpg", wantErr: true},
		{name: "empty key", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.key)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKeyFormat) {
					t.Fatalf("Parse(%q) error = %v, want ErrInvalidKeyFormat", tt.key, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.key, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.key, got, tt.want)
			}
		})
	}
}

func TestParseEscaped(t *testing.T) {
	got, err := ParseEscaped("acme/P1/3/my+photo%281%29.jpg")
	if err != nil {
		t.Fatalf("ParseEscaped unexpected error: %v", err)
	}
	if got.FileName != "my photo(1).jpg" {
		t.Errorf("FileName = %q, want %q", got.FileName, "my photo(1).jpg")
	}

	if _, err := ParseEscaped("acme/P1/3/bad%zz.jpg"); !errors.Is(err, ErrInvalidKeyFormat) {
		t.Errorf("ParseEscaped with bad escape: error = %v, want ErrInvalidKeyFormat", err)
	}
}

func TestThumbnailKey(t *testing.T) {
	k := Key{Tenant: "acme", ParticipantRef: "P1", SlotIndex: 1, FileName: "b.jpg"}
	if got, want := ThumbnailKey(k), "acme/P1/1/thumbnail_b.jpg"; got != want {
		t.Errorf("ThumbnailKey() = %q, want %q", got, want)
	}

	parsed, err := Parse(ThumbnailKey(k))
	if err != nil {
		t.Fatalf("thumbnail key does not parse: %v", err)
	}
	if !IsThumbnail(parsed) {
		t.Error("IsThumbnail() = false for a derived key")
	}
	if IsThumbnail(k) {
		t.Error("IsThumbnail() = true for an original key")
	}
}

func TestKeyStringRoundTrip(t *testing.T) {
	const key = "acme/P1/7/c.png"
	k, err := Parse(key)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if k.String() != key {
		t.Errorf("String() = %q, want %q", k.String(), key)
	}
}

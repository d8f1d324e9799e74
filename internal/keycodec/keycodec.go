// Package keycodec parses the object keys that contestants upload photos
// under and builds the keys of derived artifacts.
//
// Upload keys have the form:
//
//	{tenant}/{participantRef}/{slotIndex}/{fileName}
//
// and thumbnails are written next to the original as
//
//	{tenant}/{participantRef}/{slotIndex}/thumbnail_{fileName}
package keycodec

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ThumbnailPrefix is prepended to the file name segment of derived thumbnails.
const ThumbnailPrefix = "thumbnail_"

// ErrInvalidKeyFormat is returned when a key does not have four non-empty
// segments or the slot segment is not a non-negative integer.
var ErrInvalidKeyFormat = errors.New("invalid key format")

// Key is the identifier tuple encoded in an upload key.
type Key struct {
	Tenant         string
	ParticipantRef string
	SlotIndex      int
	FileName       string
}

// String rebuilds the upload key.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d/%s", k.Tenant, k.ParticipantRef, k.SlotIndex, k.FileName)
}

// Parse splits an upload key into its identifier tuple.
func Parse(key string) (Key, error) {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("%w: %q has %d of 4 segments", ErrInvalidKeyFormat, key, len(parts))
	}
	for i, p := range parts {
		if p == "" {
			return Key{}, fmt.Errorf("%w: %q has empty segment %d", ErrInvalidKeyFormat, key, i)
		}
	}

	// The file name may not contain further path separators.
	if strings.Contains(parts[3], "/") {
		return Key{}, fmt.Errorf("%w: %q has a nested file name", ErrInvalidKeyFormat, key)
	}

	slot, err := strconv.Atoi(parts[2])
	if err != nil || slot < 0 {
		return Key{}, fmt.Errorf("%w: %q slot %q is not a non-negative integer", ErrInvalidKeyFormat, key, parts[2])
	}
	// Only the canonical form is accepted so Key.String rebuilds the exact
	// key: "01", "+1" and "1" would otherwise name one slot but three objects.
	if strconv.Itoa(slot) != parts[2] {
		return Key{}, fmt.Errorf("%w: %q slot %q is not in canonical form", ErrInvalidKeyFormat, key, parts[2])
	}

	return Key{
		Tenant:         parts[0],
		ParticipantRef: parts[1],
		SlotIndex:      slot,
		FileName:       parts[3],
	}, nil
}

// ParseEscaped unescapes a key as delivered in S3 event notifications
// (spaces arrive as '+', other bytes percent-encoded) and parses it.
func ParseEscaped(key string) (Key, error) {
	unescaped, err := url.QueryUnescape(key)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKeyFormat, key, err)
	}
	return Parse(unescaped)
}

// ThumbnailKey returns the key the thumbnail for k is stored under.
func ThumbnailKey(k Key) string {
	return fmt.Sprintf("%s/%s/%d/%s%s", k.Tenant, k.ParticipantRef, k.SlotIndex, ThumbnailPrefix, k.FileName)
}

// IsThumbnail reports whether k refers to a derived thumbnail rather than
// an original upload.
func IsThumbnail(k Key) bool {
	return strings.HasPrefix(k.FileName, ThumbnailPrefix)
}

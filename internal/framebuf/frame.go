package framebuf

import (
	"errors"
	"net/http"
	"time"
)

// ErrInvalidFrame is returned when a frame payload is empty or does not
// sniff as an encoded image. Rejected synchronously; nothing is buffered.
var ErrInvalidFrame = errors.New("invalid frame payload")

// ErrUnknownSource is returned by snapshot operations for a (client, source)
// pair that has never received a frame.
var ErrUnknownSource = errors.New("unknown client/source")

// Frame is a single timestamped camera frame. Payload holds the encoded
// image bytes (JPEG or PNG) exactly as received; frames are immutable once
// appended.
type Frame struct {
	Payload    []byte
	Sequence   uint64
	CapturedAt time.Time
	Source     string
}

// validatePayload rejects payloads that cannot possibly decode as an image.
// Full decoding is deferred to video assembly; this is a cheap sniff so the
// ingest path stays O(1).
func validatePayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrInvalidFrame
	}
	ct := http.DetectContentType(payload)
	switch ct {
	case "image/jpeg", "image/png", "image/webp", "image/bmp":
		return nil
	}
	return ErrInvalidFrame
}

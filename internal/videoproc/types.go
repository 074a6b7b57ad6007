// Package videoproc turns buffered frame sequences into playable evidence
// videos and shrinks them to fit transport limits. All file allocation
// goes through the tempstore manager so evidence files are always
// reclaimable.
package videoproc

import "errors"

var (
	// ErrEmptyInput means the frame sequence was empty.
	ErrEmptyInput = errors.New("no frames to assemble")
	// ErrDecodeFailure means the first frame could not be decoded, so the
	// output geometry cannot be established.
	ErrDecodeFailure = errors.New("first frame decode failed")
	// ErrEncoderUnavailable means no candidate encoder could be opened.
	ErrEncoderUnavailable = errors.New("no usable video encoder")
	// ErrEmptyOutput means the writer produced a missing or zero-byte file.
	ErrEmptyOutput = errors.New("encoder produced empty output")
	// ErrCannotOpenSource means the compressor could not read its input.
	ErrCannotOpenSource = errors.New("cannot open source video")
	// ErrCannotCreateWriter means the compressor could not open an output
	// writer.
	ErrCannotCreateWriter = errors.New("cannot create video writer")
)

// EvidenceFile describes one assembled (or compressed) video on disk. The
// path is tracked by the tempstore manager; whoever holds the EvidenceFile
// is responsible for releasing it.
type EvidenceFile struct {
	Path            string
	SizeBytes       int64
	FrameCount      int
	FailedFrames    int
	FPS             float64
	DurationSeconds float64
	CodecUsed       string
	Width           int
	Height          int
	Compressed      bool
}

// EncoderProfile is one candidate in the codec fallback chain.
type EncoderProfile struct {
	Name   string // human-readable codec name
	FourCC string // OpenCV writer FOURCC
	Ext    string // container extension, with dot
}

// DefaultEncoders is tried in order, most portable first. MJPEG-in-AVI
// opens on effectively every OpenCV build; H.264 depends on the local
// ffmpeg/gstreamer backend.
var DefaultEncoders = []EncoderProfile{
	{Name: "mjpeg", FourCC: "MJPG", Ext: ".avi"},
	{Name: "mpeg4", FourCC: "mp4v", Ext: ".mp4"},
	{Name: "h264", FourCC: "avc1", Ext: ".mp4"},
	{Name: "vp9", FourCC: "VP90", Ext: ".webm"},
}

// evenDim forces a dimension even (hardware encoders reject odd sizes) and
// never below 2.
func evenDim(n int) int {
	if n < 2 {
		return 2
	}
	return n - n%2
}

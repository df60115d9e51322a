package ffmpeg

import (
	"errors"
	"time"
)

var (
	// ErrNoVideoStream is returned when a container has no decodable video track
	ErrNoVideoStream = errors.New("no video stream")

	// ErrProbeFailed is returned when ffprobe cannot read the container
	ErrProbeFailed = errors.New("probe failed")

	// ErrDecoderUnavailable means ffmpeg or ffprobe could not be located or
	// started. It is a fault of the host, not of the input.
	ErrDecoderUnavailable = errors.New("video decoder unavailable")
)

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath   string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	FrameRate  string // rational form of FPS as reported by ffprobe, e.g. "30000/1001"
	Frames     int64
	VideoCodec string
}

// Frame is one decoded raster in ffmpeg's bgr24 layout: Width*Height
// pixels, three bytes each, blue first, rows packed without padding.
type Frame struct {
	Index  int
	Width  int
	Height int
	Pix    []byte
}

// Stride returns the byte length of one row
func (f *Frame) Stride() int {
	return f.Width * 3
}

// FrameOptions configures raw frame decoding
type FrameOptions struct {
	// MaxDuration stops decoding after this much media time. Zero decodes everything.
	MaxDuration time.Duration
}

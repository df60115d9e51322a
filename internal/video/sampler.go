// Package video samples frames from a decoded stream at a fixed time
// interval and folds per-frame classifications into a single verdict.
package video

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/keagan/nsfwscan/internal/ffmpeg"
)

var (
	// ErrStreamUnreadable means the container could not be opened, has no
	// usable frame rate, or failed while decoding.
	ErrStreamUnreadable = errors.New("video stream unreadable")

	// ErrNoFramesAnalyzed means the stream opened but produced no usable
	// classifications, either because it was too short or every sampled
	// frame failed.
	ErrNoFramesAnalyzed = errors.New("no frames analyzed")

	// ErrInvalidOptions means the sampler was configured with a period or
	// cap it cannot honor. It reflects configuration, not the upload.
	ErrInvalidOptions = errors.New("invalid sampler options")
)

// Stream is a sequential source of decoded frames at a constant rate.
// ReadFrame returns io.EOF at end of stream.
type Stream interface {
	FrameRate() float64
	ReadFrame() (*ffmpeg.Frame, error)
	Close() error
}

// FrameSource yields sampled frames until io.EOF
type FrameSource interface {
	Next() (*ffmpeg.Frame, error)
}

// FrameInterval returns how many raw frames separate two samples:
// round(fps * period). Rates or periods that would yield less than one
// frame are rejected rather than degraded to sampling every frame.
func FrameInterval(fps float64, period time.Duration) (int, error) {
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return 0, fmt.Errorf("%w: invalid frame rate %v", ErrStreamUnreadable, fps)
	}
	if period <= 0 {
		return 0, fmt.Errorf("%w: sample period %s must be positive", ErrInvalidOptions, period)
	}

	interval := math.Round(fps * period.Seconds())
	if interval < 1 {
		return 0, fmt.Errorf("%w: frame rate %v with period %s gives interval %v",
			ErrStreamUnreadable, fps, period, interval)
	}
	if interval > math.MaxInt32 {
		return 0, fmt.Errorf("%w: frame interval %v out of range", ErrStreamUnreadable, interval)
	}
	return int(interval), nil
}

// SamplerOptions configures frame sampling
type SamplerOptions struct {
	Period time.Duration
	// MaxSamples caps the number of emitted frames. Zero is unbounded.
	MaxSamples int
}

// Sampler emits every interval-th frame of a stream in order.
// It is lazy, finite and cannot be restarted.
type Sampler struct {
	stream   Stream
	interval int
	max      int

	counter int
	emitted int
	done    bool
}

// NewSampler computes the frame interval for stream. The stream is not
// read until Next is called.
func NewSampler(stream Stream, opts SamplerOptions) (*Sampler, error) {
	interval, err := FrameInterval(stream.FrameRate(), opts.Period)
	if err != nil {
		return nil, err
	}
	if opts.MaxSamples < 0 {
		return nil, fmt.Errorf("%w: max samples %d must not be negative", ErrInvalidOptions, opts.MaxSamples)
	}

	return &Sampler{
		stream:   stream,
		interval: interval,
		max:      opts.MaxSamples,
	}, nil
}

// Interval returns the number of raw frames between samples
func (s *Sampler) Interval() int {
	return s.interval
}

// Decoded returns how many raw frames have been read so far
func (s *Sampler) Decoded() int {
	return s.counter
}

// Next returns the next sampled frame, or io.EOF once the stream is
// exhausted or the sample cap is reached. Decode failures wrap
// ErrStreamUnreadable.
func (s *Sampler) Next() (*ffmpeg.Frame, error) {
	if s.done {
		return nil, io.EOF
	}
	if s.max > 0 && s.emitted >= s.max {
		s.done = true
		return nil, io.EOF
	}

	for {
		frame, err := s.stream.ReadFrame()
		if errors.Is(err, io.EOF) {
			s.done = true
			return nil, io.EOF
		}
		if err != nil {
			s.done = true
			return nil, fmt.Errorf("%w: frame %d: %w", ErrStreamUnreadable, s.counter, err)
		}

		index := s.counter
		s.counter++
		if index%s.interval == 0 {
			s.emitted++
			return frame, nil
		}
	}
}

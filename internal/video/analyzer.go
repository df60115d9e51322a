package video

import (
	"context"
	"errors"
	"fmt"

	"github.com/keagan/nsfwscan/internal/ffmpeg"
	"github.com/keagan/nsfwscan/internal/metrics"
	"github.com/rs/zerolog"
)

// OpenFunc opens a stream for the video stored at path
type OpenFunc func(ctx context.Context, path string) (Stream, error)

// FFmpegOpener decodes videos with the given executor
func FFmpegOpener(exec *ffmpeg.Executor, opts ffmpeg.FrameOptions) OpenFunc {
	return func(ctx context.Context, path string) (Stream, error) {
		r, err := exec.OpenFrames(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Analyzer runs the full open, sample, aggregate, close cycle for one file
type Analyzer struct {
	logger     zerolog.Logger
	open       OpenFunc
	aggregator *Aggregator
	opts       SamplerOptions
}

// NewAnalyzer wires a stream opener to an aggregator
func NewAnalyzer(logger zerolog.Logger, open OpenFunc, aggregator *Aggregator, opts SamplerOptions) *Analyzer {
	return &Analyzer{
		logger:     logger.With().Str("component", "video-analyzer").Logger(),
		open:       open,
		aggregator: aggregator,
		opts:       opts,
	}
}

// Analyze classifies the video at path. The stream is closed on every
// return path.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*Verdict, error) {
	stream, err := a.open(ctx, path)
	if err != nil {
		return nil, openError(ctx, err)
	}
	defer stream.Close()

	sampler, err := NewSampler(stream, a.opts)
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("input", path).
		Float64("fps", stream.FrameRate()).
		Int("interval", sampler.Interval()).
		Dur("period", a.opts.Period).
		Msg("sampling video")

	v, err := a.aggregator.Aggregate(ctx, sampler)
	if err != nil {
		return nil, err
	}

	metrics.VerdictsTotal.WithLabelValues(v.Verdict).Inc()

	a.logger.Debug().
		Int("decoded", sampler.Decoded()).
		Int("sampled", v.TotalFramesAnalyzed+v.SkippedFrames).
		Msg("video sampling complete")

	return v, nil
}

// openError keeps cancellation and a missing decoder distinct from a bad
// upload; everything else means the input could not be opened.
func openError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("open video: %w", ctx.Err())
	}
	if errors.Is(err, ffmpeg.ErrDecoderUnavailable) {
		return fmt.Errorf("open video: %w", err)
	}
	return fmt.Errorf("%w: %w", ErrStreamUnreadable, err)
}

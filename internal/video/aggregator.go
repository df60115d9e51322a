package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/keagan/nsfwscan/internal/ai"
	"github.com/keagan/nsfwscan/internal/metrics"
	"github.com/rs/zerolog"
)

// Verdict labels
const (
	VerdictNSFW = "NSFW"
	VerdictSFW  = "SFW"
)

// Verdict summarizes one analyzed video
type Verdict struct {
	TotalFramesAnalyzed int     `json:"total_frames_analyzed"`
	NSFWFrames          int     `json:"nsfw_frames"`
	NSFWRatio           float64 `json:"nsfw_ratio"`
	Verdict             string  `json:"verdict"`
	SkippedFrames       int     `json:"skipped_frames"`
}

// Policy decides which labels count as unsafe and how many are tolerated
type Policy struct {
	PositiveLabels []string
	// Threshold is a percentage; ratios strictly above it are NSFW.
	Threshold float64
}

// DefaultPolicy returns the stock label set and 10% threshold
func DefaultPolicy() Policy {
	return Policy{
		PositiveLabels: []string{"nsfw", "porn", "sexual"},
		Threshold:      10.0,
	}
}

// IsPositive reports whether label is in the unsafe set, ignoring case
func (p Policy) IsPositive(label string) bool {
	for _, l := range p.PositiveLabels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// Aggregator classifies sampled frames one at a time and keeps only
// running counters.
type Aggregator struct {
	logger     zerolog.Logger
	classifier ai.Classifier
	policy     Policy
}

// NewAggregator creates an aggregator around an injected classifier
func NewAggregator(logger zerolog.Logger, classifier ai.Classifier, policy Policy) *Aggregator {
	return &Aggregator{
		logger:     logger.With().Str("component", "aggregator").Logger(),
		classifier: classifier,
		policy:     policy,
	}
}

// Aggregate drains frames and returns the verdict. A frame the classifier
// rejects is skipped and counted in SkippedFrames; it never fails the video.
func (a *Aggregator) Aggregate(ctx context.Context, frames FrameSource) (*Verdict, error) {
	var total, positive, skipped int

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := frames.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// a killed decoder surfaces as a read failure
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		img, err := ToRGBA(frame)
		if err != nil {
			skipped++
			metrics.FramesSkippedTotal.Inc()
			a.logger.Warn().Err(err).Int("frame", frame.Index).Msg("frame conversion failed, skipping")
			continue
		}

		start := time.Now()
		pred, err := a.classifier.Classify(ctx, img)
		metrics.ClassificationDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			skipped++
			metrics.FramesSkippedTotal.Inc()
			a.logger.Warn().Err(err).Int("frame", frame.Index).Msg("frame classification failed, skipping")
			continue
		}

		total++
		metrics.FramesAnalyzedTotal.Inc()
		if a.policy.IsPositive(pred.Label) {
			positive++
		}

		a.logger.Debug().
			Int("frame", frame.Index).
			Str("label", pred.Label).
			Float64("confidence", pred.Confidence).
			Msg("frame classified")
	}

	if total == 0 {
		return nil, fmt.Errorf("%w: %d sampled frames failed classification", ErrNoFramesAnalyzed, skipped)
	}

	v := a.verdict(total, positive, skipped)

	a.logger.Info().
		Int("analyzed", v.TotalFramesAnalyzed).
		Int("nsfw_frames", v.NSFWFrames).
		Int("skipped", v.SkippedFrames).
		Float64("nsfw_ratio", v.NSFWRatio).
		Str("verdict", v.Verdict).
		Msg("video aggregated")

	return v, nil
}

func (a *Aggregator) verdict(total, positive, skipped int) *Verdict {
	ratio := ai.Round2(100 * float64(positive) / float64(total))

	label := VerdictSFW
	if ratio > a.policy.Threshold {
		label = VerdictNSFW
	}

	return &Verdict{
		TotalFramesAnalyzed: total,
		NSFWFrames:          positive,
		NSFWRatio:           ratio,
		Verdict:             label,
		SkippedFrames:       skipped,
	}
}

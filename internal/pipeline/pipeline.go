package pipeline

import (
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/keagan/nsfwscan/internal/ai"
	"github.com/keagan/nsfwscan/internal/config"
	"github.com/keagan/nsfwscan/internal/media"
	"github.com/keagan/nsfwscan/internal/metrics"
	"github.com/keagan/nsfwscan/internal/video"
	"github.com/keagan/nsfwscan/pkg/util"
	"github.com/rs/zerolog"
)

// Result is the outcome for one upload. Exactly one of Prediction and
// Verdict is set, matching Type.
type Result struct {
	Type string `json:"type"`
	*ai.Prediction
	*video.Verdict
}

// Pipeline routes uploads to image classification or video sampling
type Pipeline struct {
	logger     zerolog.Logger
	classifier ai.Classifier
	analyzer   *video.Analyzer
	tempDir    string
}

// New creates a pipeline around an injected classifier and video opener
func New(logger zerolog.Logger, cfg *config.Config, classifier ai.Classifier, open video.OpenFunc) *Pipeline {
	policy := video.Policy{
		PositiveLabels: cfg.Video.PositiveLabels,
		Threshold:      cfg.Video.Threshold,
	}
	aggregator := video.NewAggregator(logger, classifier, policy)
	analyzer := video.NewAnalyzer(logger, open, aggregator, video.SamplerOptions{
		Period:     cfg.Video.SamplePeriod,
		MaxSamples: cfg.Video.MaxSampledFrames,
	})

	return &Pipeline{
		logger:     logger.With().Str("component", "pipeline").Logger(),
		classifier: classifier,
		analyzer:   analyzer,
		tempDir:    cfg.Server.TempDir,
	}
}

// Close releases the classifier
func (p *Pipeline) Close() error {
	return p.classifier.Close()
}

// Analyze dispatches an upload named name by extension. Videos are spooled
// to a temporary file that is removed before Analyze returns.
func (p *Pipeline) Analyze(ctx context.Context, name string, r io.Reader) (*Result, error) {
	kind, err := media.Detect(name)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("unknown", string(KindUnsupportedFormat)).Inc()
		return nil, AsError(err)
	}

	start := time.Now()
	var res *Result
	switch kind {
	case media.Image:
		res, err = p.ClassifyImage(ctx, r)
	case media.Video:
		res, err = p.analyzeUpload(ctx, name, r)
	}
	p.observe(kind, start, err)

	return res, err
}

// AnalyzeFile dispatches a file already on disk. Videos are read in place.
func (p *Pipeline) AnalyzeFile(ctx context.Context, path string) (*Result, error) {
	kind, err := media.Detect(path)
	if err != nil {
		return nil, AsError(err)
	}

	start := time.Now()
	var res *Result
	switch kind {
	case media.Image:
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, newError(KindInvalidRequest, "Could not open file", err)
		}
		defer f.Close()
		res, err = p.ClassifyImage(ctx, f)
	case media.Video:
		res, err = p.AnalyzeVideo(ctx, path)
	}
	p.observe(kind, start, err)

	return res, err
}

// ClassifyImage decodes a still image and runs the classifier on it
func (p *Pipeline) ClassifyImage(ctx context.Context, r io.Reader) (*Result, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, newError(KindImageUndecodable, "Could not decode image", err)
	}

	pred, err := p.classifier.Classify(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, AsError(ctx.Err())
		}
		return nil, newError(KindClassificationFailed, "Image classification failed", err)
	}

	p.logger.Info().
		Str("format", format).
		Str("label", pred.Label).
		Float64("confidence", pred.Confidence).
		Msg("image classified")

	return &Result{Type: media.Image.String(), Prediction: &pred}, nil
}

// AnalyzeVideo samples and aggregates the video at path
func (p *Pipeline) AnalyzeVideo(ctx context.Context, path string) (*Result, error) {
	v, err := p.analyzer.Analyze(ctx, path)
	if err != nil {
		return nil, AsError(err)
	}
	return &Result{Type: media.Video.String(), Verdict: v}, nil
}

func (p *Pipeline) analyzeUpload(ctx context.Context, name string, r io.Reader) (*Result, error) {
	path, n, cleanup, err := util.Spool(p.tempDir, util.Ext(name), r)
	defer cleanup()
	if errors.Is(err, util.ErrSpoolWrite) {
		return nil, newError(KindInternal, "Could not store upload", err)
	}
	if err != nil {
		return nil, newError(KindInvalidRequest, "Could not read upload", err)
	}

	p.logger.Debug().
		Str("upload", name).
		Str("path", path).
		Int64("bytes", n).
		Msg("upload spooled")

	return p.AnalyzeVideo(ctx, path)
}

func (p *Pipeline) observe(kind media.Kind, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(AsError(err).Kind)
	}
	metrics.AnalysesTotal.WithLabelValues(kind.String(), outcome).Inc()
	metrics.AnalysisDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
}

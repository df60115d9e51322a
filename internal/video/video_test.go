package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"testing"
	"time"

	"github.com/keagan/nsfwscan/internal/ai"
	"github.com/keagan/nsfwscan/internal/ffmpeg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStream yields total 2x2 frames at fps. Frames listed in nsfw carry a
// saturated blue channel; failAt injects a decode error at that index.
type fakeStream struct {
	fps    float64
	total  int
	nsfw   map[int]bool
	failAt int

	next   int
	closed int
}

func newFakeStream(fps float64, total int, nsfw ...int) *fakeStream {
	s := &fakeStream{fps: fps, total: total, nsfw: map[int]bool{}, failAt: -1}
	for _, i := range nsfw {
		s.nsfw[i] = true
	}
	return s
}

func (s *fakeStream) FrameRate() float64 { return s.fps }

func (s *fakeStream) ReadFrame() (*ffmpeg.Frame, error) {
	if s.next == s.failAt {
		return nil, errors.New("corrupt packet")
	}
	if s.next >= s.total {
		return nil, io.EOF
	}
	pix := make([]byte, 2*2*3)
	if s.nsfw[s.next] {
		for i := 0; i < len(pix); i += 3 {
			pix[i] = 0xff
		}
	}
	f := &ffmpeg.Frame{Index: s.next, Width: 2, Height: 2, Pix: pix}
	s.next++
	return f, nil
}

func (s *fakeStream) Close() error {
	s.closed++
	return nil
}

// blueClassifier labels frames with a saturated blue channel as label
func blueClassifier(label string) ai.Classifier {
	return ai.ClassifierFunc(func(ctx context.Context, img image.Image) (ai.Prediction, error) {
		rgba := img.(*image.RGBA)
		if rgba.Pix[2] == 0xff {
			return ai.Prediction{Label: label, Confidence: 97.5}, nil
		}
		return ai.Prediction{Label: "normal", Confidence: 99.1}, nil
	})
}

func collect(t *testing.T, s *Sampler) []int {
	t.Helper()
	var idx []int
	for {
		f, err := s.Next()
		if errors.Is(err, io.EOF) {
			return idx
		}
		require.NoError(t, err)
		idx = append(idx, f.Index)
	}
}

func TestFrameInterval(t *testing.T) {
	tests := []struct {
		name    string
		fps     float64
		period  time.Duration
		want    int
		wantErr bool
	}{
		{"30fps 2s", 30, 2 * time.Second, 60, false},
		{"ntsc 2s", 29.97, 2 * time.Second, 60, false},
		{"25fps 500ms", 25, 500 * time.Millisecond, 13, false},
		{"half rounds up", 0.5, time.Second, 1, false},
		{"rounds to zero", 0.4, time.Second, 0, true},
		{"zero fps", 0, 2 * time.Second, 0, true},
		{"negative fps", -30, 2 * time.Second, 0, true},
		{"nan fps", math.NaN(), 2 * time.Second, 0, true},
		{"inf fps", math.Inf(1), 2 * time.Second, 0, true},
		{"zero period", 30, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FrameInterval(tt.fps, tt.period)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFrameIntervalNeverBelowOne(t *testing.T) {
	rates := []float64{0.01, 0.1, 0.49, 0.5, 1, 12, 23.976, 29.97, 30, 59.94, 60, 240}
	periods := []time.Duration{10 * time.Millisecond, 100 * time.Millisecond, time.Second, 2 * time.Second, time.Minute}

	for _, r := range rates {
		for _, p := range periods {
			got, err := FrameInterval(r, p)
			if err != nil {
				assert.ErrorIs(t, err, ErrStreamUnreadable, "fps=%v period=%s", r, p)
				assert.Less(t, math.Round(r*p.Seconds()), 1.0)
				continue
			}
			assert.GreaterOrEqual(t, got, 1, "fps=%v period=%s", r, p)
			assert.Equal(t, int(math.Round(r*p.Seconds())), got)
		}
	}
}

func TestSamplerPicksEveryIntervalFrame(t *testing.T) {
	stream := newFakeStream(30, 300)
	s, err := NewSampler(stream, SamplerOptions{Period: 2 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 60, s.Interval())
	assert.Equal(t, []int{0, 60, 120, 180, 240}, collect(t, s))
	assert.Equal(t, 300, s.Decoded())

	// exhausted samplers stay exhausted
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSamplerMaxSamples(t *testing.T) {
	s, err := NewSampler(newFakeStream(30, 300), SamplerOptions{Period: 2 * time.Second, MaxSamples: 2})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 60}, collect(t, s))
	assert.Less(t, s.Decoded(), 300)
}

func TestSamplerRejectsBadOptions(t *testing.T) {
	_, err := FrameInterval(30, 0)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.NotErrorIs(t, err, ErrStreamUnreadable)

	_, err = NewSampler(newFakeStream(30, 300), SamplerOptions{Period: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = NewSampler(newFakeStream(30, 300), SamplerOptions{Period: time.Second, MaxSamples: -1})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestSamplerRejectsZeroFrameRate(t *testing.T) {
	_, err := NewSampler(newFakeStream(0, 300), SamplerOptions{Period: 2 * time.Second})
	assert.ErrorIs(t, err, ErrStreamUnreadable)
}

func TestSamplerDecodeErrorIsUnreadable(t *testing.T) {
	stream := newFakeStream(30, 300)
	stream.failAt = 90

	s, err := NewSampler(stream, SamplerOptions{Period: 2 * time.Second})
	require.NoError(t, err)

	_, err = s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	assert.ErrorIs(t, err, ErrStreamUnreadable)
}

func TestToRGBASwapsChannels(t *testing.T) {
	f := &ffmpeg.Frame{Width: 2, Height: 1, Pix: []byte{1, 2, 3, 4, 5, 6}}

	img, err := ToRGBA(f)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 2, 1, 0xff, 6, 5, 4, 0xff}, img.Pix)

	_, err = ToRGBA(&ffmpeg.Frame{Width: 2, Height: 2, Pix: []byte{1, 2, 3}})
	assert.Error(t, err)
}

func aggregate(t *testing.T, stream *fakeStream, c ai.Classifier, policy Policy) (*Verdict, error) {
	t.Helper()
	s, err := NewSampler(stream, SamplerOptions{Period: 2 * time.Second})
	require.NoError(t, err)
	return NewAggregator(zerolog.Nop(), c, policy).Aggregate(context.Background(), s)
}

func TestAggregateAllSafe(t *testing.T) {
	v, err := aggregate(t, newFakeStream(30, 300), blueClassifier("nsfw"), DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, &Verdict{TotalFramesAnalyzed: 5, NSFWFrames: 0, NSFWRatio: 0, Verdict: VerdictSFW}, v)
}

func TestAggregateOneOfFiveIsNSFW(t *testing.T) {
	v, err := aggregate(t, newFakeStream(30, 300, 120), blueClassifier("nsfw"), DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, 5, v.TotalFramesAnalyzed)
	assert.Equal(t, 1, v.NSFWFrames)
	assert.Equal(t, 20.0, v.NSFWRatio)
	assert.Equal(t, VerdictNSFW, v.Verdict)
}

func TestAggregateThresholdIsStrict(t *testing.T) {
	// 600 frames at 30fps, every 60th sampled: 10 samples, one positive
	v, err := aggregate(t, newFakeStream(30, 600, 60), blueClassifier("nsfw"), DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, 10, v.TotalFramesAnalyzed)
	assert.Equal(t, 10.0, v.NSFWRatio)
	assert.Equal(t, VerdictSFW, v.Verdict)
}

func TestAggregateRoundsRatio(t *testing.T) {
	// 3 samples, one positive: 33.333... -> 33.33
	v, err := aggregate(t, newFakeStream(30, 180, 0), blueClassifier("nsfw"), DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, 3, v.TotalFramesAnalyzed)
	assert.Equal(t, 33.33, v.NSFWRatio)
	assert.Equal(t, VerdictNSFW, v.Verdict)
}

func TestAggregateLabelMatchIgnoresCase(t *testing.T) {
	for _, label := range []string{"NSFW", "Porn", "sexual"} {
		v, err := aggregate(t, newFakeStream(30, 300, 0, 60), blueClassifier(label), DefaultPolicy())
		require.NoError(t, err)
		assert.Equal(t, 2, v.NSFWFrames, label)
	}

	v, err := aggregate(t, newFakeStream(30, 300, 0, 60), blueClassifier("hentai"), DefaultPolicy())
	require.NoError(t, err)
	assert.Zero(t, v.NSFWFrames)
}

func TestAggregateCustomPolicy(t *testing.T) {
	policy := Policy{PositiveLabels: []string{"unsafe"}, Threshold: 50}
	v, err := aggregate(t, newFakeStream(30, 300, 0, 60), blueClassifier("unsafe"), policy)
	require.NoError(t, err)

	assert.Equal(t, 40.0, v.NSFWRatio)
	assert.Equal(t, VerdictSFW, v.Verdict)
}

func TestAggregateSkipsFailedFrames(t *testing.T) {
	calls := 0
	c := ai.ClassifierFunc(func(ctx context.Context, img image.Image) (ai.Prediction, error) {
		calls++
		if calls == 2 || calls == 4 {
			return ai.Prediction{}, errors.New("bad tensor")
		}
		if img.(*image.RGBA).Pix[2] == 0xff {
			return ai.Prediction{Label: "nsfw"}, nil
		}
		return ai.Prediction{Label: "normal"}, nil
	})

	v, err := aggregate(t, newFakeStream(30, 300, 0), c, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, 5, calls)
	assert.Equal(t, 3, v.TotalFramesAnalyzed)
	assert.Equal(t, 2, v.SkippedFrames)
	assert.Equal(t, 1, v.NSFWFrames)
	assert.Equal(t, 33.33, v.NSFWRatio)
	assert.LessOrEqual(t, v.NSFWFrames, v.TotalFramesAnalyzed)
}

func TestAggregateAllFramesFail(t *testing.T) {
	c := ai.ClassifierFunc(func(ctx context.Context, img image.Image) (ai.Prediction, error) {
		return ai.Prediction{}, errors.New("model exploded")
	})

	v, err := aggregate(t, newFakeStream(30, 300), c, DefaultPolicy())
	assert.Nil(t, v)
	assert.ErrorIs(t, err, ErrNoFramesAnalyzed)
}

func TestAggregateEmptyStream(t *testing.T) {
	v, err := aggregate(t, newFakeStream(30, 0), blueClassifier("nsfw"), DefaultPolicy())
	assert.Nil(t, v)
	assert.ErrorIs(t, err, ErrNoFramesAnalyzed)
}

func TestAggregateStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := NewSampler(newFakeStream(30, 300), SamplerOptions{Period: 2 * time.Second})
	require.NoError(t, err)

	_, err = NewAggregator(zerolog.Nop(), blueClassifier("nsfw"), DefaultPolicy()).Aggregate(ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzerClosesStream(t *testing.T) {
	agg := NewAggregator(zerolog.Nop(), blueClassifier("nsfw"), DefaultPolicy())

	t.Run("success", func(t *testing.T) {
		stream := newFakeStream(30, 300, 60)
		a := NewAnalyzer(zerolog.Nop(), func(ctx context.Context, path string) (Stream, error) {
			return stream, nil
		}, agg, SamplerOptions{Period: 2 * time.Second})

		v, err := a.Analyze(context.Background(), "clip.mp4")
		require.NoError(t, err)
		assert.Equal(t, VerdictNSFW, v.Verdict)
		assert.Equal(t, 1, stream.closed)
	})

	t.Run("zero frame rate", func(t *testing.T) {
		stream := newFakeStream(0, 300)
		a := NewAnalyzer(zerolog.Nop(), func(ctx context.Context, path string) (Stream, error) {
			return stream, nil
		}, agg, SamplerOptions{Period: 2 * time.Second})

		_, err := a.Analyze(context.Background(), "clip.mp4")
		assert.ErrorIs(t, err, ErrStreamUnreadable)
		assert.Equal(t, 1, stream.closed)
	})

	t.Run("too short", func(t *testing.T) {
		stream := newFakeStream(30, 0)
		a := NewAnalyzer(zerolog.Nop(), func(ctx context.Context, path string) (Stream, error) {
			return stream, nil
		}, agg, SamplerOptions{Period: 2 * time.Second})

		_, err := a.Analyze(context.Background(), "clip.mp4")
		assert.ErrorIs(t, err, ErrNoFramesAnalyzed)
		assert.Equal(t, 1, stream.closed)
	})

	t.Run("open failure", func(t *testing.T) {
		a := NewAnalyzer(zerolog.Nop(), func(ctx context.Context, path string) (Stream, error) {
			return nil, ffmpeg.ErrProbeFailed
		}, agg, SamplerOptions{Period: 2 * time.Second})

		_, err := a.Analyze(context.Background(), "clip.mkv")
		assert.ErrorIs(t, err, ErrStreamUnreadable)
	})
}

// killedStream cancels ctx when it reaches failAt and then fails the read
// the way a killed ffmpeg child does.
type killedStream struct {
	*fakeStream
	cancel context.CancelFunc
}

func (s *killedStream) ReadFrame() (*ffmpeg.Frame, error) {
	if s.next == s.failAt {
		s.cancel()
		return nil, errors.New("ffmpeg decode failed: signal: killed")
	}
	return s.fakeStream.ReadFrame()
}

func TestAnalyzerOpenErrors(t *testing.T) {
	agg := NewAggregator(zerolog.Nop(), blueClassifier("nsfw"), DefaultPolicy())

	t.Run("decoder unavailable", func(t *testing.T) {
		a := NewAnalyzer(zerolog.Nop(), func(ctx context.Context, path string) (Stream, error) {
			return nil, fmt.Errorf("%w: ffmpeg not found: %w", ffmpeg.ErrDecoderUnavailable, exec.ErrNotFound)
		}, agg, SamplerOptions{Period: 2 * time.Second})

		_, err := a.Analyze(context.Background(), "clip.mp4")
		assert.ErrorIs(t, err, ffmpeg.ErrDecoderUnavailable)
		assert.ErrorIs(t, err, exec.ErrNotFound)
		assert.NotErrorIs(t, err, ErrStreamUnreadable)
	})

	t.Run("canceled while opening", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		a := NewAnalyzer(zerolog.Nop(), func(ctx context.Context, path string) (Stream, error) {
			cancel()
			return nil, fmt.Errorf("%w: signal: killed", ffmpeg.ErrProbeFailed)
		}, agg, SamplerOptions{Period: 2 * time.Second})

		_, err := a.Analyze(ctx, "clip.mp4")
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrStreamUnreadable)
	})

	t.Run("canceled while decoding", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		stream := &killedStream{fakeStream: newFakeStream(30, 300), cancel: cancel}
		stream.failAt = 90
		a := NewAnalyzer(zerolog.Nop(), func(ctx context.Context, path string) (Stream, error) {
			return stream, nil
		}, agg, SamplerOptions{Period: 2 * time.Second})

		_, err := a.Analyze(ctx, "clip.mp4")
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrStreamUnreadable)
		assert.Equal(t, 1, stream.closed)
	})

	t.Run("decode errors keep their cause", func(t *testing.T) {
		stream := newFakeStream(30, 300)
		stream.failAt = 90
		s, err := NewSampler(stream, SamplerOptions{Period: 2 * time.Second})
		require.NoError(t, err)

		_, err = NewAggregator(zerolog.Nop(), blueClassifier("nsfw"), DefaultPolicy()).Aggregate(context.Background(), s)
		assert.ErrorIs(t, err, ErrStreamUnreadable)
		assert.ErrorContains(t, err, "corrupt packet")
	})
}

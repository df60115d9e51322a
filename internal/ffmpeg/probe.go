package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/keagan/nsfwscan/pkg/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProbeVideo extracts metadata from a video file
func (e *Executor) ProbeVideo(ctx context.Context, filePath string) (*VideoInfo, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path is required")
	}

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "v:0",
		filePath,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: ffprobe: %w", ErrDecoderUnavailable, err)
		}
		detail := strings.TrimSpace(string(exitErr.Stderr))
		return nil, fmt.Errorf("%w: %v %s", ErrProbeFailed, err, detail)
	}

	return parseProbe(filePath, output)
}

func parseProbe(filePath string, output []byte) (*VideoInfo, error) {
	var probe probeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("%w: failed to parse ffprobe output: %v", ErrProbeFailed, err)
	}

	info := &VideoInfo{
		FilePath: filePath,
	}

	// Parse duration
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(dur * float64(time.Second))
	}

	found := false
	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		found = true
		info.Width = stream.Width
		info.Height = stream.Height
		info.VideoCodec = stream.CodecName

		info.FrameRate = guessFrameRate(stream.RFrameRate, stream.AvgFrameRate)
		info.FPS = util.ParseFrameRate(info.FrameRate)
		if n, err := strconv.ParseInt(stream.NbFrames, 10, 64); err == nil {
			info.Frames = n
		}
		break
	}

	if !found || info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%s: %w", filePath, ErrNoVideoStream)
	}

	return info, nil
}

// guessFrameRate picks the rate ffmpeg itself would use for constant rate
// output. r_frame_rate is preferred, but phone recordings often report the
// 90k timebase there while the real average is below 70, in which case the
// average wins.
func guessFrameRate(base, avg string) string {
	r := util.ParseFrameRate(base)
	a := util.ParseFrameRate(avg)

	switch {
	case r <= 0 && a > 0:
		return avg
	case r > 210 && a > 0 && a < 70:
		return avg
	case r <= 0:
		return ""
	default:
		return base
	}
}

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
}

package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/keagan/nsfwscan/pkg/util"
	"github.com/rs/zerolog"
)

// FrameReader streams decoded frames from a running ffmpeg process.
// Frames arrive in presentation order and are read strictly sequentially.
type FrameReader struct {
	logger    zerolog.Logger
	info      *VideoInfo
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    bytes.Buffer
	cancel    context.CancelFunc
	frameSize int
	next      int

	closeOnce sync.Once
	waitOnce  sync.Once
	waitErr   error
}

// OpenFrames probes input and starts decoding it to raw bgr24 frames.
// The returned reader must be closed by the caller.
func (e *Executor) OpenFrames(ctx context.Context, input string, opts FrameOptions) (*FrameReader, error) {
	info, err := e.ProbeVideo(ctx, input)
	if err != nil {
		return nil, err
	}

	// keep the decoded geometry equal to the probed one
	args := append(e.decodeArgs(), "-noautorotate", "-i", input)
	if opts.MaxDuration > 0 {
		args = append(args, "-t", util.FormatDuration(opts.MaxDuration))
	}
	args = append(args,
		"-map", "0:v:0",
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
	)
	// pin the output rate to the probed one so frame indexes map to time
	if info.FrameRate != "" {
		args = append(args, "-r", info.FrameRate)
	}
	args = append(args, "pipe:1")

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("starting frame decoder")

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	r := &FrameReader{
		logger:    e.logger,
		info:      info,
		cmd:       cmd,
		cancel:    cancel,
		frameSize: info.Width * info.Height * 3,
	}
	cmd.Stderr = &r.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	r.stdout = stdout

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %w", ErrDecoderUnavailable, err)
	}

	return r, nil
}

// Info returns the probed stream metadata
func (r *FrameReader) Info() *VideoInfo {
	return r.info
}

// FrameRate returns the stream-wide frame rate in frames per second
func (r *FrameReader) FrameRate() float64 {
	return r.info.FPS
}

// ReadFrame decodes the next frame. It returns io.EOF once the stream is
// exhausted and ffmpeg exited cleanly.
func (r *FrameReader) ReadFrame() (*Frame, error) {
	buf := make([]byte, r.frameSize)
	_, err := io.ReadFull(r.stdout, buf)
	switch {
	case err == nil:
		f := &Frame{
			Index:  r.next,
			Width:  r.info.Width,
			Height: r.info.Height,
			Pix:    buf,
		}
		r.next++
		return f, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// a trailing partial frame means a truncated file; drop it
		if werr := r.wait(); werr != nil {
			return nil, werr
		}
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("read frame %d: %w", r.next, err)
	}
}

func (r *FrameReader) wait() error {
	r.waitOnce.Do(func() {
		if err := r.cmd.Wait(); err != nil {
			msg := strings.TrimSpace(r.stderr.String())
			r.waitErr = fmt.Errorf("ffmpeg decode failed: %w: %s", err, msg)
		}
	})
	return r.waitErr
}

// Close stops the decoder and releases the process. Safe to call twice.
func (r *FrameReader) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		_ = r.stdout.Close()
		_ = r.wait()
		r.logger.Debug().
			Int("frames_read", r.next).
			Str("input", r.info.FilePath).
			Msg("frame decoder closed")
	})
	return nil
}

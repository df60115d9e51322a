// Package ffmpeg probes video files with ffprobe and decodes them into raw
// frames through an ffmpeg child process.
package ffmpeg

import (
	"fmt"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"
)

// Options selects the binaries and decoder threading. Empty paths are
// resolved on PATH.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	Threads     int
}

// Executor runs ffprobe and ffmpeg for a single decoding configuration
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
}

// New resolves both binaries up front so a missing install fails at startup
func New(logger zerolog.Logger, opts Options) (*Executor, error) {
	ffmpegPath, err := resolve("ffmpeg", opts.FFmpegPath)
	if err != nil {
		return nil, err
	}
	ffprobePath, err := resolve("ffprobe", opts.FFprobePath)
	if err != nil {
		return nil, err
	}

	logger = logger.With().Str("component", "ffmpeg").Logger()
	logger.Debug().
		Str("ffmpeg", ffmpegPath).
		Str("ffprobe", ffprobePath).
		Int("threads", opts.Threads).
		Msg("decoder ready")

	return &Executor{
		logger:      logger,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     opts.Threads,
	}, nil
}

func resolve(name, override string) (string, error) {
	if override == "" {
		override = name
	}
	path, err := exec.LookPath(override)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found: %w", ErrDecoderUnavailable, name, err)
	}
	return path, nil
}

// decodeArgs prefixes every ffmpeg invocation: quiet, non-interactive, and
// optionally pinned to a thread count.
func (e *Executor) decodeArgs() []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if e.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(e.threads))
	}
	return args
}

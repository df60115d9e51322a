package pipeline

import (
	"context"
	"errors"

	"github.com/keagan/nsfwscan/internal/ffmpeg"
	"github.com/keagan/nsfwscan/internal/media"
	"github.com/keagan/nsfwscan/internal/video"
)

// ErrorKind names a failure class callers can branch on
type ErrorKind string

const (
	KindInvalidRequest       ErrorKind = "invalid_request"
	KindUnsupportedFormat    ErrorKind = "unsupported_format"
	KindStreamUnreadable     ErrorKind = "stream_unreadable"
	KindNoFramesAnalyzed     ErrorKind = "no_frames_analyzed"
	KindImageUndecodable     ErrorKind = "image_undecodable"
	KindClassificationFailed ErrorKind = "classification_failed"
	KindCanceled             ErrorKind = "canceled"
	KindInternal             ErrorKind = "internal"
)

// Error is a failure with a kind and a message safe to show to clients
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Detail
	}
	return e.Detail + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// AsError maps any error returned by the pipeline onto an *Error
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(KindCanceled, "Analysis was canceled", err)
	case errors.Is(err, ffmpeg.ErrDecoderUnavailable):
		return newError(KindInternal, "Video decoding is unavailable", err)
	case errors.Is(err, video.ErrInvalidOptions):
		return newError(KindInternal, "Video sampling is misconfigured", err)
	case errors.Is(err, media.ErrUnsupportedFormat):
		return newError(KindUnsupportedFormat, "Unsupported file format", err)
	case errors.Is(err, video.ErrStreamUnreadable):
		return newError(KindStreamUnreadable, "Could not read video stream", err)
	case errors.Is(err, video.ErrNoFramesAnalyzed):
		return newError(KindNoFramesAnalyzed, "No frames could be analyzed from the video", err)
	default:
		return newError(KindInternal, "Internal error", err)
	}
}

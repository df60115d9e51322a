package server

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/keagan/nsfwscan/internal/pipeline"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Analyzer is the part of the pipeline the HTTP layer needs
type Analyzer interface {
	Analyze(ctx context.Context, name string, r io.Reader) (*pipeline.Result, error)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var errNoFile = &pipeline.Error{Kind: pipeline.KindInvalidRequest, Detail: "No file uploaded"}

// handleAnalyze streams the multipart "file" part straight into the
// pipeline so nothing is written to disk before the format is known.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, errNoFile)
		return
	}

	var part *multipart.Part
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, errNoFile)
			return
		}
		if err != nil {
			if tooLarge(err) {
				writeTooLarge(w)
				return
			}
			writeError(w, &pipeline.Error{Kind: pipeline.KindInvalidRequest, Detail: "Malformed upload", Err: err})
			return
		}
		if p.FormName() == "file" {
			part = p
			break
		}
		p.Close()
	}
	defer part.Close()

	name := part.FileName()
	if name == "" {
		writeError(w, errNoFile)
		return
	}

	logger.Debug().Str("filename", name).Msg("upload received")

	res, err := s.analyzer.Analyze(r.Context(), name, part)
	if err != nil {
		if tooLarge(err) {
			writeTooLarge(w)
			return
		}
		pe := pipeline.AsError(err)
		evt := logger.Warn()
		if pe.Kind == pipeline.KindInternal {
			evt = logger.Error()
		}
		evt.Err(err).Str("kind", string(pe.Kind)).Str("filename", name).Msg("analysis failed")
		writeError(w, pe)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func writeTooLarge(w http.ResponseWriter) {
	writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
		Error: "File too large",
		Kind:  string(pipeline.KindInvalidRequest),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindInvalidRequest:
		return http.StatusBadRequest
	case pipeline.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case pipeline.KindStreamUnreadable, pipeline.KindNoFramesAnalyzed, pipeline.KindImageUndecodable:
		return http.StatusUnprocessableEntity
	case pipeline.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err *pipeline.Error) {
	writeJSON(w, statusFor(err.Kind), errorBody{Error: err.Detail, Kind: string(err.Kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

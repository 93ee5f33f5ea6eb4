/**
 * @description
 * The range-request file server. It streams one stored object per request,
 * honoring a single Range header. Nothing is committed to the response until the
 * first chunk has been read, so early I/O failures still produce a JSON 500.
 *
 * @dependencies
 * - log/slog: Structured logging.
 * - internal/blob: Object storage.
 * - internal/metrics: Response counters.
 */

package fileserve

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/btaap/library-service/internal/blob"
	"github.com/btaap/library-service/internal/domain"
	"github.com/btaap/library-service/internal/metrics"
)

const chunkSize = 64 * 1024

// Opener opens stored objects by locator.
type Opener interface {
	Open(locator string) (*blob.Object, error)
}

// Server writes stored objects to HTTP clients.
type Server struct {
	blobs       Opener
	logger      *slog.Logger
	metrics     *metrics.Metrics
	contentType string
}

// NewServer returns a server for PDF objects.
func NewServer(blobs Opener, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{blobs: blobs, logger: logger, metrics: m, contentType: "application/pdf"}
}

// WithContentType returns a copy of s that labels responses with contentType.
func (s *Server) WithContentType(contentType string) *Server {
	c := *s
	c.contentType = contentType
	return &c
}

// Serve streams the object at locator into w.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, locator string) {
	obj, err := s.blobs.Open(locator)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidLocator) {
			s.writeError(w, domain.NewError(domain.KindNotFound, "File not found on server"))
			return
		}
		s.logger.Error("failed to open blob", "error", err, "locator", locator)
		s.writeError(w, domain.WrapError(domain.KindInfraFailure, "Failed to read file", err))
		return
	}
	defer obj.Close()

	size := obj.Size
	w.Header().Set("Accept-Ranges", "bytes")

	rng, partial, err := ParseRange(r.Header.Get("Range"), size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		s.metrics.ObserveFileResponse(http.StatusRequestedRangeNotSatisfiable, 0)
		return
	}

	length := size
	status := http.StatusOK
	if partial {
		length = rng.Length()
		status = http.StatusPartialContent
		if _, err := obj.Seek(rng.Start, io.SeekStart); err != nil {
			s.logger.Error("failed to seek blob", "error", err, "locator", locator, "offset", rng.Start)
			s.writeError(w, domain.WrapError(domain.KindInfraFailure, "Failed to read file", err))
			return
		}
	}

	reader := io.LimitReader(obj, length)
	first := make([]byte, min(length, chunkSize))
	n, err := io.ReadFull(reader, first)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		s.logger.Error("failed to read blob", "error", err, "locator", locator)
		s.writeError(w, domain.WrapError(domain.KindInfraFailure, "Failed to read file", err))
		return
	}

	h := w.Header()
	h.Set("Content-Type", s.contentType)
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	if partial {
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, size))
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		s.metrics.ObserveFileResponse(status, 0)
		return
	}

	written, err := w.Write(first[:n])
	total := int64(written)
	if err == nil {
		var copied int64
		copied, err = io.Copy(w, reader)
		total += copied
	}
	s.metrics.ObserveFileResponse(status, total)
	if err != nil {
		// Headers are gone; the response is abandoned.
		if r.Context().Err() != nil {
			s.logger.Debug("client went away mid-stream", "locator", locator, "written", total)
			return
		}
		s.logger.Error("stream interrupted", "error", err, "locator", locator, "written", total)
	}
}

func (s *Server) writeError(w http.ResponseWriter, derr *domain.Error) {
	s.metrics.ObserveFileResponse(derr.Status(), 0)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(derr.Status())
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   derr.Message,
		"code":    derr.Code(),
	})
}

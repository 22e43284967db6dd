// upload.go - multipart upload API.

package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Cyxzhar/quickdrop/internal/storage"
	"github.com/Cyxzhar/quickdrop/internal/upload"
)

// formSlack covers multipart framing and the small text fields.
const formSlack = 64 << 10

type uploadResp struct {
	ID        string    `json:"id"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type errorResp struct {
	Error string `json:"error"`
	// Set when the object store rejected the write.
	ProviderStatus int    `json:"providerStatus,omitempty"`
	ProviderCode   string `json:"providerCode,omitempty"`
}

// handleUpload handles POST /api/upload: a multipart form with the image in
// "image", the lifetime in "expiryHours" and optional "title" and "text".
// The image is sniffed; the declared content type is ignored.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+formSlack)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.uploadRejected(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		s.uploadRejected(w, http.StatusBadRequest, "expected multipart form data")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := r.FormFile("image")
	if err != nil {
		s.uploadRejected(w, http.StatusBadRequest, "missing image field")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		s.uploadRejected(w, http.StatusBadRequest, "could not read image")
		return
	}
	if int64(len(data)) > limit {
		s.uploadRejected(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	if len(data) == 0 {
		s.uploadRejected(w, http.StatusBadRequest, "empty image")
		return
	}
	contentType, err := DetectImageType(data)
	if err != nil {
		s.uploadRejected(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	ttl, err := s.parseExpiry(r.FormValue("expiryHours"))
	if err != nil {
		s.uploadRejected(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.uploads.Upload(r.Context(), upload.Input{
		Data:        data,
		Filename:    SanitizeFilename(hdr.Filename),
		ContentType: contentType,
		TTL:         ttl,
		Title:       strings.TrimSpace(r.FormValue("title")),
		Text:        strings.TrimSpace(r.FormValue("text")),
	})
	s.metrics.RecordUpload(int64(len(data)), err)
	if err != nil {
		s.log.Error("upload failed",
			zap.String("rid", RequestIDFromContext(r.Context())),
			zap.Int("bytes", len(data)),
			zap.Error(err))
		writeUploadFailure(w, err)
		return
	}

	s.log.Info("upload stored",
		zap.String("rid", RequestIDFromContext(r.Context())),
		zap.String("id", res.ID),
		zap.String("key", res.Key),
		zap.Int64("bytes", res.Size),
		zap.Time("expires_at", res.ExpiresAt))
	writeJSON(w, http.StatusCreated, uploadResp{ID: res.ID, Link: res.Link, ExpiresAt: res.ExpiresAt})
}

// writeUploadFailure maps a failed write. Provider rejections keep their
// status and code in the body; the response itself is a gateway error.
func writeUploadFailure(w http.ResponseWriter, err error) {
	resp := errorResp{Error: "upload failed"}
	status := http.StatusBadGateway
	var pe *storage.ProviderError
	switch {
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrMetadataTooLarge):
		status = http.StatusRequestEntityTooLarge
		resp.Error = "title or text too large"
	}
	if errors.As(err, &pe) {
		resp.ProviderStatus = pe.StatusCode
		resp.ProviderCode = pe.Code
	}
	writeJSON(w, status, resp)
}

// parseExpiry accepts one of upload.ExpiryHours; empty means the
// configured default.
func (s *Server) parseExpiry(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.cfg.DefaultTTL, nil
	}
	h, err := strconv.Atoi(raw)
	if err != nil || !upload.ExpiryHoursAllowed(h) {
		return 0, upload.ErrInvalidExpiry
	}
	return time.Duration(h) * time.Hour, nil
}

func (s *Server) uploadRejected(w http.ResponseWriter, status int, msg string) {
	s.metrics.RecordUpload(0, errors.New(msg))
	writeJSON(w, status, errorResp{Error: msg})
}

// pages.go - HTML templates for the viewer and challenge pages.

package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	msgInvalidID  = "Invalid image ID"
	msgNotFound   = "This image has expired or does not exist"
	msgLoadFailed = "An error occurred while loading the image"
	htmlType      = "text/html; charset=utf-8"
	landingMaxAge = time.Hour
)

type viewerPage struct {
	ID        string
	ImageURL  string
	Filename  string
	Title     string
	Text      string
	Remaining string
}

type challengePage struct {
	ID         string
	RawURL     string
	SaltSize   int
	NonceSize  int
	Iterations int
	KeyBits    int
}

type errorPage struct {
	Status  int
	Heading string
	Message string
}

// renderPage executes name into a buffer first so a template failure never
// leaves a half-written 200 behind.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.Error("render page", zap.String("template", name), zap.String("rid", RequestIDFromContext(r.Context())), zap.Error(err))
		http.Error(w, msgLoadFailed, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", htmlType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.renderPage(w, r, status, "error.html", errorPage{
		Status:  status,
		Heading: http.StatusText(status),
		Message: message,
	})
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(landingMaxAge.Seconds())))
	s.renderPage(w, r, http.StatusOK, "landing.html", map[string]string{
		"DefaultTTL": humanDuration(s.cfg.DefaultTTL),
	})
}

// humanDuration renders a remaining lifetime at the coarsest useful unit.
func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "moments"
	case d < time.Minute:
		return plural(int(d/time.Second), "second")
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute")
	case d < 48*time.Hour:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d/(24*time.Hour)), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}

// validation.go - upload input checks and filename sanitization.

package server

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// allowedImageTypes are the sniffed types accepted by the upload API. SVG is
// left out: it is a document that can carry script.
var allowedImageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

var errNotAnImage = errors.New("only PNG, JPEG, GIF, WebP and BMP images are accepted")

// DetectImageType sniffs data and returns its MIME type when it is an
// accepted image. The client's declared type is not trusted.
func DetectImageType(data []byte) (string, error) {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if _, ok := allowedImageTypes[ct]; !ok {
		return "", fmt.Errorf("%w (got %s)", errNotAnImage, ct)
	}
	return ct, nil
}

// SanitizeFilename removes potentially dangerous characters from filenames
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "\x00", "")

	// Trim spaces and dots from start/end
	filename = strings.Trim(filename, " .")

	if len(filename) > 255 {
		ext := filepath.Ext(filename)
		if len(ext) > 16 {
			ext = ""
		}
		name := filename[:len(filename)-len(ext)]
		filename = name[:255-len(ext)] + ext
	}

	if filename == "" {
		filename = "unnamed"
	}
	return filename
}

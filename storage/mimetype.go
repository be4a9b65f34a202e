package storage

import (
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MimeTypeDetector resolves the media type of a file from its name and content.
type MimeTypeDetector interface {
	Detect(path string, contents []byte) string
}

// DefaultMimeTypeDetector sniffs the content first and falls back to the file
// extension when sniffing only finds a generic type.
type DefaultMimeTypeDetector struct{}

func (DefaultMimeTypeDetector) Detect(path string, contents []byte) string {
	return DetectMimeType(path, contents)
}

func DetectMimeType(name string, contents []byte) string {
	detected := ""
	if len(contents) > 0 {
		detected = stripParameters(mimetype.Detect(contents).String())
	}

	if detected == "" || detected == "application/octet-stream" || detected == "text/plain" {
		if byExtension := stripParameters(mime.TypeByExtension(path.Ext(name))); byExtension != "" {
			return byExtension
		}
	}

	if detected == "" {
		return "application/octet-stream"
	}
	return detected
}

func stripParameters(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.TrimSpace(mediaType)
}

package fetcher

import (
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// allowedMIMETypes is the fixed table of MIME types the model backends
// accept. A request containing any file outside this table is rejected
// wholesale before any model call.
var allowedMIMETypes = map[string]bool{
	// Documents / text
	"application/pdf": true,
	"text/plain":      true,
	"text/html":       true,
	"text/markdown":   true,
	// Images
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
	// Audio
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/mpeg":  true,
	"audio/mp3":   true,
	"audio/ogg":   true,
	"audio/flac":  true,
	// Video
	"video/mp4":  true,
	"video/mpeg": true,
}

// AllowedMIMETypes returns the allow-list in sorted order for error
// payloads.
func AllowedMIMETypes() []string {
	out := make([]string, 0, len(allowedMIMETypes))
	for m := range allowedMIMETypes {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// MIMEAllowed reports whether the given MIME type is accepted.
func MIMEAllowed(mime string) bool {
	return allowedMIMETypes[normalizeMIME(mime)]
}

// anthropicMIMETypes is the subset of the allow-list the Anthropic
// Messages API can attach as content blocks: PDF documents, text, and
// its supported image formats. Audio, video and HEIC stay in the
// general table for backends that take them.
var anthropicMIMETypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"text/html":       true,
	"text/markdown":   true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
}

// AnthropicMIMEAllowed reports whether the Anthropic backend can attach
// the given MIME type. Used as the normalizer's attachable gate so a
// file the backend cannot attach fails the upfront wholesale check
// instead of failing every unit mid-request.
func AnthropicMIMEAllowed(mime string) bool {
	return anthropicMIMETypes[normalizeMIME(mime)]
}

// normalizeMIME strips parameters ("text/plain; charset=utf-8") and
// lowercases the type.
func normalizeMIME(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// detectMIME resolves a file's MIME type: a declared type wins,
// otherwise the content is sniffed.
func detectMIME(declared string, content []byte) string {
	if m := normalizeMIME(declared); m != "" {
		return m
	}
	return normalizeMIME(mimetype.Detect(content).String())
}

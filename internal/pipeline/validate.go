package pipeline

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"strings"

	"github.com/MimeLyc/vision2voice/internal/apperr"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/text/language"
)

// Validate checks a request without touching the network. It returns the
// resolved media type and normalized language on success.
func Validate(req Request) (mediaType, lang string, err error) {
	if len(req.Image) == 0 {
		return "", "", apperr.NewValidation(apperr.MsgNoImage)
	}

	mediaType = DetectMediaType(req.ContentType, req.Image)
	if !strings.HasPrefix(mediaType, "image/") {
		return "", "", apperr.NewValidation(apperr.MsgInvalidType)
	}

	if len(req.Image) > MaxImageBytes {
		return "", "", apperr.NewValidation(apperr.MsgTooLarge)
	}

	lang = NormalizeLanguage(req.Language)
	if _, perr := language.Parse(lang); perr != nil {
		return "", "", apperr.NewValidation(apperr.MsgInvalidLanguage)
	}
	return mediaType, lang, nil
}

// DetectMediaType prefers a specific declared type and otherwise sniffs data.
func DetectMediaType(declared string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && isSpecific(mt) {
		return mt
	}

	sniffed := http.DetectContentType(data)
	if mt, _, err := mime.ParseMediaType(sniffed); err == nil && isSpecific(mt) {
		sniffed = mt
	}
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}

	// Formats net/http does not sniff, such as TIFF.
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return "image/" + format
	}
	return sniffed
}

func isSpecific(mediaType string) bool {
	switch mediaType {
	case "", "application/octet-stream", "binary/octet-stream":
		return false
	}
	return !strings.HasSuffix(mediaType, "/*")
}

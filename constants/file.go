package constants

import "strings"

// Source document formats accepted by the extraction layer.
const (
	PDF = "PDF"
	XML = "XML"
	TXT = "TXT"
)

// DefaultCurrency is assumed when no currency marker is found in the text.
const DefaultCurrency = "INR"

// AllowedExtensions holds the file extensions accepted for advice ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
	"xml": {},
	"txt": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat maps a normalized extension to a source format, or "".
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "xml":
		return XML
	case "txt":
		return TXT
	default:
		return ""
	}
}

// MapContentTypeToFormat maps a MIME content-type hint to a source format, or "".
func MapContentTypeToFormat(ct string) string {
	switch {
	case strings.Contains(ct, "pdf"):
		return PDF
	case strings.Contains(ct, "xml"):
		return XML
	case strings.HasPrefix(ct, "text/"):
		return TXT
	default:
		return ""
	}
}

// Package mime classifies an HTTP response's Content-Type header, trimmed
// from the teacher's internal/mime package down to the one check the
// image analyzer actually needs: is this fetched body plausibly image
// data, as opposed to an HTML error page or some other unrelated content
// a misbehaving image URL might return.
package mime

import "strings"

// Category IS A COARSE CLASSIFICATION OF A Content-Type HEADER
type Category string

const (
	CategoryImage  Category = "image"
	CategoryBinary Category = "binary"
	CategoryOther  Category = "other"
)

// ClassifyContentType CATEGORIZES A RAW Content-Type HEADER VALUE, STRIPPING ANY
// ;charset=... OR OTHER PARAMETERS FIRST
func ClassifyContentType(contentType string) Category {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}

	switch {
	case strings.HasPrefix(contentType, "image/"):
		return CategoryImage
	case contentType == "application/octet-stream", contentType == "":
		return CategoryBinary
	default:
		return CategoryOther
	}
}

package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/sakif/contact-tracker/internal/model"
)

var (
	companyMarkers = []string{"company:", "works at", "working at", "employed by"}
	roleMarkers    = []string{"role:", "title:", "position:", "job:"}
)

// fallbackWindow is how much text after a marker is considered.
const fallbackWindow = 50

// Fallback scans unstructured completion text for literal markers. It is
// best effort and may legitimately return all-Unknown.
func Fallback(text string) model.Extraction {
	return model.Extraction{
		Company: scanMarkers(text, companyMarkers),
		Role:    scanMarkers(text, roleMarkers),
		Topics:  []string{},
		Source:  model.SourceFallback,
	}
}

// scanMarkers returns the value following the first marker (in list order)
// that yields one. The value is at most fallbackWindow runes, cut at the
// first line break, trimmed, longer than two characters, and cut again at
// the first comma.
func scanMarkers(text string, markers []string) string {
	lower := strings.ToLower(text)
	// ToLower can change byte lengths for some scripts; only slice the
	// original when offsets still line up.
	source := text
	if len(lower) != len(text) {
		source = lower
	}

	for _, marker := range markers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}

		tail := []rune(source[idx+len(marker):])
		if len(tail) > fallbackWindow {
			tail = tail[:fallbackWindow]
		}

		value := string(tail)
		if nl := strings.IndexAny(value, "\r\n"); nl >= 0 {
			value = value[:nl]
		}
		value = strings.TrimSpace(value)
		if utf8.RuneCountInString(value) <= 2 {
			continue
		}

		if comma := strings.Index(value, ","); comma >= 0 {
			value = strings.TrimSpace(value[:comma])
		}
		if value == "" {
			continue
		}
		return value
	}
	return model.Unknown
}

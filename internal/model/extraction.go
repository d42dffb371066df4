package model

// MaxTopics caps how many topics an extraction keeps.
const MaxTopics = 3

// ExtractionSource records how an Extraction value was produced.
type ExtractionSource string

const (
	SourceNone     ExtractionSource = "none"     // no input, nothing was sent
	SourceModel    ExtractionSource = "model"    // completion parsed as JSON
	SourceFallback ExtractionSource = "fallback" // keyword scan over the raw completion
	SourceDefault  ExtractionSource = "default"  // completion call failed
)

// Extraction is the professional metadata derived from a bio and a few
// messages. It is never stored on its own; the pipeline merges it into a
// Contact.
//
// Company and Role are always set, using Unknown when nothing was found.
// Err carries the swallowed completion error when Source is SourceDefault.
type Extraction struct {
	Company string
	Role    string
	Topics  []string
	Source  ExtractionSource
	Err     error
}

// UnknownExtraction is the all-Unknown result.
func UnknownExtraction(source ExtractionSource, err error) Extraction {
	return Extraction{
		Company: Unknown,
		Role:    Unknown,
		Topics:  []string{},
		Source:  source,
		Err:     err,
	}
}

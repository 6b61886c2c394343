package provider

import "context"

// ExtractionInput is the raw document handed to a provider for text
// extraction.
type ExtractionInput struct {
	FileName string
	FileType string
	Data     []byte
}

// Metric is one structured measurement pulled out of a document.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// AnalysisOutcome is a provider's structured reading of one document.
type AnalysisOutcome struct {
	Summary  string   `json:"summary"`
	Metrics  []Metric `json:"metrics"`
	Insights []string `json:"insights"`
}

// Capability is one AI endpoint the pipeline can call. Implementations
// return classified errors so workers can make retry decisions without
// knowing provider internals.
type Capability interface {
	// Name is the identifier used in health records and job rows.
	Name() string

	// ExtractText pulls the plain text out of a document.
	ExtractText(ctx context.Context, input ExtractionInput) (string, error)

	// Analyze produces structured metrics and insights from extracted text.
	Analyze(ctx context.Context, content, category string) (*AnalysisOutcome, error)

	// Synthesize generates free-form report prose from a prompt.
	Synthesize(ctx context.Context, prompt string) (string, error)
}

package models

// File types reported in the envelope
const (
	FileTypeImage = "image"
	FileTypePDF   = "pdf"
)

// Extraction modes accepted by the facade
const (
	ModeAuto        = "auto"
	ModeParallel    = "parallel"
	ModeRegions     = "regions"
	ModeIncremental = "incremental"
)

// Capabilities reported by an envelope. They replace substring checks on strategy names.
const (
	CapabilityCached           = "cached"
	CapabilityPDFText          = "pdf_text"
	CapabilityQualityCorrected = "quality_corrected"
	CapabilityMultiStrategy    = "multi_strategy"
	CapabilityVoting           = "voting"
	CapabilityEarlyStop        = "early_stop"
	CapabilityTiled            = "tiled"
	CapabilityRegions          = "regions"
	CapabilityParallel         = "parallel"
	CapabilityFallback         = "fallback"
)

// ExtractOptions is the closed set of caller options for one extraction.
type ExtractOptions struct {
	UseCache bool   `json:"use_cache"` // Bypass the cache when false
	Language string `json:"language"`  // Overrides the profile OCR languages when set
	Mode     string `json:"mode"`      // auto, parallel, regions or incremental
}

// DefaultExtractOptions returns cache on, profile languages, auto mode.
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{UseCache: true, Mode: ModeAuto}
}

// Envelope is the public result of one extraction.
type Envelope struct {
	Text     string   `json:"text"`      // Post-processed text
	FileType string   `json:"file_type"` // "image" or "pdf"
	Metadata Metadata `json:"metadata"`
}

// Size is a pixel dimension pair.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Metadata describes how the envelope text was produced. Optional fields are
// omitted when the producing path does not set them.
type Metadata struct {
	RequestID string `json:"request_id,omitempty"`
	Profile   string `json:"profile"`
	Language  string `json:"language,omitempty"`

	BestStrategy    string           `json:"best_strategy"`
	Confidence      float64          `json:"confidence"`
	Estimated       bool             `json:"estimated,omitempty"` // Confidence came from text shape, not the engine
	StrategiesTried int              `json:"strategies_tried"`
	Strategies      []StrategyRecord `json:"strategies,omitempty"`
	EarlyStopped    bool             `json:"early_stopped"`
	VotingAnalysis  *VotingAnalysis  `json:"voting_analysis,omitempty"`

	AverageConfidence float64 `json:"average_confidence,omitempty"`
	MaxConfidence     float64 `json:"max_confidence,omitempty"`
	MinConfidence     float64 `json:"min_confidence,omitempty"`

	QualityAssessment *QualityReport `json:"quality_assessment,omitempty"`
	Corrected         bool           `json:"corrected"`
	ImageSize         *Size          `json:"image_size,omitempty"`

	CacheHit        bool    `json:"cache_hit"`
	CacheAgeSeconds float64 `json:"cache_age_seconds,omitempty"`

	Method               string `json:"method,omitempty"`      // standard, multi_strategy, tiled, tiled_incremental, regions, parallel
	MethodUsed           string `json:"method_used,omitempty"` // pdf_direct, pdf_vision, pdf_documentai
	TilesProcessed       int    `json:"tiles_processed,omitempty"`
	TilesSkipped         int    `json:"tiles_skipped,omitempty"`
	RegionsProcessed     int    `json:"regions_processed,omitempty"`
	ParallelExecution    bool   `json:"parallel_execution,omitempty"`
	SuccessfulStrategies int    `json:"successful_strategies,omitempty"`
	PageCount            int    `json:"page_count,omitempty"`

	Capabilities     []string `json:"capabilities,omitempty"`
	Diagnostics      []string `json:"diagnostics,omitempty"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
	Error            string   `json:"error,omitempty"` // Set on diagnostic envelopes only
}

// AddCapability appends c unless it is already present.
func (m *Metadata) AddCapability(c string) {
	for _, existing := range m.Capabilities {
		if existing == c {
			return
		}
	}
	m.Capabilities = append(m.Capabilities, c)
}

// HasCapability reports whether c was recorded.
func (m *Metadata) HasCapability(c string) bool {
	for _, existing := range m.Capabilities {
		if existing == c {
			return true
		}
	}
	return false
}

// StrategyRecord is the per-candidate summary kept in the envelope.
type StrategyRecord struct {
	Name       string  `json:"name"`
	Attempt    int     `json:"attempt"` // Attempt order, 0-based
	Confidence float64 `json:"confidence"`
	Estimated  bool    `json:"estimated,omitempty"`
	TextLength int     `json:"text_length"`
	OK         bool    `json:"ok"`
	Error      string  `json:"error,omitempty"`
}

// VotingAnalysis explains a selection made without early stopping.
type VotingAnalysis struct {
	Winner      string           `json:"winner"`
	Scores      []CandidateScore `json:"scores"`
	CommonWords map[string]int   `json:"common_words,omitempty"` // Word frequency across candidates, words seen in two or more
}

// CandidateScore is the selection score breakdown of one candidate.
type CandidateScore struct {
	Strategy       string  `json:"strategy"`
	Confidence     float64 `json:"confidence"`
	LengthScore    float64 `json:"length_score"`
	AgreementScore float64 `json:"agreement_score"`
	Total          float64 `json:"total"`
}

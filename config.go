package pageproof

import (
	"github.com/brunobiangulo/pageproof/evidence"
	"github.com/brunobiangulo/pageproof/llm"
)

// Config holds all configuration for the pageproof engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	DBPath string `json:"db_path" yaml:"db_path"`

	// UploadDir is the root directory under which per-document source PDFs
	// and rendered page images are persisted.
	UploadDir string `json:"upload_dir" yaml:"upload_dir"`
	// MaxUploadBytes caps a single upload's size; default 50 MiB.
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes"`

	// Chat and Embedding are separate provider endpoints; Chat answers
	// questions, Embedding produces chunk/query vectors.
	Chat      llm.Config `json:"chat" yaml:"chat"`
	Embedding llm.Config `json:"embedding" yaml:"embedding"`

	// EmbeddingDim must match the configured embedding model's output
	// width; it sizes the sqlite-vec vec0 column and is threaded into
	// Embedding.Dimensions so text-embedding-3-family requests ask the
	// provider to truncate to the same width.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	OCR       OCRConfig       `json:"ocr" yaml:"ocr"`
	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval"`
	Evidence  EvidenceConfig  `json:"evidence" yaml:"evidence"`

	// RequireLLMCitations gates answer acceptance on the model returning at
	// least one citation that intersects the retrieved context.
	RequireLLMCitations bool `json:"require_llm_citations" yaml:"require_llm_citations"`
	// MinimumEvidenceItems requires at least this many validated evidence
	// items for an otherwise-sufficient answer to stand; values below 1 act
	// as 1.
	MinimumEvidenceItems int `json:"minimum_evidence_items" yaml:"minimum_evidence_items"`
}

// OCRConfig controls the OCR fallback policy (§4.1).
type OCRConfig struct {
	Enabled              bool    `json:"ocr_fallback_enabled" yaml:"ocr_fallback_enabled"`
	TriggerMinWords      int     `json:"ocr_trigger_min_words" yaml:"ocr_trigger_min_words"`
	TriggerMinAlnumRatio float64 `json:"ocr_trigger_min_alnum_ratio" yaml:"ocr_trigger_min_alnum_ratio"`
	Language             string  `json:"ocr_language" yaml:"ocr_language"`
	DPI                  int     `json:"ocr_dpi" yaml:"ocr_dpi"`
	FullPage             bool    `json:"ocr_full_page" yaml:"ocr_full_page"`
	Tessdata             string  `json:"ocr_tessdata,omitempty" yaml:"ocr_tessdata,omitempty"`
}

// RetrievalConfig controls vector retrieval and the answer context window.
type RetrievalConfig struct {
	TopK              int     `json:"retrieval_top_k" yaml:"retrieval_top_k"`
	MaxContextChunks  int     `json:"retrieval_max_context_chunks" yaml:"retrieval_max_context_chunks"`
	MaxVectorDistance float64 `json:"retrieval_max_vector_distance" yaml:"retrieval_max_vector_distance"`
	MinKeywordOverlap int     `json:"retrieval_min_keyword_overlap" yaml:"retrieval_min_keyword_overlap"`
}

// EvidenceConfig controls evidence scoring and selection thresholds.
type EvidenceConfig struct {
	QuestionWeight         float64 `json:"evidence_question_weight" yaml:"evidence_question_weight"`
	AnswerWeight           float64 `json:"evidence_answer_weight" yaml:"evidence_answer_weight"`
	RelativeScoreThreshold float64 `json:"evidence_relative_score_threshold" yaml:"evidence_relative_score_threshold"`
	DropRatioStop          float64 `json:"evidence_drop_ratio_stop" yaml:"evidence_drop_ratio_stop"`
	MinAbsoluteScore       float64 `json:"evidence_min_absolute_score" yaml:"evidence_min_absolute_score"`
	MaxEvidenceItems       int     `json:"answer_max_evidence_items" yaml:"answer_max_evidence_items"`
}

// DefaultConfig returns a Config populated with every default named in
// SPEC_FULL.md §6's configuration-keys table.
func DefaultConfig() Config {
	return Config{
		DBPath:               "pageproof.db",
		UploadDir:            "uploads",
		MaxUploadBytes:       52428800,
		EmbeddingDim:         1536,
		RequireLLMCitations:  true,
		MinimumEvidenceItems: 1,
		Chat: llm.Config{
			Provider: "openai",
			Model:    "gpt-5-mini",
		},
		Embedding: llm.Config{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		OCR: OCRConfig{
			Enabled:              true,
			TriggerMinWords:      18,
			TriggerMinAlnumRatio: 0.60,
			Language:             "eng",
			DPI:                  300,
			FullPage:             true,
		},
		Retrieval: RetrievalConfig{
			TopK:              8,
			MaxContextChunks:  6,
			MaxVectorDistance: 1.2,
			MinKeywordOverlap: 1,
		},
		Evidence: EvidenceConfig{
			QuestionWeight:         0.2,
			AnswerWeight:           0.8,
			RelativeScoreThreshold: 0.60,
			DropRatioStop:          0.72,
			MinAbsoluteScore:       0.20,
		},
	}
}

func (c Config) evidenceSelectConfig() evidence.SelectConfig {
	return evidence.SelectConfig{
		MinKeywordOverlap:      c.Retrieval.MinKeywordOverlap,
		RelativeScoreThreshold: c.Evidence.RelativeScoreThreshold,
		MinAbsoluteScore:       c.Evidence.MinAbsoluteScore,
		DropRatioStop:          c.Evidence.DropRatioStop,
		MaxEvidenceItems:       c.Evidence.MaxEvidenceItems,
	}
}

func (c Config) evidenceConfig() evidence.Config {
	return evidence.Config{
		QuestionWeight: c.Evidence.QuestionWeight,
		AnswerWeight:   c.Evidence.AnswerWeight,
		Select:         c.evidenceSelectConfig(),
	}
}

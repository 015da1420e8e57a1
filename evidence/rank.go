package evidence

import "strings"

// PageSpans is the span geometry for one page, used as input to Rank.
type PageSpans struct {
	Page   int
	Width  float64
	Height float64
	Spans  []Span
}

// Config bundles the weights and thresholds Rank and FilterGlobal need.
type Config struct {
	QuestionWeight float64
	AnswerWeight   float64
	Select         SelectConfig
}

// DefaultConfig returns the spec's default evidence weights and thresholds.
func DefaultConfig() Config {
	return Config{
		QuestionWeight: 0.2,
		AnswerWeight:   0.8,
		Select:         DefaultSelectConfig(),
	}
}

var signatureQuestionMarkers = []string{"signed", "signature", "who signed"}

func isSignatureQuestion(question string) bool {
	lower := strings.ToLower(question)
	for _, m := range signatureQuestionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Rank runs the full evidence pipeline: per-page line grouping and scoring,
// per-page selection, cross-page dedup, and global filtering. pages must be
// in page order; within each page spans need not be pre-sorted.
func Rank(question, answer string, pages []PageSpans, cfg Config) []Item {
	questionTerms := Tokenize(question)
	answerTerms := Tokenize(answer)
	signatureMode := isSignatureQuestion(question)

	var all []Item
	for _, p := range pages {
		lines := GroupLines(p.Spans)
		if len(lines) == 0 {
			continue
		}
		scored := ScoreLines(lines, questionTerms, answerTerms, cfg.QuestionWeight, cfg.AnswerWeight, signatureMode)
		items := SelectPage(p.Page, p.Width, p.Height, scored, cfg.Select, signatureMode)
		all = append(all, items...)
	}

	deduped := DedupeCrossPage(all)
	return FilterGlobal(deduped, cfg.Select)
}

// SpansByPage indexes a flat span list from Rank's inputs for Validate.
func SpansByPage(pages []PageSpans) map[int][]Span {
	out := make(map[int][]Span, len(pages))
	for _, p := range pages {
		out[p.Page] = p.Spans
	}
	return out
}

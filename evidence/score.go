package evidence

import (
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9]+`)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "to": true, "in": true,
	"on": true, "for": true, "and": true, "or": true, "is": true, "was": true,
	"were": true, "are": true, "be": true, "who": true, "what": true,
	"when": true, "where": true, "which": true, "how": true, "did": true,
	"does": true, "do": true, "from": true, "with": true, "by": true,
	"at": true, "as": true, "about": true,
}

// Tokenize lowercases text and extracts alphanumeric terms of length ≥ 3
// that are not in the fixed stopword list.
func Tokenize(text string) []string {
	var out []string
	for _, m := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if len(m) < 3 || stopwords[m] {
			continue
		}
		out = append(out, m)
	}
	return out
}

func tokensOf(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// termMatches reports whether term matches line token t under the spec's
// loose containment rule: exact equality, term contained in t, or t
// contained in term.
func termMatches(term, t string) bool {
	return term == t || strings.Contains(t, term) || strings.Contains(term, t)
}

// overlapCount counts the terms that match at least one token of text.
func overlapCount(text string, terms []string) int {
	lineTokens := tokensOf(text)
	count := 0
	for _, term := range terms {
		for _, t := range lineTokens {
			if termMatches(term, t) {
				count++
				break
			}
		}
	}
	return count
}

// weightedOverlap sums, per matched term, 1.0 + min(0.6, max(0, (len(term)-4)*0.08)).
func weightedOverlap(text string, terms []string) float64 {
	lineTokens := tokensOf(text)
	var sum float64
	for _, term := range terms {
		for _, t := range lineTokens {
			if termMatches(term, t) {
				bonus := float64(len(term)-4) * 0.08
				if bonus < 0 {
					bonus = 0
				}
				if bonus > 0.6 {
					bonus = 0.6
				}
				sum += 1.0 + bonus
				break
			}
		}
	}
	return sum
}

// normalizeWeights normalizes (q, a) to sum to 1.0, falling back to the
// spec's default (0.2, 0.8) split when both are zero.
func normalizeWeights(q, a float64) (float64, float64) {
	if q == 0 && a == 0 {
		return 0.2, 0.8
	}
	sum := q + a
	return q / sum, a / sum
}

// operationalPenaltyTable holds the fixed substring → penalty additions the
// spec uses to suppress workflow-status lines from being mistaken for a
// signature line.
var operationalPenaltyTable = []struct {
	phrase  string
	penalty float64
}{
	{"ordering doctor", 1.35},
	{"order source", 1.00},
	{"order receive", 1.00},
	{"order continued", 0.95},
	{"order acknowledged", 0.95},
	{"order enter", 0.90},
	{"order from set", 0.85},
	{"in pom", 0.85},
	{"order's status changed", 0.75},
}

func operationalPenalty(lowerText string) float64 {
	var total float64
	for _, p := range operationalPenaltyTable {
		if strings.Contains(lowerText, p.phrase) {
			total += p.penalty
		}
	}
	return total
}

// similarity is a small Levenshtein-distance-based ratio in [0,1]: 1 minus
// edit distance over the longer string's length.
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// signatureSignal computes the spec's signature-mode heuristic over a
// line's lowercased text and its tokens (length ≥ 4).
func signatureSignal(lowerText string) float64 {
	padded := " " + lowerText + " "

	var best float64
	if strings.Contains(padded, " signed by ") || strings.Contains(padded, " signature ") {
		best = 2.0
	}
	for _, tok := range tokensOf(lowerText) {
		if len(tok) < 4 {
			continue
		}
		var signal float64
		switch {
		case strings.HasPrefix(tok, "sig"):
			signal = 1.6
		case strings.HasPrefix(tok, "s") && similarity(tok, "signed") >= 0.60:
			signal = 1.35
		case similarity(tok, "electronic") >= 0.68:
			signal = 1.15
		}
		if signal > best {
			best = signal
		}
	}

	if best > 0 && strings.Contains(padded, " by ") {
		best += 0.25
	}
	return best
}

// ScoredLine is a Line annotated with the spec's scoring signals.
type ScoredLine struct {
	Line
	BaseScore        float64
	SignatureSignal  float64
	ContextScore     float64
	NeighborOverlap  float64
	FinalScore       float64
	QuestionOverlap  int
	AnswerOverlap    int
}

// ScoreLines computes base, context-aware, and final scores for every line
// on a page, per the spec's §4.6 formulas, and returns them sorted by
// (−final_score, −signature_signal, −base_score, −(overlap sum), y1).
func ScoreLines(lines []Line, questionTerms, answerTerms []string, qWeight, aWeight float64, signatureMode bool) []ScoredLine {
	wq, wa := normalizeWeights(qWeight, aWeight)

	scored := make([]ScoredLine, len(lines))
	for i, l := range lines {
		lower := strings.ToLower(l.Text)
		base := wq*weightedOverlap(l.Text, questionTerms) + wa*weightedOverlap(l.Text, answerTerms)

		var sigSignal float64
		if signatureMode {
			sigSignal = signatureSignal(lower)
			base += 1.35*sigSignal - operationalPenalty(lower)
		}

		scored[i] = ScoredLine{
			Line:            l,
			BaseScore:       base,
			SignatureSignal: sigSignal,
			QuestionOverlap: overlapCount(l.Text, questionTerms),
			AnswerOverlap:   overlapCount(l.Text, answerTerms),
		}
	}

	n := len(scored)
	for i := range scored {
		lo := i - 1
		if lo < 0 {
			lo = 0
		}
		hi := i + 2
		if hi > n {
			hi = n
		}

		var neighborhood strings.Builder
		var neighborOverlap float64
		for j := lo; j < hi; j++ {
			neighborhood.WriteString(scored[j].Text)
			neighborhood.WriteString(" ")
			if j != i {
				sum := float64(scored[j].AnswerOverlap + scored[j].QuestionOverlap)
				if sum > 2.0 {
					sum = 2.0
				}
				neighborOverlap += sum
			}
		}

		text := neighborhood.String()
		contextScore := wq*weightedOverlap(text, questionTerms) + wa*weightedOverlap(text, answerTerms)

		scored[i].ContextScore = contextScore
		scored[i].NeighborOverlap = neighborOverlap
		scored[i].FinalScore = 0.72*scored[i].BaseScore + 0.28*contextScore +
			0.08*neighborOverlap + 0.12*scored[i].SignatureSignal
	}

	sortScoredLines(scored)
	return scored
}

func sortScoredLines(scored []ScoredLine) {
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.SignatureSignal != b.SignatureSignal {
			return a.SignatureSignal > b.SignatureSignal
		}
		if a.BaseScore != b.BaseScore {
			return a.BaseScore > b.BaseScore
		}
		aSum := a.AnswerOverlap + a.QuestionOverlap
		bSum := b.AnswerOverlap + b.QuestionOverlap
		if aSum != bSum {
			return aSum > bSum
		}
		return a.Y1 < b.Y1
	})
}

// Package answer generates a single, strictly-JSON grounded answer from a
// question and its retrieved context chunks.
package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/brunobiangulo/pageproof/llm"
	"github.com/brunobiangulo/pageproof/store"
)

// MaxContextChunks is the default cap on how many retrieved chunks are
// assembled into the prompt context (retrieval_max_context_chunks).
const MaxContextChunks = 6

// uncertaintyMarkers are substrings that, if present anywhere in a generated
// answer, force an insufficient-evidence result regardless of citations.
var uncertaintyMarkers = []string{
	"not enough evidence",
	"cannot determine",
	"can't determine",
	"insufficient",
	"uncertain",
	"not clearly supported",
}

// Citation is one chunk cited by the model in support of its answer.
type Citation struct {
	ChunkID string `json:"chunk_id"`
}

// rawAnswer is the strict JSON contract the model is instructed to emit.
type rawAnswer struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// Result is the outcome of one answer-generation call.
type Result struct {
	Answer               string   `json:"answer"`
	Citations            []string `json:"citations"`
	Insufficient         bool     `json:"insufficient_evidence"`
	Model                string   `json:"model"`
	TriedJSONFormat      bool     `json:"tried_json_format"`
	TriedTemperature     bool     `json:"tried_temperature"`
	TriedResponsesAPI    bool     `json:"tried_responses_api"`
	PromptTokens         int      `json:"prompt_tokens"`
	CompletionTokens     int      `json:"completion_tokens"`
	TotalTokens          int      `json:"total_tokens"`
}

// Config controls generation gates.
type Config struct {
	// RequireLLMCitations, when true (the default), treats an answer with no
	// citation that intersects the retrieved context as insufficient
	// evidence. When false, a missing citation is repaired by pinning the
	// answer to the single closest retrieved chunk instead.
	RequireLLMCitations bool
	// Model is the configured chat model name. It is sent as the request's
	// model and decides whether to send a temperature override (see
	// isGPT5FamilyModel).
	Model string
}

// DefaultConfig returns the spec's default gate configuration.
func DefaultConfig() Config {
	return Config{RequireLLMCitations: true}
}

// Generator produces grounded answers from retrieved chunks via an LLM
// provider, walking a provider-quirk retry ladder before giving up.
type Generator struct {
	provider llm.Provider
	cfg      Config
}

func New(provider llm.Provider, cfg Config) *Generator {
	return &Generator{provider: provider, cfg: cfg}
}

const systemPrompt = `You are a precise document analysis assistant. Answer the question using ONLY the supplied context chunks.
Rules:
1. Only state facts directly supported by the supplied chunks.
2. If the question asks who signed or performed something, list every name the chunks support.
3. If the chunks do not contain enough information to answer, say "not enough evidence to answer".
4. Respond with strict JSON and nothing else: {"answer": "...", "citations": [{"chunk_id": "<uuid>"}]}
5. Every citation chunk_id must be one of the chunk UUIDs shown in the context.`

// Generate assembles a prompt from the top MaxContextChunks of chunks (in
// the order given, which is expected to already be distance-sorted),
// generates an answer, and applies the post-generation gates from the spec.
func (g *Generator) Generate(ctx context.Context, question string, chunks []store.RetrievalResult) (*Result, error) {
	contextChunks := chunks
	if len(contextChunks) > MaxContextChunks {
		contextChunks = contextChunks[:MaxContextChunks]
	}

	prompt := buildPrompt(question, contextChunks)
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}

	resp, tried, err := g.call(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	parsed := parseRawAnswer(resp.Content)
	validIDs := validCitationIDs(parsed.Citations, contextChunks)

	result := &Result{
		Answer:            strings.TrimSpace(parsed.Answer),
		Citations:         validIDs,
		Model:             resp.Model,
		TriedJSONFormat:   tried.jsonFormat,
		TriedTemperature:  tried.temperature,
		TriedResponsesAPI: tried.responsesAPI,
		PromptTokens:      resp.PromptTokens,
		CompletionTokens:  resp.CompletionTokens,
		TotalTokens:       resp.TotalTokens,
	}

	if result.Answer == "" {
		result.Insufficient = true
		return result, nil
	}
	if containsUncertaintyMarker(result.Answer) {
		result.Insufficient = true
		return result, nil
	}

	if len(result.Citations) == 0 {
		if g.cfg.RequireLLMCitations {
			result.Insufficient = true
			return result, nil
		}
		if len(contextChunks) > 0 {
			result.Citations = []string{contextChunks[0].ChunkID}
		}
	}

	return result, nil
}

type triedLadder struct {
	jsonFormat   bool
	temperature  bool
	responsesAPI bool
}

// call walks the provider-quirk retry ladder: chat completion with JSON
// format and temperature, then progressively dropping response_format and
// temperature on a bad-request error mentioning them, then finally the
// Responses API if the provider exposes it.
func (g *Generator) call(ctx context.Context, messages []llm.Message) (*llm.ChatResponse, triedLadder, error) {
	req := llm.ChatRequest{
		Model:          g.cfg.Model,
		Messages:       messages,
		ResponseFormat: "json_object",
	}
	tried := triedLadder{jsonFormat: true}

	// GPT-5-family models reject a non-default temperature outright, so the
	// override is only sent for models that accept it.
	if !isGPT5FamilyModel(g.cfg.Model) {
		req.Temperature = 0.1
		tried.temperature = true
	}

	resp, err := g.provider.Chat(ctx, req)
	if err == nil {
		return resp, tried, nil
	}

	if isBadRequestMentioning(err, "response_format") {
		req.ResponseFormat = ""
		tried.jsonFormat = false
		resp, err = g.provider.Chat(ctx, req)
		if err == nil {
			return resp, tried, nil
		}
	}

	if isBadRequestMentioning(err, "temperature") {
		req.Temperature = 0
		tried.temperature = false
		resp, err = g.provider.Chat(ctx, req)
		if err == nil {
			return resp, tried, nil
		}
	}

	if isBadRequestMentioning(err, "response") || isBadRequestMentioning(err, "v1/responses") {
		if rp, ok := g.provider.(llm.ResponsesProvider); ok {
			tried.responsesAPI = true
			resp, rerr := rp.ChatResponses(ctx, req)
			if rerr == nil {
				return resp, tried, nil
			}
			slog.Warn("answer: responses API fallback also failed", "error", rerr)
			return nil, tried, rerr
		}
	}

	return nil, tried, err
}

// isGPT5FamilyModel reports whether model is a GPT-5-family chat model,
// which rejects an explicit temperature override.
func isGPT5FamilyModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "gpt-5")
}

func isBadRequestMentioning(err error, needle string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "400") && strings.Contains(msg, strings.ToLower(needle))
}

func buildPrompt(question string, chunks []store.RetrievalResult) string {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "--- chunk %s | %s ---\n", c.ChunkID, pageLabel(c.PageStart, c.PageEnd))
		b.WriteString(c.Content)
		b.WriteString("\n\n")
	}
	return fmt.Sprintf("Context:\n%s\nQuestion: %s\n\nRespond with the strict JSON contract described in the system prompt.", b.String(), question)
}

func pageLabel(start, end int) string {
	switch {
	case start <= 0 && end <= 0:
		return "pages unknown"
	case start == end:
		return fmt.Sprintf("pages %d", start)
	default:
		return fmt.Sprintf("pages %d-%d", start, end)
	}
}

// parseRawAnswer parses the model's output defensively: a direct JSON parse
// first, then a slice from the first '{' to the last '}', then an empty
// payload if neither works.
func parseRawAnswer(content string) rawAnswer {
	var out rawAnswer
	if err := json.Unmarshal([]byte(content), &out); err == nil {
		return out
	}

	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(content[start:end+1]), &out); err == nil {
			return out
		}
	}

	return rawAnswer{}
}

// validCitationIDs filters citations to valid UUIDs that are also present in
// the retrieved context, preserving order and de-duplicating.
func validCitationIDs(citations []Citation, context []store.RetrievalResult) []string {
	inContext := make(map[string]bool, len(context))
	for _, c := range context {
		inContext[c.ChunkID] = true
	}

	seen := make(map[string]bool, len(citations))
	var out []string
	for _, c := range citations {
		id := strings.TrimSpace(c.ChunkID)
		if id == "" || seen[id] {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		if !inContext[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func containsUncertaintyMarker(answer string) bool {
	lower := strings.ToLower(answer)
	for _, marker := range uncertaintyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

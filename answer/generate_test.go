package answer

import (
	"context"
	"fmt"
	"testing"

	"github.com/brunobiangulo/pageproof/llm"
	"github.com/brunobiangulo/pageproof/store"
)

type fakeProvider struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	content string
	err     error
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if f.calls >= len(f.responses) {
		return nil, fmt.Errorf("no more fake responses")
	}
	r := f.responses[f.calls]
	f.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &llm.ChatResponse{Content: r.content, Model: "fake-model"}, nil
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func sampleChunks() []store.RetrievalResult {
	return []store.RetrievalResult{
		{ChunkID: "11111111-1111-1111-1111-111111111111", DocumentID: "doc-1", Content: "Alice signed the agreement.", ChunkIndex: 0, PageStart: 1, PageEnd: 1, Distance: 0.1},
		{ChunkID: "22222222-2222-2222-2222-222222222222", DocumentID: "doc-1", Content: "Bob witnessed it.", ChunkIndex: 1, PageStart: 1, PageEnd: 1, Distance: 0.3},
	}
}

func TestGenerateHappyPath(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{content: `{"answer": "Alice signed the agreement.", "citations": [{"chunk_id": "11111111-1111-1111-1111-111111111111"}]}`},
	}}
	gen := New(provider, DefaultConfig())

	result, err := gen.Generate(context.Background(), "Who signed?", sampleChunks())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Insufficient {
		t.Fatalf("expected a sufficient answer, got insufficient: %+v", result)
	}
	if len(result.Citations) != 1 || result.Citations[0] != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("citations = %v, want the one valid chunk id", result.Citations)
	}
}

func TestGenerateDefensiveJSONParsing(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{content: "Sure, here you go: {\"answer\": \"Alice signed.\", \"citations\": [{\"chunk_id\": \"11111111-1111-1111-1111-111111111111\"}]} Hope that helps!"},
	}}
	gen := New(provider, DefaultConfig())

	result, err := gen.Generate(context.Background(), "Who signed?", sampleChunks())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Answer != "Alice signed." {
		t.Errorf("answer = %q, want exact trimmed text from the brace-sliced JSON", result.Answer)
	}
	if result.Insufficient {
		t.Errorf("expected sufficient answer after defensive parse, got insufficient")
	}
}

func TestGenerateUnparsableJSONIsInsufficient(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{content: "not json at all"},
	}}
	gen := New(provider, DefaultConfig())

	result, err := gen.Generate(context.Background(), "Who signed?", sampleChunks())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !result.Insufficient {
		t.Errorf("expected insufficient result for an empty parsed answer")
	}
}

func TestGenerateUncertaintyMarkerForcesInsufficient(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{content: `{"answer": "There is not enough evidence to answer this question.", "citations": [{"chunk_id": "11111111-1111-1111-1111-111111111111"}]}`},
	}}
	gen := New(provider, DefaultConfig())

	result, err := gen.Generate(context.Background(), "Who signed?", sampleChunks())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !result.Insufficient {
		t.Errorf("expected insufficient result when answer contains an uncertainty marker")
	}
}

// TestGenerateInvalidCitationScenario reproduces the spec's S6 scenario: the
// model's only citation is a chunk id that was never retrieved. Under
// RequireLLMCitations=true, with no valid citations at all the result must
// be insufficient.
func TestGenerateInvalidCitationScenario(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{content: `{"answer": "Something happened.", "citations": [{"chunk_id": "99999999-9999-9999-9999-999999999999"}]}`},
	}}
	gen := New(provider, DefaultConfig())

	result, err := gen.Generate(context.Background(), "What happened?", sampleChunks())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !result.Insufficient {
		t.Errorf("expected insufficient result when the only citation is not in the retrieved context")
	}
	if len(result.Citations) != 0 {
		t.Errorf("citations = %v, want none (the only cited id was invalid)", result.Citations)
	}
}

func TestGenerateMissingCitationFallsBackToTopOneWhenNotRequired(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{content: `{"answer": "Something happened.", "citations": []}`},
	}}
	gen := New(provider, Config{RequireLLMCitations: false})

	result, err := gen.Generate(context.Background(), "What happened?", sampleChunks())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Insufficient {
		t.Errorf("expected top-1 fallback citation to avoid an insufficient result")
	}
	if len(result.Citations) != 1 || result.Citations[0] != sampleChunks()[0].ChunkID {
		t.Errorf("citations = %v, want fallback to the top retrieved chunk", result.Citations)
	}
}

func TestGenerateSkipsTemperatureForGPT5Family(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{content: `{"answer": "Alice signed.", "citations": [{"chunk_id": "11111111-1111-1111-1111-111111111111"}]}`},
	}}
	gen := New(provider, Config{RequireLLMCitations: true, Model: "gpt-5-mini"})

	result, err := gen.Generate(context.Background(), "Who signed?", sampleChunks())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.TriedTemperature {
		t.Errorf("expected TriedTemperature=false for a gpt-5-family model, never sent proactively")
	}
}

func TestGenerateRetryLadderDropsJSONFormat(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{err: fmt.Errorf("LLM API error 400: response_format not supported for this model")},
		{content: `{"answer": "Alice signed.", "citations": [{"chunk_id": "11111111-1111-1111-1111-111111111111"}]}`},
	}}
	gen := New(provider, DefaultConfig())

	result, err := gen.Generate(context.Background(), "Who signed?", sampleChunks())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.TriedJSONFormat {
		t.Errorf("expected TriedJSONFormat=false after dropping response_format on retry")
	}
	if provider.calls != 2 {
		t.Errorf("calls = %d, want 2 (initial + retry without response_format)", provider.calls)
	}
}

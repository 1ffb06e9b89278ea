package verify

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/researchorch/internal/llmgateway"
)

type stubClient struct {
	content string
}

func (s *stubClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: s.content}}},
	}, nil
}

func (s *stubClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	return nil, nil
}

func newTestVerifier(content string) *Verifier {
	gw := &llmgateway.Gateway{
		Client: &stubClient{content: content},
		Models: map[llmgateway.Alias]string{llmgateway.AliasVerify: "test-model"},
	}
	return &Verifier{Gateway: gw}
}

func TestVerifyParsesWellFormedJSON(t *testing.T) {
	v := newTestVerifier(`{"claims":[{"text":"The sky is blue.","claimType":"factual","supportScore":0.9,"contradicted":false,"evidence":[{"sourceId":"s1","chunkId":1,"quote":"sky appears blue"}]}]}`)

	res, err := v.Verify(context.Background(), Request{
		AnswerMarkdown: "The sky is blue [1].",
		ValidSourceIDs: map[string]bool{"s1": true},
		ValidChunkIDs:  map[int64]bool{1: true},
		ChunkTextByID:  map[int64]string{1: "On a clear day the sky appears blue to observers."},
		BindOffsets:    true,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(res.Claims) != 1 {
		t.Fatalf("expected one claim, got %d", len(res.Claims))
	}
	claim := res.Claims[0]
	if len(claim.Evidence) != 1 {
		t.Fatalf("expected one evidence item, got %d", len(claim.Evidence))
	}
	if !claim.Evidence[0].Bound {
		t.Fatalf("expected offsets to bind against chunk text")
	}
}

func TestVerifyStripsCodeFences(t *testing.T) {
	v := newTestVerifier("```json\n{\"claims\":[{\"text\":\"x\",\"supportScore\":0.5,\"evidence\":[]}]}\n```")
	res, err := v.Verify(context.Background(), Request{AnswerMarkdown: "x"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(res.Claims) != 1 {
		t.Fatalf("expected fenced JSON to parse, got %d claims", len(res.Claims))
	}
}

func TestVerifyFallsBackToBraceExtraction(t *testing.T) {
	v := newTestVerifier(`Sure, here you go: {"claims":[{"text":"y","supportScore":1,"evidence":[]}]} hope that helps!`)
	res, err := v.Verify(context.Background(), Request{AnswerMarkdown: "y"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(res.Claims) != 1 {
		t.Fatalf("expected brace-extraction fallback to find the claim, got %d", len(res.Claims))
	}
}

func TestVerifyReturnsEmptyOnUnparsableResponse(t *testing.T) {
	v := newTestVerifier("not json at all")
	res, err := v.Verify(context.Background(), Request{AnswerMarkdown: "z"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(res.Claims) != 0 {
		t.Fatalf("expected no claims for unparsable response, got %d", len(res.Claims))
	}
}

func TestVerifyDropsEvidenceOutsideRankingContext(t *testing.T) {
	v := newTestVerifier(`{"claims":[{"text":"x","supportScore":0.5,"evidence":[{"sourceId":"unknown","chunkId":99,"quote":"q"}]}]}`)
	res, err := v.Verify(context.Background(), Request{
		AnswerMarkdown: "x",
		ValidSourceIDs: map[string]bool{"s1": true},
		ValidChunkIDs:  map[int64]bool{1: true},
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(res.Claims[0].Evidence) != 0 {
		t.Fatalf("expected out-of-context evidence to be dropped, got %v", res.Claims[0].Evidence)
	}
}

func TestVerifyClampsSupportScore(t *testing.T) {
	v := newTestVerifier(`{"claims":[{"text":"x","supportScore":5,"evidence":[]}]}`)
	res, err := v.Verify(context.Background(), Request{AnswerMarkdown: "x"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Claims[0].SupportScore != 1 {
		t.Fatalf("expected support score clamped to 1, got %v", res.Claims[0].SupportScore)
	}
}

func TestDistinctSourcePairsRequiresTwoSources(t *testing.T) {
	pairs := distinctSourcePairs([]Evidence{{SourceID: "s1"}, {SourceID: "s1"}}, 3)
	if pairs != nil {
		t.Fatalf("expected no pairs from a single source, got %v", pairs)
	}
}

func TestDistinctSourcePairsCapsAtMax(t *testing.T) {
	pairs := distinctSourcePairs([]Evidence{
		{SourceID: "a"}, {SourceID: "b"}, {SourceID: "c"}, {SourceID: "d"},
	}, 2)
	if len(pairs) != 2 {
		t.Fatalf("expected pairs capped at 2, got %d", len(pairs))
	}
}

package llmgateway

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/researchorch/internal/errs"
)

type stubChatClient struct {
	resp       openai.ChatCompletionResponse
	err        error
	gotRequest openai.ChatCompletionRequest
}

func (s *stubChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.gotRequest = req
	return s.resp, s.err
}

func (s *stubChatClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	return nil, s.err
}

func TestGenerateReturnsTrimmedContent(t *testing.T) {
	stub := &stubChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "  hello world  "}}},
	}}
	g := &Gateway{Client: stub, Models: map[Alias]string{AliasPlan: "test-model"}}

	out, err := g.Generate(context.Background(), Request{Alias: AliasPlan, System: "sys", Prompt: "do the thing"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello world" {
		t.Fatalf("expected trimmed content, got %q", out)
	}
	if stub.gotRequest.Model != "test-model" {
		t.Fatalf("expected resolved model identifier, got %q", stub.gotRequest.Model)
	}
	if stub.gotRequest.Temperature != 0 {
		t.Fatalf("expected plan alias to default to temperature 0, got %v", stub.gotRequest.Temperature)
	}
}

func TestGenerateNoChoicesIsParserFailure(t *testing.T) {
	stub := &stubChatClient{resp: openai.ChatCompletionResponse{}}
	g := &Gateway{Client: stub, Models: map[Alias]string{AliasVerify: "test-model"}}

	_, err := g.Generate(context.Background(), Request{Alias: AliasVerify, Prompt: "x"})
	if errs.KindOf(err) != errs.KindParserFailure {
		t.Fatalf("expected parser failure kind, got %v", err)
	}
}

func TestClassifyProviderErrorRateLimit(t *testing.T) {
	err := classifyProviderError("op", &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"})
	if errs.KindOf(err) != errs.KindBudgetExceeded {
		t.Fatalf("expected budget exceeded kind, got %v", err)
	}
}

func TestClassifyProviderErrorServerError(t *testing.T) {
	err := classifyProviderError("op", &openai.APIError{HTTPStatusCode: 503, Message: "unavailable"})
	if errs.KindOf(err) != errs.KindUpstreamTransient {
		t.Fatalf("expected upstream transient kind, got %v", err)
	}
}

func TestClassifyProviderErrorNotFound(t *testing.T) {
	err := classifyProviderError("op", &openai.APIError{HTTPStatusCode: 404, Message: "missing"})
	if errs.KindOf(err) != errs.KindUpstreamNonRetryable {
		t.Fatalf("expected upstream non-retryable kind, got %v", err)
	}
}

func TestClassifyProviderErrorContextLength(t *testing.T) {
	err := classifyProviderError("op", &openai.APIError{HTTPStatusCode: 400, Code: "context_length_exceeded", Message: "too long"})
	if errs.KindOf(err) != errs.KindBudgetExceeded {
		t.Fatalf("expected budget exceeded kind for context length error, got %v", err)
	}
}

// Package llmgateway wraps an OpenAI-compatible chat client behind a small
// capability interface (stream/generate) selected by a model alias, and
// surfaces provider token/rate errors as a distinguishable kind so callers
// can apply budget recovery instead of treating every failure as fatal.
package llmgateway

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/researchorch/internal/cache"
	"github.com/hyperifyio/researchorch/internal/errs"
)

// Alias names a model preset. The actual model identifier behind each
// alias is resolved from configuration, not hardcoded here.
type Alias string

const (
	AliasPlan      Alias = "plan"
	AliasAnswer    Alias = "answer"
	AliasVerify    Alias = "verify"
	AliasReasoning Alias = "reasoning"
)

// Request describes a single chat call against an aliased model.
type Request struct {
	Alias          Alias
	System         string
	Prompt         string
	Messages       []openai.ChatCompletionMessage
	Temperature    float32
	MaxOutputToken int
	JSONOnly       bool
}

// Delta is one lazily-produced piece of streamed text.
type Delta struct {
	Text string
	Done bool
}

// chatClient is the minimal surface Gateway needs from *openai.Client,
// kept as an interface so tests can substitute a stub.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Gateway resolves a model alias to an actual model identifier and carries
// the preset temperature/streaming behavior for that alias.
type Gateway struct {
	Client chatClient
	Cache  *cache.LLMCache

	// Models maps an alias to the provider's model identifier.
	Models map[Alias]string
}

// New constructs a Gateway around an OpenAI-compatible client.
func New(client *openai.Client, models map[Alias]string) *Gateway {
	return &Gateway{Client: client, Models: models}
}

func (g *Gateway) modelFor(alias Alias) string {
	if g.Models == nil {
		return ""
	}
	return g.Models[alias]
}

// preset returns the default temperature and streaming behavior for an
// alias, applied when the caller hasn't set an explicit Temperature.
func preset(alias Alias) (temperature float32, stream bool, jsonOnly bool) {
	switch alias {
	case AliasPlan:
		return 0, false, true
	case AliasAnswer:
		return 0.2, true, false
	case AliasVerify:
		return 0, false, true
	case AliasReasoning:
		return 0.2, false, false
	default:
		return 0.2, false, false
	}
}

func (g *Gateway) buildRequest(req Request) openai.ChatCompletionRequest {
	defTemp, _, defJSON := preset(req.Alias)
	temp := req.Temperature
	if temp == 0 {
		temp = defTemp
	}
	jsonOnly := req.JSONOnly || defJSON

	messages := req.Messages
	if len(messages) == 0 {
		messages = []openai.ChatCompletionMessage{}
		if strings.TrimSpace(req.System) != "" {
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})
	}

	out := openai.ChatCompletionRequest{
		Model:       g.modelFor(req.Alias),
		Messages:    messages,
		Temperature: temp,
		N:           1,
	}
	if req.MaxOutputToken > 0 {
		out.MaxTokens = req.MaxOutputToken
	}
	if jsonOnly {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return out
}

// Generate returns a single, complete text response for req.
func (g *Gateway) Generate(ctx context.Context, req Request) (string, error) {
	ccReq := g.buildRequest(req)

	var cacheKey string
	if g.Cache != nil {
		cacheKey = cache.KeyFrom(ccReq.Model, req.System+"\n\n"+req.Prompt)
		if raw, ok, _ := g.Cache.Get(ctx, cacheKey); ok && len(raw) > 0 {
			return string(raw), nil
		}
	}

	resp, err := g.Client.CreateChatCompletion(ctx, ccReq)
	if err != nil {
		return "", classifyProviderError("llmgateway.Generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.New(errs.KindParserFailure, "llmgateway.Generate", errors.New("no choices returned"))
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)

	if g.Cache != nil && out != "" {
		_ = g.Cache.Save(ctx, cacheKey, []byte(out))
	}
	return out, nil
}

// Stream calls the model in streaming mode, invoking onDelta for every
// non-empty text fragment as it arrives, and once more with an empty,
// Done-marked Delta when the stream ends. It returns the full accumulated
// text once the stream completes.
func (g *Gateway) Stream(ctx context.Context, req Request, onDelta func(Delta)) (string, error) {
	ccReq := g.buildRequest(req)
	ccReq.Stream = true

	stream, err := g.Client.CreateChatCompletionStream(ctx, ccReq)
	if err != nil {
		return "", classifyProviderError("llmgateway.Stream", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return sb.String(), errs.New(errs.KindCancelled, "llmgateway.Stream", err)
		}
		if err != nil {
			if isStreamEOF(err) {
				break
			}
			return sb.String(), classifyProviderError("llmgateway.Stream", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		piece := chunk.Choices[0].Delta.Content
		if piece == "" {
			continue
		}
		sb.WriteString(piece)
		if onDelta != nil {
			onDelta(Delta{Text: piece})
		}
	}
	if onDelta != nil {
		onDelta(Delta{Done: true})
	}
	return sb.String(), nil
}

func isStreamEOF(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "eof")
}

// classifyProviderError maps an OpenAI API error into a semantic Kind so
// the orchestrator can distinguish rate/budget errors from everything
// else without string-matching at every call site.
func classifyProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return errs.New(errs.KindBudgetExceeded, op, err)
		case apiErr.HTTPStatusCode >= 500:
			return errs.New(errs.KindUpstreamTransient, op, err)
		case apiErr.HTTPStatusCode == 400 && isContextLengthError(apiErr):
			return errs.New(errs.KindBudgetExceeded, op, err)
		case apiErr.HTTPStatusCode >= 400:
			return errs.New(errs.KindUpstreamNonRetryable, op, err)
		}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "tokens per min") || strings.Contains(msg, "context_length_exceeded") {
		return errs.New(errs.KindBudgetExceeded, op, err)
	}
	return errs.New(errs.KindUpstreamTransient, op, err)
}

func isContextLengthError(apiErr *openai.APIError) bool {
	if apiErr.Code == nil {
		return strings.Contains(strings.ToLower(apiErr.Message), "context_length") ||
			strings.Contains(strings.ToLower(apiErr.Message), "maximum context length")
	}
	if code, ok := apiErr.Code.(string); ok {
		return code == "context_length_exceeded"
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "context_length")
}

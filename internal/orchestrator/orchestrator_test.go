//go:build cgo

package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/researchorch/internal/ingest"
	"github.com/hyperifyio/researchorch/internal/llmgateway"
	"github.com/hyperifyio/researchorch/internal/prompts"
	"github.com/hyperifyio/researchorch/internal/rank"
	"github.com/hyperifyio/researchorch/internal/reader"
	"github.com/hyperifyio/researchorch/internal/search"
	"github.com/hyperifyio/researchorch/internal/store"
	"github.com/hyperifyio/researchorch/internal/verify"
)

// stubSearchProvider returns a fixed result set regardless of query.
type stubSearchProvider struct {
	name    string
	results []search.Result
}

func (p *stubSearchProvider) Name() string { return p.name }
func (p *stubSearchProvider) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	return p.results, nil
}

// fakeOpenAIServer serves both plain chat completions (for plan/verify,
// dispatched by the system prompt) and streaming completions (for the
// answer alias), mirroring the wire shapes cmd/openai-stub and the
// teacher's httptest-based integration tests use for a fake LLM backend.
func fakeOpenAIServer(t *testing.T, answerText string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sys := ""
		if len(req.Messages) > 0 {
			sys = req.Messages[0].Content
		}

		switch {
		case strings.Contains(sys, "planning assistant"):
			plan := map[string]any{"intent": "test", "subqueries": []string{"cobalt prices"}, "focus": []string{}}
			b, _ := json.Marshal(plan)
			writeChatResponse(w, string(b))
		case strings.Contains(sys, "fact-check"), strings.Contains(sys, "verifier"):
			res := map[string]any{"claims": []map[string]any{}}
			b, _ := json.Marshal(res)
			writeChatResponse(w, string(b))
		case strings.Contains(sys, "credibility"):
			res := map[string]any{"score": 0.8, "rationale": "established outlet"}
			b, _ := json.Marshal(res)
			writeChatResponse(w, string(b))
		case req.Stream:
			writeChatStream(t, w, answerText)
		default:
			writeChatResponse(w, answerText)
		}
	}))
}

func writeChatResponse(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}},
	})
}

func writeChatStream(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatalf("response writer does not support flushing")
	}
	bw := bufio.NewWriter(w)
	words := strings.Fields(content)
	for i, word := range words {
		piece := word
		if i > 0 {
			piece = " " + piece
		}
		chunk := openai.ChatCompletionStreamResponse{
			Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: piece}}},
		}
		b, _ := json.Marshal(chunk)
		fmt.Fprintf(bw, "data: %s\n\n", b)
	}
	fmt.Fprint(bw, "data: [DONE]\n\n")
	bw.Flush()
	flusher.Flush()
}

func newTestOrchestrator(t *testing.T, srv *httptest.Server, searchResults []search.Result) (*Orchestrator, *httptest.Server) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	contentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Report</title></head><body><main>
<p>Cobalt prices rose sharply in the first quarter of the year.</p>
<p>Analysts attribute the rise to constrained mine supply in the region.</p>
</main></body></html>`))
	}))
	t.Cleanup(contentSrv.Close)

	for i := range searchResults {
		if searchResults[i].URL == "" {
			searchResults[i].URL = contentSrv.URL + "/a"
		}
	}

	rdr := reader.New(contentSrv.Client(), nil, "researchorch-test/1.0", "")
	ing := ingest.New(st, rdr)
	adapter := &search.Adapter{Primary: &stubSearchProvider{name: "stub", results: searchResults}}
	ranker := &rank.Ranker{Store: st}

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	client := openai.NewClientWithConfig(cfg)
	gw := llmgateway.New(client, map[llmgateway.Alias]string{
		llmgateway.AliasPlan:      "test-model",
		llmgateway.AliasAnswer:    "test-model",
		llmgateway.AliasVerify:    "test-model",
		llmgateway.AliasReasoning: "test-model",
	})

	return &Orchestrator{
		Store:    st,
		Search:   adapter,
		Ingestor: ing,
		Ranker:   ranker,
		Gateway:  gw,
		Verifier: &verify.Verifier{Gateway: gw},
	}, contentSrv
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEmitter) Emit(event, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEmitter) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func TestRunHappyPathEmitsSourcesBeforeTokensAndDone(t *testing.T) {
	llm := fakeOpenAIServer(t, "Cobalt prices rose sharply [1].")
	defer llm.Close()

	orc, _ := newTestOrchestrator(t, llm, []search.Result{{Title: "Report", Snippet: "cobalt"}})
	ctx := context.Background()

	thread, err := orc.Store.CreateThread(ctx, "cobalt prices", "")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	emit := &recordingEmitter{}
	res, err := orc.Run(ctx, thread.ID, "Why did cobalt prices rise?", Options{Depth: DepthQuick}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.MessageID == "" || res.AnswerMarkdown == "" {
		t.Fatalf("expected a persisted answer, got %+v", res)
	}
	if len(res.Sources) == 0 {
		t.Fatalf("expected at least one source reference")
	}
	if res.Sources[0].TrustNote == "" {
		t.Fatalf("expected the source trust stage to annotate a note, got %+v", res.Sources[0])
	}
	if !emit.has(EventSources) || !emit.has(EventToken) || !emit.has(EventDone) {
		t.Fatalf("expected sources, token, and done events, got %v", emit.events)
	}
	if !emit.has(EventAnswer) {
		t.Fatalf("expected an answer event, got %v", emit.events)
	}

	sourcesIdx, tokenIdx, doneIdx := -1, -1, -1
	for i, e := range emit.events {
		switch e {
		case EventSources:
			if sourcesIdx == -1 {
				sourcesIdx = i
			}
		case EventToken:
			if tokenIdx == -1 {
				tokenIdx = i
			}
		case EventDone:
			doneIdx = i
		}
	}
	if !(sourcesIdx < tokenIdx && tokenIdx < doneIdx) {
		t.Fatalf("expected sources before token before done, got order %v", emit.events)
	}

	msgs, err := orc.Store.ListMessages(ctx, thread.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) == 0 {
		t.Fatalf("expected the assistant message to be persisted")
	}
}

func TestRunCompletesGracefullyWhenNoSourcesSurvive(t *testing.T) {
	llm := fakeOpenAIServer(t, "answer")
	defer llm.Close()

	orc, contentSrv := newTestOrchestrator(t, llm, nil)
	contentSrv.Close() // every read now fails

	ctx := context.Background()
	thread, err := orc.Store.CreateThread(ctx, "empty", "")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	emit := &recordingEmitter{}
	res, err := orc.Run(ctx, thread.ID, "question with no sources", Options{}, emit)
	if err != nil {
		t.Fatalf("expected a graceful completion, got error: %v", err)
	}
	if emit.has(EventError) {
		t.Fatalf("expected no error event for a zero-result query, got %v", emit.events)
	}
	if !emit.has(EventSources) || !emit.has(EventClaims) || !emit.has(EventDone) {
		t.Fatalf("expected sources, claims, and done events, got %v", emit.events)
	}
	if len(res.Sources) != 0 {
		t.Fatalf("expected an empty sources list, got %+v", res.Sources)
	}
	if !strings.HasPrefix(res.AnswerMarkdown, "I could not find suitable sources") {
		t.Fatalf("expected the canned no-sources reply, got %q", res.AnswerMarkdown)
	}

	msgs, err := orc.Store.ListMessages(ctx, thread.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) == 0 || !strings.HasPrefix(msgs[len(msgs)-1].ContentMd, "I could not find suitable sources") {
		t.Fatalf("expected the canned reply to be persisted, got %+v", msgs)
	}
}

func TestMaxSubqueriesForCapsByDepth(t *testing.T) {
	cases := map[Depth]int{DepthQuick: 3, DepthNormal: 4, DepthDeep: 6, Depth("bogus"): 4}
	for depth, want := range cases {
		if got := maxSubqueriesFor(depth); got != want {
			t.Fatalf("maxSubqueriesFor(%q) = %d, want %d", depth, got, want)
		}
	}
}

func TestBuildSourceRefsAssignsStableFirstSeenIndices(t *testing.T) {
	hits := []store.ChunkHit{
		{ChunkID: 1, SourceID: "s1", SourceURL: "https://a.example"},
		{ChunkID: 2, SourceID: "s2", SourceURL: "https://b.example"},
		{ChunkID: 3, SourceID: "s1", SourceURL: "https://a.example"},
	}
	sources, refBySourceID := buildSourceRefs(hits)
	if len(sources) != 2 {
		t.Fatalf("expected 2 distinct sources, got %d", len(sources))
	}
	if refBySourceID["s1"] != 1 || refBySourceID["s2"] != 2 {
		t.Fatalf("unexpected index assignment: %+v", refBySourceID)
	}
	if sources[0].URL != "https://a.example" || sources[1].URL != "https://b.example" {
		t.Fatalf("unexpected source order: %+v", sources)
	}
}

func TestProgressPayloadIsValidJSON(t *testing.T) {
	raw := progressPayload(StagePlan, "starting")
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("progressPayload produced invalid JSON: %v", err)
	}
	if out["stage"] != StagePlan || out["status"] != "starting" {
		t.Fatalf("unexpected payload: %v", out)
	}
}

func TestPersistCitationsInsertsOneRowPerCitedSource(t *testing.T) {
	llm := fakeOpenAIServer(t, "answer")
	defer llm.Close()
	orc, _ := newTestOrchestrator(t, llm, nil)
	ctx := context.Background()

	thread, err := orc.Store.CreateThread(ctx, "t", "")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	msg, err := orc.Store.AppendMessage(ctx, thread.ID, "assistant", "Cobalt rose [1]. Demand grew [2].")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	src := store.Source{ID: "src-1", URL: "https://a.example", Domain: "a.example", Status: "ok"}
	if _, err := orc.Store.UpsertSource(ctx, src); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}
	src2 := store.Source{ID: "src-2", URL: "https://b.example", Domain: "b.example", Status: "ok"}
	if _, err := orc.Store.UpsertSource(ctx, src2); err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}

	sources := []prompts.SourceRef{{Index: 1, URL: "https://a.example"}, {Index: 2, URL: "https://b.example"}}
	hits := []store.ChunkHit{
		{ChunkID: 10, SourceID: "src-1", SourceURL: "https://a.example", Text: "Cobalt rose sharply."},
		{ChunkID: 20, SourceID: "src-2", SourceURL: "https://b.example", Text: "Demand grew this quarter."},
	}

	orc.persistCitations(ctx, msg.ID, msg.ContentMd, sources, hits)

	cites, err := orc.Store.CitationsByMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("CitationsByMessage: %v", err)
	}
	if len(cites) != 2 {
		t.Fatalf("expected 2 citations, got %d: %+v", len(cites), cites)
	}
}

func TestVerifySkipsWhenEstimatedTokensExceedLimit(t *testing.T) {
	llm := fakeOpenAIServer(t, "answer")
	defer llm.Close()
	orc, _ := newTestOrchestrator(t, llm, nil)
	ctx := context.Background()

	hits := []store.ChunkHit{{ChunkID: 1, SourceID: "s1", SourceURL: "https://a.example", Text: strings.Repeat("word ", 5000)}}
	emit := &recordingEmitter{}
	claims, err := orc.verify(ctx, "msg-1", "answer text", hits, Options{SkipVerifyOnTPM: 10}, emit)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims != nil {
		t.Fatalf("expected verify to be skipped, got claims: %+v", claims)
	}
	found := false
	for _, e := range emit.events {
		if e == EventProgress {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a progress event announcing the skip")
	}
}

// Package orchestrator drives one research run end to end: plan the
// subqueries, search and ingest sources, rank their chunks, stream an
// answer grounded in the ranked excerpts, and verify the answer's claims
// — emitting progress at every stage through an Emitter so a caller can
// forward events over any transport.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperifyio/researchorch/internal/budget"
	"github.com/hyperifyio/researchorch/internal/canon"
	"github.com/hyperifyio/researchorch/internal/concurrency"
	"github.com/hyperifyio/researchorch/internal/errs"
	"github.com/hyperifyio/researchorch/internal/ingest"
	"github.com/hyperifyio/researchorch/internal/llmgateway"
	"github.com/hyperifyio/researchorch/internal/prompts"
	"github.com/hyperifyio/researchorch/internal/rank"
	"github.com/hyperifyio/researchorch/internal/search"
	"github.com/hyperifyio/researchorch/internal/store"
	"github.com/hyperifyio/researchorch/internal/validate"
	"github.com/hyperifyio/researchorch/internal/verify"
)

// Event names emitted during a run. These match the SSE wire contract in
// internal/sse one for one; orchestrator does not import that package so
// it stays usable over any transport an Emitter chooses to wrap.
const (
	EventProgress = "progress"
	EventToken    = "token"
	EventSources  = "sources"
	EventClaims   = "claims"
	EventError    = "error"
	EventDone     = "done"
	EventAnswer   = "answer"
)

// Stage labels carried in a progress event's payload.
const (
	StagePlan   = "plan"
	StageSearch = "search"
	StageRead   = "read"
	StageRank   = "rank"
	StageAnswer = "answer"
	StageVerify = "verify"
)

// Emitter forwards one named event with its string payload.
// Implementations decide how to frame it (e.g. httpapi's SSE adapter sends
// each payload unchanged as the data of an event with the same name).
// Progress, sources and claims payloads are JSON; token, answer, error and
// done payloads are plain text.
type Emitter interface {
	Emit(event, data string) error
}

// NoopEmitter discards every event; useful for callers that only want the
// final Result.
type NoopEmitter struct{}

func (NoopEmitter) Emit(event, data string) error { return nil }

// cancelAwareEmitter drops every event once ctx is done.
type cancelAwareEmitter struct {
	ctx  context.Context
	next Emitter
}

func (e cancelAwareEmitter) Emit(event, data string) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	return e.next.Emit(event, data)
}

// Depth controls how many subqueries the plan stage is allowed to
// produce and, by extension, how thorough (and slow) the run is.
type Depth string

const (
	DepthQuick  Depth = "quick"
	DepthNormal Depth = "normal"
	DepthDeep   Depth = "deep"
)

func maxSubqueriesFor(d Depth) int {
	switch d {
	case DepthDeep:
		return 6
	case DepthQuick:
		return 3
	default:
		return 4
	}
}

// Options configures one Run call. Zero values select the defaults
// documented on each field.
type Options struct {
	Depth       Depth
	TimeRange   string
	Region      string
	Constraints string

	// InlineCap bounds how many distinct search results are read and
	// ingested inline. Default 12.
	InlineCap int
	// SearchConcurrency bounds concurrent subquery searches. Default 3.
	SearchConcurrency int
	// ReadConcurrency bounds concurrent reads/ingests. Default 4.
	ReadConcurrency int

	// AnswerInputBudgetTokens bounds the excerpt text handed to the answer
	// model. Default 3200.
	AnswerInputBudgetTokens int
	// AnswerPromptOverheadTokens is reserved for the system/question/
	// source-list text surrounding the excerpts. Default 800.
	AnswerPromptOverheadTokens int
	// AnswerMaxCharsPerChunk shrinks any single excerpt longer than this
	// before budgeting. Default 900.
	AnswerMaxCharsPerChunk int

	// VerifyMaxCharsPerChunk shrinks excerpts offered to the verifier.
	// Default 400.
	VerifyMaxCharsPerChunk int
	// SkipVerifyOnTPM skips the verify stage entirely when the estimated
	// verify prompt would exceed this many tokens (0 disables the skip).
	SkipVerifyOnTPM int
	// NLIContradictionCheck enables the verifier's pairwise NLI pass.
	NLIContradictionCheck bool
}

func (o Options) withDefaults() Options {
	if o.Depth == "" {
		o.Depth = DepthNormal
	}
	if o.InlineCap <= 0 {
		o.InlineCap = 12
	}
	if o.SearchConcurrency <= 0 {
		o.SearchConcurrency = 3
	}
	if o.ReadConcurrency <= 0 {
		o.ReadConcurrency = 4
	}
	if o.AnswerInputBudgetTokens <= 0 {
		o.AnswerInputBudgetTokens = 3200
	}
	if o.AnswerPromptOverheadTokens <= 0 {
		o.AnswerPromptOverheadTokens = 800
	}
	if o.AnswerMaxCharsPerChunk <= 0 {
		o.AnswerMaxCharsPerChunk = 900
	}
	if o.VerifyMaxCharsPerChunk <= 0 {
		o.VerifyMaxCharsPerChunk = 400
	}
	return o
}

// Result is the final outcome of a completed run.
type Result struct {
	MessageID      string
	AnswerMarkdown string
	Sources        []prompts.SourceRef
	Claims         []verify.Claim
}

// Orchestrator wires together every stage's collaborator.
type Orchestrator struct {
	Store    *store.Store
	Search   *search.Adapter
	Ingestor *ingest.Ingestor
	Ranker   *rank.Ranker
	Gateway  *llmgateway.Gateway
	Verifier *verify.Verifier
}

type planResponse struct {
	Intent      string            `json:"intent"`
	Subqueries  []string          `json:"subqueries"`
	Focus       []string          `json:"focus"`
	Constraints map[string]string `json:"constraints"`
}

func progressPayload(stage, status string) string {
	b, _ := json.Marshal(map[string]string{"stage": stage, "status": status})
	return string(b)
}

// Run executes the full plan→search→read→rank→answer→verify→done pipeline
// for one question on threadID, emitting progress through emit. Any stage
// may end the run early with an error event; ctx cancellation aborts
// in-flight I/O and suppresses further application events.
func (o *Orchestrator) Run(ctx context.Context, threadID, question string, opts Options, emit Emitter) (Result, error) {
	opts = opts.withDefaults()
	if emit == nil {
		emit = NoopEmitter{}
	}
	emit = cancelAwareEmitter{ctx: ctx, next: emit}

	subqueries, err := o.plan(ctx, question, opts, emit)
	if err != nil {
		return o.fail(emit, "plan", err)
	}

	results, err := o.search(ctx, subqueries, opts, emit)
	if err != nil {
		return o.fail(emit, "search", err)
	}

	sourceIDs, err := o.read(ctx, results, opts, emit)
	if err != nil {
		return o.fail(emit, "read", err)
	}
	if len(sourceIDs) == 0 {
		return o.noSources(ctx, threadID, emit)
	}

	hits, err := o.rank(ctx, subqueries, emit)
	if err != nil {
		return o.fail(emit, "rank", err)
	}

	sources, refBySourceID := buildSourceRefs(hits)
	sources = o.annotateTrust(ctx, sources, emit)
	if b, jsonErr := json.Marshal(sources); jsonErr == nil {
		_ = emit.Emit(EventSources, string(b))
	}

	answerMD, err := o.answer(ctx, question, sources, refBySourceID, hits, opts, emit)
	if err != nil {
		return o.fail(emit, "answer", err)
	}
	_ = emit.Emit(EventAnswer, answerMD)

	msg, err := o.Store.AppendMessage(ctx, threadID, "assistant", answerMD)
	if err != nil {
		return o.fail(emit, "answer", err)
	}
	o.persistCitations(ctx, msg.ID, answerMD, sources, hits)

	var claims []verify.Claim
	if o.Verifier != nil {
		claims, err = o.verify(ctx, msg.ID, answerMD, hits, opts, emit)
		if err != nil {
			_ = emit.Emit(EventError, fmt.Sprintf("verify: %v", err))
		}
	}

	_ = emit.Emit(EventDone, "")
	return Result{MessageID: msg.ID, AnswerMarkdown: answerMD, Sources: sources, Claims: claims}, nil
}

func (o *Orchestrator) fail(emit Emitter, stage string, err error) (Result, error) {
	_ = emit.Emit(EventError, fmt.Sprintf("%s: %v", stage, err))
	return Result{}, err
}

// noSourcesMessage is the canned assistant reply persisted when a query
// yields no ingestible sources. A zero-result query is not an error: the
// run still completes with an empty sources list, an empty claims list,
// and a done event.
const noSourcesMessage = "I could not find suitable sources to answer this question. Try rephrasing it or broadening the time range or region."

// noSources completes a run with no usable sources: emits an empty
// sources list, persists the canned reply as the assistant message, emits
// an empty claims list, and ends with done.
func (o *Orchestrator) noSources(ctx context.Context, threadID string, emit Emitter) (Result, error) {
	sources := []prompts.SourceRef{}
	_ = emit.Emit(EventSources, "[]")
	_ = emit.Emit(EventAnswer, noSourcesMessage)

	msg, err := o.Store.AppendMessage(ctx, threadID, "assistant", noSourcesMessage)
	if err != nil {
		return o.fail(emit, "read", err)
	}

	_ = emit.Emit(EventClaims, "[]")
	_ = emit.Emit(EventDone, "")
	return Result{MessageID: msg.ID, AnswerMarkdown: noSourcesMessage, Sources: sources, Claims: nil}, nil
}

// plan calls the LLM plan alias and falls back to a single-query plan
// {subqueries:[question]} on any parse failure, capping subqueries by
// depth.
func (o *Orchestrator) plan(ctx context.Context, question string, opts Options, emit Emitter) ([]string, error) {
	_ = emit.Emit(EventProgress, progressPayload(StagePlan, "starting"))

	pair := prompts.Plan(prompts.PlanInput{
		Question:    question,
		Depth:       string(opts.Depth),
		TimeRange:   opts.TimeRange,
		Region:      opts.Region,
		Constraints: opts.Constraints,
	})
	raw, err := o.Gateway.Generate(ctx, llmgateway.Request{Alias: llmgateway.AliasPlan, System: pair.System, Prompt: pair.User, JSONOnly: true})

	subqueries := []string{question}
	switch {
	case err != nil && errs.KindOf(err) == errs.KindBudgetExceeded:
		return nil, err
	case err != nil:
		_ = emit.Emit(EventProgress, progressPayload(StagePlan, "call failed, using naive plan"))
	default:
		var p planResponse
		if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); jsonErr == nil && len(p.Subqueries) > 0 {
			subqueries = p.Subqueries
		} else {
			_ = emit.Emit(EventProgress, progressPayload(StagePlan, "parse failed, using naive plan"))
		}
	}

	if cap := maxSubqueriesFor(opts.Depth); len(subqueries) > cap {
		subqueries = subqueries[:cap]
	}
	_ = emit.Emit(EventProgress, progressPayload(StagePlan, "done"))
	return subqueries, nil
}

// search runs every subquery with bounded concurrency, merging and
// deduping by URL while preserving first-seen order.
func (o *Orchestrator) search(ctx context.Context, subqueries []string, opts Options, emit Emitter) ([]search.Result, error) {
	_ = emit.Emit(EventProgress, progressPayload(StageSearch, "starting"))

	groups, errsOut := concurrency.MapLimit(ctx, subqueries, opts.SearchConcurrency, func(ctx context.Context, q string) ([]search.Result, error) {
		return o.Search.Search(ctx, q, search.Options{TimeRange: opts.TimeRange, Region: opts.Region})
	})

	seen := make(map[string]struct{})
	var merged []search.Result
	anyOK := false
	for i, g := range groups {
		if errsOut[i] != nil {
			continue
		}
		anyOK = true
		for _, r := range g {
			if _, dup := seen[r.URL]; dup {
				continue
			}
			seen[r.URL] = struct{}{}
			merged = append(merged, r)
		}
	}
	if !anyOK && len(subqueries) > 0 {
		return nil, fmt.Errorf("every subquery search failed")
	}
	_ = emit.Emit(EventProgress, progressPayload(StageSearch, fmt.Sprintf("found %d unique results", len(merged))))
	return merged, nil
}

// read ingests up to InlineCap search results inline with bounded
// concurrency, discarding per-URL failures and continuing.
func (o *Orchestrator) read(ctx context.Context, results []search.Result, opts Options, emit Emitter) ([]string, error) {
	_ = emit.Emit(EventProgress, progressPayload(StageRead, "starting"))

	n := len(results)
	if n > opts.InlineCap {
		n = opts.InlineCap
	}
	selected := results[:n]

	outs, errsOut := concurrency.MapLimit(ctx, selected, opts.ReadConcurrency, func(ctx context.Context, r search.Result) (string, error) {
		res, err := o.Ingestor.Ingest(ctx, r.URL, ingest.Options{Immediate: true})
		if err != nil {
			return "", err
		}
		return res.SourceID, nil
	})

	var sourceIDs []string
	for i := range outs {
		if errsOut[i] == nil && outs[i] != "" {
			sourceIDs = append(sourceIDs, outs[i])
		}
		if (i+1)%2 == 0 {
			_ = emit.Emit(EventProgress, progressPayload(StageRead, fmt.Sprintf("%d/%d", i+1, len(selected))))
		}
	}
	_ = emit.Emit(EventProgress, progressPayload(StageRead, fmt.Sprintf("%d/%d", len(selected), len(selected))))
	return sourceIDs, nil
}

func (o *Orchestrator) rank(ctx context.Context, subqueries []string, emit Emitter) ([]store.ChunkHit, error) {
	_ = emit.Emit(EventProgress, progressPayload(StageRank, "starting"))
	hits, err := o.Ranker.RankForQueries(ctx, subqueries, rank.OptionsDefault())
	if err != nil {
		return nil, err
	}
	_ = emit.Emit(EventProgress, progressPayload(StageRank, fmt.Sprintf("%d chunks", len(hits))))
	return hits, nil
}

// buildSourceRefs assigns a stable 1-based reference number to each
// distinct SourceID in hits, in first-seen (already rank-ordered) order.
func buildSourceRefs(hits []store.ChunkHit) ([]prompts.SourceRef, map[string]int) {
	refBySourceID := make(map[string]int)
	var sources []prompts.SourceRef
	for _, h := range hits {
		if _, ok := refBySourceID[h.SourceID]; ok {
			continue
		}
		idx := len(sources) + 1
		refBySourceID[h.SourceID] = idx
		sources = append(sources, prompts.SourceRef{Index: idx, URL: h.SourceURL})
	}
	return sources, refBySourceID
}

// annotateTrust asks the reasoning alias for a short credibility note per
// source and folds each into the matching SourceRef.TrustNote, so the
// answer prompt's source list carries it. A source whose call or parse
// fails is left without a note; this never fails the run.
func (o *Orchestrator) annotateTrust(ctx context.Context, sources []prompts.SourceRef, emit Emitter) []prompts.SourceRef {
	if len(sources) == 0 {
		return sources
	}
	notes, errsOut := concurrency.MapLimit(ctx, sources, 4, func(ctx context.Context, s prompts.SourceRef) (string, error) {
		pair := prompts.SourceTrust(prompts.SourceTrustInput{URL: s.URL, Domain: canon.Domain(s.URL), Title: s.Title})
		raw, err := o.Gateway.Generate(ctx, llmgateway.Request{Alias: llmgateway.AliasReasoning, System: pair.System, Prompt: pair.User, JSONOnly: true})
		if err != nil {
			return "", err
		}
		var out struct {
			Score     float64 `json:"score"`
			Rationale string  `json:"rationale"`
		}
		if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); jsonErr != nil {
			return "", jsonErr
		}
		return out.Rationale, nil
	})
	for i := range sources {
		if errsOut[i] == nil {
			sources[i].TrustNote = notes[i]
		}
	}
	_ = emit.Emit(EventProgress, progressPayload(StageRank, "annotated source trust"))
	return sources
}

// answer budgets the ranked chunks to fit the configured token window,
// streams the answer from the LLM token by token, and retries once with a
// halved budget if the provider reports the prompt was too large.
func (o *Orchestrator) answer(ctx context.Context, question string, sources []prompts.SourceRef, refBySourceID map[string]int, hits []store.ChunkHit, opts Options, emit Emitter) (string, error) {
	_ = emit.Emit(EventProgress, progressPayload(StageAnswer, "starting"))

	budgetTokens := opts.AnswerInputBudgetTokens
	md, err := o.streamAnswer(ctx, question, sources, refBySourceID, hits, budgetTokens, opts, emit)
	if err != nil && errs.KindOf(err) == errs.KindBudgetExceeded {
		_ = emit.Emit(EventProgress, progressPayload(StageAnswer, "prompt too large, retrying with a smaller budget"))
		md, err = o.streamAnswer(ctx, question, sources, refBySourceID, hits, budgetTokens/2, opts, emit)
	}
	if err != nil {
		return "", err
	}
	_ = emit.Emit(EventProgress, progressPayload(StageAnswer, "done"))
	return md, nil
}

func (o *Orchestrator) streamAnswer(ctx context.Context, question string, sources []prompts.SourceRef, refBySourceID map[string]int, hits []store.ChunkHit, budgetTokens int, opts Options, emit Emitter) (string, error) {
	trimmed := budget.TrimChunksToBudget(hits, budgetTokens, opts.AnswerPromptOverheadTokens)
	shrunk := make([]store.ChunkHit, len(trimmed))
	for i, c := range trimmed {
		c.Text = budget.ShrinkChunkText(c.Text, opts.AnswerMaxCharsPerChunk)
		shrunk[i] = c
	}

	pair := prompts.Answer(prompts.AnswerInput{Question: question, Sources: sources, Excerpts: shrunk, RefBySourceID: refBySourceID})

	md, err := o.Gateway.Stream(ctx, llmgateway.Request{Alias: llmgateway.AliasAnswer, System: pair.System, Prompt: pair.User}, func(d llmgateway.Delta) {
		if d.Text != "" {
			_ = emit.Emit(EventToken, d.Text)
		}
	})
	if err != nil {
		return "", err
	}

	if citations := validate.ValidateCitations(md, len(sources)); !citations.OK() {
		_ = emit.Emit(EventProgress, progressPayload(StageAnswer, "citation check found out-of-range references"))
	}
	return md, nil
}

// persistCitations records one Citation row per distinct in-range [n]
// reference the answer actually used, bound to that source's
// highest-ranked chunk.
func (o *Orchestrator) persistCitations(ctx context.Context, messageID, answerMD string, sources []prompts.SourceRef, hits []store.ChunkHit) {
	topChunkBySourceID := make(map[string]store.ChunkHit, len(hits))
	for _, h := range hits {
		if _, ok := topChunkBySourceID[h.SourceID]; !ok {
			topChunkBySourceID[h.SourceID] = h
		}
	}

	cited := validate.ValidateCitations(answerMD, len(sources))
	for _, idx := range cited.InRange {
		if idx < 1 || idx > len(sources) {
			continue
		}
		sourceURL := sources[idx-1].URL
		var sourceID string
		for sid, h := range topChunkBySourceID {
			if h.SourceURL == sourceURL {
				sourceID = sid
				break
			}
		}
		h, ok := topChunkBySourceID[sourceID]
		if !ok {
			continue
		}
		_, _ = o.Store.InsertCitation(ctx, store.Citation{
			MessageID: messageID,
			SourceID:  h.SourceID,
			ChunkID:   h.ChunkID,
			Quote:     h.Text,
			CharStart: h.CharStart,
			CharEnd:   h.CharEnd,
			RankScore: h.Score,
		})
	}
}

// verify extracts claims, skipping entirely when the estimated verify
// prompt would exceed SkipVerifyOnTPM, and persists confirmed claims and
// their evidence.
func (o *Orchestrator) verify(ctx context.Context, messageID, answerMD string, hits []store.ChunkHit, opts Options, emit Emitter) ([]verify.Claim, error) {
	_ = emit.Emit(EventProgress, progressPayload(StageVerify, "starting"))

	snippets := make([]prompts.VerifySnippet, 0, len(hits))
	chunkTextByID := make(map[int64]string, len(hits))
	validSourceIDs := make(map[string]bool, len(hits))
	validChunkIDs := make(map[int64]bool, len(hits))
	estTokens := 0
	for _, h := range hits {
		text := budget.ShrinkChunkText(h.Text, opts.VerifyMaxCharsPerChunk)
		snippets = append(snippets, prompts.VerifySnippet{SourceID: h.SourceID, ChunkID: h.ChunkID, Text: text})
		chunkTextByID[h.ChunkID] = h.Text
		validSourceIDs[h.SourceID] = true
		validChunkIDs[h.ChunkID] = true
		estTokens += budget.EstimateTokens(text)
	}

	if opts.SkipVerifyOnTPM > 0 && estTokens > opts.SkipVerifyOnTPM {
		_ = emit.Emit(EventProgress, progressPayload(StageVerify, "skipped: prompt would exceed the configured token limit"))
		return nil, nil
	}

	res, err := o.Verifier.Verify(ctx, verify.Request{
		AnswerMarkdown:        answerMD,
		Snippets:              snippets,
		ChunkTextByID:         chunkTextByID,
		ValidSourceIDs:        validSourceIDs,
		ValidChunkIDs:         validChunkIDs,
		BindOffsets:           true,
		NLIContradictionCheck: opts.NLIContradictionCheck,
	})
	if err != nil {
		return nil, err
	}

	for _, c := range res.Claims {
		claimID, claimErr := o.Store.InsertClaim(ctx, store.Claim{
			MessageID:         messageID,
			Text:              c.Text,
			ClaimType:         c.ClaimType,
			SupportScore:      c.SupportScore,
			Contradicted:      c.Contradicted,
			UncertaintyReason: c.UncertaintyReason,
		})
		if claimErr != nil {
			continue
		}
		for _, e := range c.Evidence {
			_, _ = o.Store.InsertClaimEvidence(ctx, store.ClaimEvidence{
				ClaimID:   claimID,
				SourceID:  e.SourceID,
				ChunkID:   e.ChunkID,
				Quote:     e.Quote,
				CharStart: e.CharStart,
				CharEnd:   e.CharEnd,
			})
		}
	}

	if b, jsonErr := json.Marshal(res.Claims); jsonErr == nil {
		_ = emit.Emit(EventClaims, string(b))
	}
	_ = emit.Emit(EventProgress, progressPayload(StageVerify, "done"))
	return res.Claims, nil
}

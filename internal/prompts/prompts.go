// Package prompts builds the {system, user} string pairs sent to the LLM
// gateway for planning, answering, verifying, NLI contradiction checks,
// and source-trust scoring.
package prompts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperifyio/researchorch/internal/store"
)

// Pair is a system/user prompt pair.
type Pair struct {
	System string
	User   string
}

// PlanInput bundles the information available to the planning stage.
type PlanInput struct {
	Question    string
	Depth       string
	TimeRange   string
	Region      string
	Constraints string
}

// Plan builds the planning prompt. The model is expected to answer with
// JSON {intent, subqueries[], focus[], constraints{...}}.
func Plan(in PlanInput) Pair {
	system := "You are a research planning assistant. Respond with strict JSON only, no narration, no code fences. " +
		`The schema is {"intent":string,"subqueries":string[3..6],"focus":string[0..5],"constraints":{}}. ` +
		"Subqueries must be diverse, concise web search queries; include at least one that seeks counter-evidence " +
		"or limitations of the premise."

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(in.Question)
	if in.Depth != "" {
		b.WriteString("\nDepth: ")
		b.WriteString(in.Depth)
	}
	if in.TimeRange != "" {
		b.WriteString("\nTime range: ")
		b.WriteString(in.TimeRange)
	}
	if in.Region != "" {
		b.WriteString("\nRegion: ")
		b.WriteString(in.Region)
	}
	if in.Constraints != "" {
		b.WriteString("\nConstraints: ")
		b.WriteString(in.Constraints)
	}
	return Pair{System: system, User: b.String()}
}

// SourceRef is a numbered reference shown to the answer model.
type SourceRef struct {
	Index int
	Title string
	URL   string
	// TrustNote is an optional short credibility note from SourceTrust,
	// folded into the answer prompt's source list when present.
	TrustNote string
}

// AnswerInput bundles the budgeted context passed to the answer stage.
type AnswerInput struct {
	Question string
	Sources  []SourceRef
	Excerpts []store.ChunkHit
	// RefBySourceID maps a chunk's SourceID to its numbered reference index.
	RefBySourceID map[string]int
}

// Answer builds the answer prompt: inline numeric citations mapping to a
// numbered source list, Markdown only, no bibliography, no speculation
// beyond the given context.
func Answer(in AnswerInput) Pair {
	system := "You are a careful research assistant. Answer the question using ONLY the numbered " +
		"excerpts provided below. Cite every factual claim with inline bracketed numeric citations " +
		"like [1] that map to the numbered sources list. Do not invent sources or facts not present " +
		"in the excerpts. If the excerpts are insufficient to answer fully, say so explicitly. " +
		"Respond in Markdown prose only: no bibliography or references section, no code fences " +
		"around the whole answer."

	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(in.Question)
	b.WriteString("\n\nSources:\n")
	for _, s := range in.Sources {
		b.WriteString(strconv.Itoa(s.Index))
		b.WriteString(". ")
		if s.Title != "" {
			b.WriteString(s.Title)
			b.WriteString(" — ")
		}
		b.WriteString(s.URL)
		if s.TrustNote != "" {
			b.WriteString(" (")
			b.WriteString(s.TrustNote)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nExcerpts:\n")
	for _, c := range in.Excerpts {
		idx := in.RefBySourceID[c.SourceID]
		b.WriteString(fmt.Sprintf("[%d] %s\n\n", idx, c.Text))
	}
	return Pair{System: system, User: b.String()}
}

// VerifySnippet is one piece of evidence context offered to the verifier.
type VerifySnippet struct {
	SourceID string
	ChunkID  int64
	Text     string
}

// VerifyInput bundles the answer text and its supporting snippets.
type VerifyInput struct {
	AnswerMarkdown string
	Snippets       []VerifySnippet
	MaxClaims      int
}

// Verify builds the strict JSON-only claim-extraction prompt.
func Verify(in VerifyInput) Pair {
	maxClaims := in.MaxClaims
	if maxClaims <= 0 {
		maxClaims = 12
	}
	system := fmt.Sprintf(
		"You are a fact-check verifier. Respond with strict JSON only, no prose, no code fences. "+
			`The schema is {"claims":[{"text":string,"claimType":string,"supportScore":number,`+
			`"contradicted":bool,"uncertaintyReason":string,"evidence":[{"sourceId":string,`+
			`"chunkId":number,"quote":string}]}]}. `+
			"Extract at most %d atomic, independently checkable claims from the answer. "+
			"Every claim's evidence quotes must be copied verbatim from the provided snippets. "+
			"supportScore is in [0,1]; 0 means unsupported.", maxClaims)

	var b strings.Builder
	b.WriteString("Answer to verify:\n\n")
	b.WriteString(in.AnswerMarkdown)
	b.WriteString("\n\nSnippets:\n")
	for _, s := range in.Snippets {
		b.WriteString(fmt.Sprintf("sourceId=%s chunkId=%d: %s\n\n", s.SourceID, s.ChunkID, s.Text))
	}
	return Pair{System: system, User: b.String()}
}

// NLIInput bundles a pair of evidence quotes being checked for agreement.
type NLIInput struct {
	ClaimText string
	QuoteA    string
	QuoteB    string
}

// NLI builds the entailment/contradiction-check prompt for a pair of
// evidence quotes against a claim.
func NLI(in NLIInput) Pair {
	system := "You are a natural language inference checker. Respond with strict JSON only, no " +
		`code fences: {"label":"entail"|"contradict"|"neutral","rationale":string}. ` +
		"Decide whether quote B agrees with, contradicts, or is unrelated to the claim given quote A as context."

	var b strings.Builder
	b.WriteString("Claim: ")
	b.WriteString(in.ClaimText)
	b.WriteString("\n\nQuote A: ")
	b.WriteString(in.QuoteA)
	b.WriteString("\n\nQuote B: ")
	b.WriteString(in.QuoteB)
	return Pair{System: system, User: b.String()}
}

// SourceTrustInput bundles the metadata available for a trust estimate.
type SourceTrustInput struct {
	URL       string
	Domain    string
	Title     string
	Published string
}

// SourceTrust builds a prompt asking the model to rate how authoritative a
// source looks from its metadata alone (no content access), returning a
// JSON {score, rationale}.
func SourceTrust(in SourceTrustInput) Pair {
	system := "You are assessing source credibility from metadata alone. Respond with strict JSON " +
		`only, no code fences: {"score":number,"rationale":string}. score is in [0,1], where 1 is a ` +
		"primary or highly authoritative source and 0 is an unreliable or unknown source."

	var b strings.Builder
	b.WriteString("URL: ")
	b.WriteString(in.URL)
	b.WriteString("\nDomain: ")
	b.WriteString(in.Domain)
	if in.Title != "" {
		b.WriteString("\nTitle: ")
		b.WriteString(in.Title)
	}
	if in.Published != "" {
		b.WriteString("\nPublished: ")
		b.WriteString(in.Published)
	}
	return Pair{System: system, User: b.String()}
}

// Package verify extracts checkable claims from a generated answer, binds
// each claim's evidence quotes back to exact character offsets in their
// source chunks, and optionally runs a pairwise natural-language-inference
// pass to catch evidence that contradicts itself.
package verify

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/hyperifyio/researchorch/internal/errs"
	"github.com/hyperifyio/researchorch/internal/llmgateway"
	"github.com/hyperifyio/researchorch/internal/prompts"
	"github.com/hyperifyio/researchorch/internal/text"
)

// Evidence is one quote supporting a claim, with its resolved offsets into
// the chunk it was taken from once BindOffsets has run.
type Evidence struct {
	SourceID  string `json:"sourceId"`
	ChunkID   int64  `json:"chunkId"`
	Quote     string `json:"quote"`
	CharStart int    `json:"charStart,omitempty"`
	CharEnd   int    `json:"charEnd,omitempty"`
	Bound     bool   `json:"-"`
}

// Claim is one atomic, independently checkable statement extracted from an
// answer, along with its assessed support.
type Claim struct {
	Text              string     `json:"text"`
	ClaimType         string     `json:"claimType"`
	SupportScore      float64    `json:"supportScore"`
	Contradicted      bool       `json:"contradicted"`
	UncertaintyReason string     `json:"uncertaintyReason,omitempty"`
	Evidence          []Evidence `json:"evidence"`
}

// Result is the full verification output for one answer.
type Result struct {
	Claims []Claim `json:"claims"`
}

// rawClaim/rawEvidence mirror the model's JSON response shape before
// validation and offset binding.
type rawEvidence struct {
	SourceID string `json:"sourceId"`
	ChunkID  int64  `json:"chunkId"`
	Quote    string `json:"quote"`
}

type rawClaim struct {
	Text              string        `json:"text"`
	ClaimType         string        `json:"claimType"`
	SupportScore      float64       `json:"supportScore"`
	Contradicted      bool          `json:"contradicted"`
	UncertaintyReason string        `json:"uncertaintyReason"`
	Evidence          []rawEvidence `json:"evidence"`
}

type rawResult struct {
	Claims []rawClaim `json:"claims"`
}

// Request bundles everything the verifier needs for one answer.
type Request struct {
	AnswerMarkdown string
	Snippets       []prompts.VerifySnippet
	MaxClaims      int

	// ChunkTextByID resolves a chunk's full text for offset binding, keyed
	// by ChunkID.
	ChunkTextByID map[int64]string
	// ValidSourceIDs/ValidChunkIDs restrict evidence to the active ranking
	// context; evidence outside either set is dropped.
	ValidSourceIDs map[string]bool
	ValidChunkIDs  map[int64]bool

	BindOffsets           bool
	NLIContradictionCheck bool
	NLIMaxPairsPerClaim   int
}

// Verifier calls the LLM gateway to extract and assess claims.
type Verifier struct {
	Gateway *llmgateway.Gateway
}

const defaultNLIMaxPairsPerClaim = 3

// Verify runs the full verification pipeline: extract claims, validate
// against the active ranking context, bind offsets, and optionally check
// evidence pairs for contradiction.
func (v *Verifier) Verify(ctx context.Context, req Request) (Result, error) {
	pair := prompts.Verify(prompts.VerifyInput{
		AnswerMarkdown: req.AnswerMarkdown,
		Snippets:       req.Snippets,
		MaxClaims:      req.MaxClaims,
	})

	raw, err := v.Gateway.Generate(ctx, llmgateway.Request{
		Alias:    llmgateway.AliasVerify,
		System:   pair.System,
		Prompt:   pair.User,
		JSONOnly: true,
	})
	if err != nil {
		if errs.KindOf(err) == errs.KindBudgetExceeded {
			return Result{}, err
		}
		return Result{Claims: nil}, nil
	}

	parsed, ok := parseTolerant(raw)
	if !ok {
		return Result{Claims: nil}, nil
	}

	result := validateAndBind(parsed, req)

	if req.NLIContradictionCheck {
		result = v.applyNLI(ctx, result, req)
	}
	return result, nil
}

// parseTolerant strips code fences and parses JSON, falling back to the
// first balanced brace-delimited substring if the raw response isn't valid
// JSON on its own.
func parseTolerant(raw string) (rawResult, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var out rawResult
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out, true
	}

	if start, end, ok := largestBraceSpan(s); ok {
		if err := json.Unmarshal([]byte(s[start:end]), &out); err == nil {
			return out, true
		}
	}
	return rawResult{}, false
}

// largestBraceSpan finds the outermost balanced {...} span in s.
func largestBraceSpan(s string) (int, int, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return 0, 0, false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1, true
			}
		}
	}
	return 0, 0, false
}

// validateAndBind drops non-conforming claims/evidence, restricts evidence
// to the active ranking context, and resolves character offsets when
// requested.
func validateAndBind(parsed rawResult, req Request) Result {
	out := Result{Claims: make([]Claim, 0, len(parsed.Claims))}
	for _, rc := range parsed.Claims {
		text := strings.TrimSpace(rc.Text)
		if text == "" {
			continue
		}
		score := rc.SupportScore
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		claim := Claim{
			Text:              text,
			ClaimType:         rc.ClaimType,
			SupportScore:      score,
			Contradicted:      rc.Contradicted,
			UncertaintyReason: rc.UncertaintyReason,
		}
		for _, re := range rc.Evidence {
			if strings.TrimSpace(re.Quote) == "" {
				continue
			}
			if req.ValidSourceIDs != nil && !req.ValidSourceIDs[re.SourceID] {
				continue
			}
			if req.ValidChunkIDs != nil && !req.ValidChunkIDs[re.ChunkID] {
				continue
			}
			ev := Evidence{SourceID: re.SourceID, ChunkID: re.ChunkID, Quote: re.Quote}
			if req.BindOffsets {
				bindOffsets(&ev, req.ChunkTextByID)
			}
			claim.Evidence = append(claim.Evidence, ev)
		}
		out.Claims = append(out.Claims, claim)
	}
	return out
}

func bindOffsets(ev *Evidence, chunkTextByID map[int64]string) {
	hay, ok := chunkTextByID[ev.ChunkID]
	if !ok {
		return
	}
	offsets, found := textFindQuoteOffsets(hay, ev.Quote)
	if !found {
		return
	}
	ev.CharStart = offsets.Start
	ev.CharEnd = offsets.End
	ev.Bound = true
}

func textFindQuoteOffsets(hay, needle string) (text.Offsets, bool) {
	return text.FindQuoteOffsets(hay, needle, text.QuoteOptions{})
}

// applyNLI forms at most NLIMaxPairsPerClaim evidence pairs (from distinct
// sources) per claim with ≥2 evidence items, and asks the LLM whether each
// pair agrees, contradicts, or is unrelated. Any "contradict" verdict marks
// the claim contradicted and reduces its support score.
func (v *Verifier) applyNLI(ctx context.Context, result Result, req Request) Result {
	maxPairs := req.NLIMaxPairsPerClaim
	if maxPairs <= 0 {
		maxPairs = defaultNLIMaxPairsPerClaim
	}
	for i := range result.Claims {
		claim := &result.Claims[i]
		pairs := distinctSourcePairs(claim.Evidence, maxPairs)
		for _, p := range pairs {
			label := v.checkPair(ctx, claim.Text, p[0].Quote, p[1].Quote)
			if label == "contradict" {
				claim.Contradicted = true
				if claim.UncertaintyReason == "" {
					claim.UncertaintyReason = "evidence from different sources disagrees"
				}
				claim.SupportScore -= 0.15
				if claim.SupportScore < 0 {
					claim.SupportScore = 0
				}
			}
		}
	}
	return result
}

func (v *Verifier) checkPair(ctx context.Context, claimText, quoteA, quoteB string) string {
	pair := prompts.NLI(prompts.NLIInput{ClaimText: claimText, QuoteA: quoteA, QuoteB: quoteB})
	raw, err := v.Gateway.Generate(ctx, llmgateway.Request{
		Alias:    llmgateway.AliasVerify,
		System:   pair.System,
		Prompt:   pair.User,
		JSONOnly: true,
	})
	if err != nil {
		return "neutral"
	}
	var out struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return "neutral"
	}
	return out.Label
}

// distinctSourcePairs builds up to maxPairs pairs of evidence items drawn
// from distinct sources, in stable order.
func distinctSourcePairs(evidence []Evidence, maxPairs int) [][2]Evidence {
	bySource := map[string][]Evidence{}
	var order []string
	for _, e := range evidence {
		if _, ok := bySource[e.SourceID]; !ok {
			order = append(order, e.SourceID)
		}
		bySource[e.SourceID] = append(bySource[e.SourceID], e)
	}
	sort.Strings(order)
	if len(order) < 2 {
		return nil
	}
	var pairs [][2]Evidence
	for i := 0; i < len(order)-1 && len(pairs) < maxPairs; i++ {
		for j := i + 1; j < len(order) && len(pairs) < maxPairs; j++ {
			pairs = append(pairs, [2]Evidence{bySource[order[i]][0], bySource[order[j]][0]})
		}
	}
	return pairs
}

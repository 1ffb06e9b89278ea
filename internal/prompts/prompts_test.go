package prompts

import (
	"strings"
	"testing"

	"github.com/hyperifyio/researchorch/internal/store"
)

func TestPlanSchemaMentionsRequiredFields(t *testing.T) {
	p := Plan(PlanInput{Question: "does X cause Y", Depth: "deep"})
	for _, want := range []string{"intent", "subqueries", "focus"} {
		if !strings.Contains(p.System, want) {
			t.Fatalf("expected plan system prompt to mention %q, got %q", want, p.System)
		}
	}
	if !strings.Contains(p.User, "does X cause Y") {
		t.Fatalf("expected user prompt to carry the question, got %q", p.User)
	}
	if !strings.Contains(p.User, "deep") {
		t.Fatalf("expected user prompt to carry the depth, got %q", p.User)
	}
}

func TestPlanOmitsBlankFields(t *testing.T) {
	p := Plan(PlanInput{Question: "q"})
	if strings.Contains(p.User, "Region:") {
		t.Fatalf("expected blank region to be omitted, got %q", p.User)
	}
}

func TestAnswerMentionsCitationContract(t *testing.T) {
	in := AnswerInput{
		Question:      "q",
		Sources:       []SourceRef{{Index: 1, Title: "A", URL: "https://a.example"}},
		Excerpts:      []store.ChunkHit{{SourceID: "src1", Text: "fact one"}},
		RefBySourceID: map[string]int{"src1": 1},
	}
	p := Answer(in)
	if !strings.Contains(p.System, "[1]") {
		t.Fatalf("expected system prompt to demonstrate bracketed citation style, got %q", p.System)
	}
	if !strings.Contains(p.User, "1. A — https://a.example") {
		t.Fatalf("expected numbered source line, got %q", p.User)
	}
	if !strings.Contains(p.User, "[1] fact one") {
		t.Fatalf("expected excerpt tagged with its reference index, got %q", p.User)
	}
}

func TestAnswerFoldsInSourceTrustNote(t *testing.T) {
	in := AnswerInput{
		Question:      "q",
		Sources:       []SourceRef{{Index: 1, Title: "A", URL: "https://a.example", TrustNote: "primary government source"}},
		Excerpts:      []store.ChunkHit{{SourceID: "src1", Text: "fact one"}},
		RefBySourceID: map[string]int{"src1": 1},
	}
	p := Answer(in)
	if !strings.Contains(p.User, "https://a.example (primary government source)") {
		t.Fatalf("expected trust note folded into the source line, got %q", p.User)
	}
}

func TestVerifyDemandsStrictJSONAndDefaultsMaxClaims(t *testing.T) {
	p := Verify(VerifyInput{AnswerMarkdown: "The sky is blue [1].", Snippets: []VerifySnippet{{SourceID: "s1", ChunkID: 2, Text: "sky appears blue"}}})
	if !strings.Contains(p.System, "strict JSON") {
		t.Fatalf("expected strict JSON instruction, got %q", p.System)
	}
	if strings.Contains(p.System, "```") {
		t.Fatalf("did not expect code fences in system prompt, got %q", p.System)
	}
	if !strings.Contains(p.System, "12 atomic") {
		t.Fatalf("expected default max claims of 12 to appear, got %q", p.System)
	}
	if !strings.Contains(p.User, "sourceId=s1 chunkId=2") {
		t.Fatalf("expected snippet tagged with source and chunk id, got %q", p.User)
	}
}

func TestVerifyHonorsExplicitMaxClaims(t *testing.T) {
	p := Verify(VerifyInput{AnswerMarkdown: "x", MaxClaims: 3})
	if !strings.Contains(p.System, "3 atomic") {
		t.Fatalf("expected explicit max claims of 3 to appear, got %q", p.System)
	}
}

func TestNLIAsksForEntailContradictNeutral(t *testing.T) {
	p := NLI(NLIInput{ClaimText: "claim", QuoteA: "a", QuoteB: "b"})
	for _, want := range []string{"entail", "contradict", "neutral"} {
		if !strings.Contains(p.System, want) {
			t.Fatalf("expected NLI system prompt to mention label %q, got %q", want, p.System)
		}
	}
	if !strings.Contains(p.User, "Quote A: a") || !strings.Contains(p.User, "Quote B: b") {
		t.Fatalf("expected both quotes in user prompt, got %q", p.User)
	}
}

func TestSourceTrustScoresFromMetadataOnly(t *testing.T) {
	p := SourceTrust(SourceTrustInput{URL: "https://gov.example/report", Domain: "gov.example"})
	if !strings.Contains(p.System, "score") {
		t.Fatalf("expected score field in schema, got %q", p.System)
	}
	if strings.Contains(p.User, "Title:") {
		t.Fatalf("expected blank title to be omitted, got %q", p.User)
	}
}

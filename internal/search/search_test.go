package search

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperifyio/researchorch/internal/errs"
)

type stubProvider struct {
	name    string
	results []Result
	err     error
	calls   int
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Search(_ context.Context, query string, limit int) ([]Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func TestSearchDedupesAndCanonicalizes(t *testing.T) {
	p := &stubProvider{name: "stub", results: []Result{
		{Title: "A", URL: "https://Example.com/a?utm_source=x"},
		{Title: "A dup", URL: "https://example.com/a"},
		{Title: "B", URL: "https://example.com/b"},
	}}
	a := &Adapter{Primary: p}
	out, err := a.Search(context.Background(), "rare earth", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 deduped results, got %d: %+v", len(out), out)
	}
	if out[0].Title != "A" {
		t.Fatalf("expected first-seen title retained, got %q", out[0].Title)
	}
}

func TestSearchFallsBackWhenPrimaryEmpty(t *testing.T) {
	primary := &stubProvider{name: "primary"}
	fallback := &stubProvider{name: "fallback", results: []Result{{Title: "F", URL: "https://example.com/f"}}}
	a := &Adapter{Primary: primary, Fallback: fallback}
	out, err := a.Search(context.Background(), "\"quoted\" (term)", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 || out[0].Title != "F" {
		t.Fatalf("expected fallback result, got %+v", out)
	}
	if fallback.calls != 1 {
		t.Fatalf("expected fallback called once, got %d", fallback.calls)
	}
}

func TestSearchAppliesDomainDenylist(t *testing.T) {
	p := &stubProvider{name: "stub", results: []Result{
		{Title: "Good", URL: "https://trusted.example/a"},
		{Title: "Bad", URL: "https://spam.example/b"},
	}}
	a := &Adapter{Primary: p}
	out, err := a.Search(context.Background(), "q", Options{DisallowedDomains: []string{"spam.example"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 || out[0].Title != "Good" {
		t.Fatalf("expected denylist applied, got %+v", out)
	}
}

func TestSearchNonRetryableErrorPropagates(t *testing.T) {
	p := &stubProvider{name: "stub", err: errs.New(errs.KindUpstreamNonRetryable, "stub", errors.New("404"))}
	a := &Adapter{Primary: p}
	_, err := a.Search(context.Background(), "q", Options{})
	if !errs.Is(err, errs.KindUpstreamNonRetryable) {
		t.Fatalf("expected non-retryable error to propagate, got %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected exactly 1 call for non-retryable error, got %d", p.calls)
	}
}

func TestLoosenQueryStripsQuotesAndParens(t *testing.T) {
	got := loosenQuery(`"cobalt price" (2024)`)
	if got != "cobalt price 2024" {
		t.Fatalf("unexpected loosened query: %q", got)
	}
}

func TestFileProviderTokenMatch(t *testing.T) {
	if !matchesByTokens("cobalt supply chain", "global cobalt supply disruptions") {
		t.Fatalf("expected token match")
	}
	if matchesByTokens("cobalt supply chain", "unrelated text entirely") {
		t.Fatalf("expected no token match")
	}
}

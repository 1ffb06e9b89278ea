// Package search queries an ordered pair of providers: call the primary,
// loosen and retry on an empty result set, fall back to a secondary
// provider, retry transient HTTP failures with backoff, filter by domain
// allow/deny lists, and canonicalize+dedupe the merged results.
package search

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/hyperifyio/researchorch/internal/canon"
	"github.com/hyperifyio/researchorch/internal/concurrency"
	"github.com/hyperifyio/researchorch/internal/errs"
)

// Result represents a single search hit from any provider.
type Result struct {
	Title       string
	URL         string
	Snippet     string
	Score       float64
	PublishedAt *time.Time
	Source      string // provider name, for observability
}

// Provider is a minimal interface every search backend implements.
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
	Name() string
}

// DomainPolicy filters results/requests by host. Denylist takes precedence
// over Allowlist.
type DomainPolicy struct {
	Allowlist []string
	Denylist  []string
}

func (p DomainPolicy) allows(rawURL string) bool {
	domain := canon.Domain(rawURL)
	if domain == "" {
		return false
	}
	if len(p.Denylist) > 0 && canon.MatchesSuffix(domain, p.Denylist) {
		return false
	}
	if len(p.Allowlist) > 0 {
		return canon.MatchesSuffix(domain, p.Allowlist)
	}
	return true
}

// Options configures a Search call.
type Options struct {
	Size              int
	TimeRange         string
	AllowedDomains    []string
	DisallowedDomains []string
	Region            string
}

// Adapter orchestrates a primary provider, an optional fallback, query
// loosening on empty results, retry-with-backoff on transient failures,
// domain filtering, and canonicalize+dedupe.
type Adapter struct {
	Primary  Provider
	Fallback Provider // optional, used when Primary yields nothing
}

// Search queries the primary provider, loosening the query and falling
// back to the secondary provider as needed, then filters and dedupes.
func (a *Adapter) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	size := opts.Size
	if size <= 0 {
		size = 10
	}
	policy := DomainPolicy{Allowlist: opts.AllowedDomains, Denylist: opts.DisallowedDomains}

	results, err := a.searchWithRetry(ctx, a.Primary, query, size)
	if err != nil && a.Fallback == nil {
		return nil, err
	}
	if len(results) == 0 {
		loosened := loosenQuery(query)
		if loosened != query {
			if r2, err2 := a.searchWithRetry(ctx, a.Primary, loosened, size*2); err2 == nil {
				results = r2
			}
		}
	}
	if len(results) == 0 && a.Fallback != nil {
		if r2, err2 := a.searchWithRetry(ctx, a.Fallback, query, size); err2 == nil {
			results = r2
		} else if err == nil {
			err = err2
		}
	}
	if len(results) == 0 && err != nil {
		return nil, err
	}

	return filterCanonicalizeDedupe(results, policy), nil
}

func (a *Adapter) searchWithRetry(ctx context.Context, p Provider, query string, limit int) ([]Result, error) {
	if p == nil {
		return nil, nil
	}
	var out []Result
	err := concurrency.Retry(ctx, concurrency.RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   400 * time.Millisecond,
		ShouldRetry: errs.Retryable,
	}, func(ctx context.Context) error {
		r, err := p.Search(ctx, query, limit)
		if err != nil {
			return classifyProviderError(err)
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// classifyProviderError maps a provider's raw error to a semantic kind so
// Retry's ShouldRetry can branch on it; providers that already return a
// typed *errs.Error (e.g. carrying an HTTP status) pass through unchanged.
func classifyProviderError(err error) error {
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return errs.New(errs.KindUpstreamTransient, "search", err)
	case strings.Contains(msg, "400"), strings.Contains(msg, "401"), strings.Contains(msg, "404"):
		return errs.New(errs.KindUpstreamNonRetryable, "search", err)
	default:
		return errs.New(errs.KindUpstreamTransient, "search", err)
	}
}

var quoteParenRE = regexp.MustCompile(`["'()]+`)

// loosenQuery strips quotes/parens and collapses whitespace, widening what
// a provider will match.
func loosenQuery(q string) string {
	stripped := quoteParenRE.ReplaceAllString(q, " ")
	return strings.Join(strings.Fields(stripped), " ")
}

// filterCanonicalizeDedupe applies the domain policy, canonicalizes every
// URL, and dedupes preserving first-seen order (and its title).
func filterCanonicalizeDedupe(in []Result, policy DomainPolicy) []Result {
	seen := make(map[string]struct{}, len(in))
	out := make([]Result, 0, len(in))
	for _, r := range in {
		if r.URL == "" {
			continue
		}
		if !policy.allows(r.URL) {
			continue
		}
		c, err := canon.URL(r.URL)
		if err != nil {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		r.URL = c
		out = append(out, r)
	}
	return out
}

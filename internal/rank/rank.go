// Package rank scores and orders chunks against one or more free-text
// queries: tolerant FTS5 match-expression building, BM25 scoring with
// max-score merge across subqueries, optional pluggable reranking,
// per-source diversification, and a LIKE-based fallback when the FTS
// index is empty.
package rank

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/hyperifyio/researchorch/internal/errs"
	"github.com/hyperifyio/researchorch/internal/store"
)

// Options configures a RankForQueries call.
type Options struct {
	Cap            int
	PerQueryTake   int
	PerSourceLimit int
	EnableRerank   bool
}

// OptionsDefault returns the tuning used by the orchestrator's ranking
// stage.
func OptionsDefault() Options {
	return Options{Cap: 24, PerQueryTake: 12, PerSourceLimit: 3}
}

// Reranker scores candidates against query, returning a relevance in
// [0,1] per candidate in the same order. A nil Reranker (or one that
// errors) leaves BM25 order untouched.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []store.ChunkHit) ([]float64, error)
}

// Ranker ranks chunks for a set of queries against the FTS5 index.
type Ranker struct {
	Store    *store.Store
	Reranker Reranker // optional
}

// RankForQueries scores and merges chunk matches across queries, falling
// back to a LIKE scan when the full-text index has nothing to offer.
func (r *Ranker) RankForQueries(ctx context.Context, queries []string, opts Options) ([]store.ChunkHit, error) {
	if opts.Cap <= 0 {
		opts.Cap = 24
	}
	if opts.PerQueryTake <= 0 {
		opts.PerQueryTake = 12
	}
	if opts.PerSourceLimit <= 0 {
		opts.PerSourceLimit = 3
	}

	n, err := r.Store.FTSRowCount(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if err := r.Store.RebuildFTS(ctx); err != nil {
			return nil, err
		}
		n, err = r.Store.FTSRowCount(ctx)
		if err != nil {
			return nil, err
		}
	}

	merged := make(map[int64]store.ChunkHit)
	if n > 0 {
		for _, q := range queries {
			expr := BuildMatchExpr(q)
			if expr == "" {
				continue
			}
			hits, err := r.bm25Search(ctx, expr, opts.PerQueryTake)
			if err != nil {
				continue
			}
			if opts.EnableRerank && r.Reranker != nil && len(hits) > 0 {
				if scores, err := r.Reranker.Rerank(ctx, q, hits); err == nil && len(scores) == len(hits) {
					for i := range hits {
						hits[i].Score = clampUnit(scores[i])
					}
				}
			}
			mergeMax(merged, hits)
		}
	}

	if len(merged) == 0 {
		hits, err := r.likeFallback(ctx, queries, opts.PerQueryTake*len(queriesOrOne(queries)))
		if err != nil {
			return nil, err
		}
		mergeMax(merged, hits)
	}

	flat := make([]store.ChunkHit, 0, len(merged))
	for _, h := range merged {
		flat = append(flat, h)
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].Score > flat[j].Score })

	return diversifyBySource(flat, opts.PerSourceLimit, opts.Cap), nil
}

func queriesOrOne(qs []string) []string {
	if len(qs) == 0 {
		return []string{""}
	}
	return qs
}

var matchTokenRE = regexp.MustCompile(`[^a-z0-9]+`)

// BuildMatchExpr turns a free-text query into a tolerant FTS5 MATCH
// expression: lowercase, split on non-alphanumerics, keep up to 12 tokens,
// conjoin as quoted terms so punctuation inside a token never breaks the
// query syntax.
func BuildMatchExpr(q string) string {
	lower := strings.ToLower(q)
	tokens := matchTokenRE.Split(lower, -1)
	var kept []string
	for _, t := range tokens {
		if t == "" {
			continue
		}
		kept = append(kept, t)
		if len(kept) >= 12 {
			break
		}
	}
	if len(kept) == 0 {
		trimmed := strings.TrimSpace(lower)
		if trimmed == "" {
			return ""
		}
		return quoteFTS(trimmed)
	}
	quoted := make([]string, len(kept))
	for i, t := range kept {
		quoted[i] = quoteFTS(t)
	}
	return strings.Join(quoted, " AND ")
}

func quoteFTS(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// bm25Search runs a single FTS5 MATCH query and normalizes bm25() into a
// [0,1]-ish score. SQLite's bm25() returns a non-positive value where a
// more negative number is a better match (not ">0 is better", as a naive
// reading of the scoring rule might suggest) — so the raw value is taken
// as its absolute magnitude before applying the 1/(1+x) normalization,
// keeping "higher score is better" true for the merge step below.
func (r *Ranker) bm25Search(ctx context.Context, matchExpr string, limit int) ([]store.ChunkHit, error) {
	rows, err := r.Store.DB().QueryContext(ctx, `
		SELECT c.id, c.source_id, s.url, c.text, c.char_start, c.char_end, bm25(chunks_fts) AS raw_bm25
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		JOIN sources s ON s.id = c.source_id
		WHERE chunks_fts MATCH ?
		ORDER BY raw_bm25 ASC
		LIMIT ?
	`, matchExpr, limit)
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "rank.bm25Search", err)
	}
	defer rows.Close()

	var out []store.ChunkHit
	for rows.Next() {
		var h store.ChunkHit
		var raw float64
		if err := rows.Scan(&h.ChunkID, &h.SourceID, &h.SourceURL, &h.Text, &h.CharStart, &h.CharEnd, &raw); err != nil {
			return nil, errs.New(errs.KindStorageError, "rank.bm25Search", err)
		}
		h.BM25 = raw
		h.Score = normalizeBM25(raw)
		out = append(out, h)
	}
	return out, rows.Err()
}

func normalizeBM25(raw float64) float64 {
	mag := math.Abs(raw)
	if mag == 0 {
		return 0.5
	}
	return 1 / (1 + mag)
}

func mergeMax(into map[int64]store.ChunkHit, hits []store.ChunkHit) {
	for _, h := range hits {
		existing, ok := into[h.ChunkID]
		if !ok || h.Score > existing.Score {
			into[h.ChunkID] = h
		}
	}
}

// diversifyBySource walks a score-descending list, capping at perSource
// per SourceID, then fills any remaining capacity from the leftover
// items in score order.
func diversifyBySource(sorted []store.ChunkHit, perSource, cap_ int) []store.ChunkHit {
	perSourceCount := make(map[string]int)
	var chosen, remainder []store.ChunkHit
	for _, h := range sorted {
		if len(chosen) >= cap_ {
			break
		}
		if perSourceCount[h.SourceID] < perSource {
			chosen = append(chosen, h)
			perSourceCount[h.SourceID]++
		} else {
			remainder = append(remainder, h)
		}
	}
	for _, h := range remainder {
		if len(chosen) >= cap_ {
			break
		}
		chosen = append(chosen, h)
	}
	return chosen
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

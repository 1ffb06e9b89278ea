package rank

import (
	"context"
	"regexp"
	"strings"

	"github.com/hyperifyio/researchorch/internal/errs"
	"github.com/hyperifyio/researchorch/internal/store"
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "was": {}, "were": {}, "have": {}, "has": {}, "not": {}, "but": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "how": {}, "why": {},
}

var wordRE = regexp.MustCompile(`[a-z0-9]+`)

// likeFallback retrieves recent chunks by substring match when the FTS5
// index is empty (or a rebuild did not help), tokenizing the queries,
// dropping stopwords and short tokens, and ordering by chunk length
// descending as a cheap proxy for informativeness.
func (r *Ranker) likeFallback(ctx context.Context, queries []string, limit int) ([]store.ChunkHit, error) {
	tokens := tokenizeForFallback(queries, 8)
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 24
	}

	conds := make([]string, 0, len(tokens))
	args := make([]any, 0, len(tokens)+1)
	for _, t := range tokens {
		conds = append(conds, "c.text LIKE ?")
		args = append(args, "%"+t+"%")
	}
	query := `
		SELECT c.id, c.source_id, s.url, c.text, c.char_start, c.char_end, length(c.text) AS len
		FROM chunks c
		JOIN sources s ON s.id = c.source_id
		WHERE ` + strings.Join(conds, " OR ") + `
		ORDER BY s.crawled_at DESC, len DESC
		LIMIT ?
	`
	args = append(args, limit)

	rows, err := r.Store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.New(errs.KindStorageError, "rank.likeFallback", err)
	}
	defer rows.Close()

	var out []store.ChunkHit
	for rows.Next() {
		var h store.ChunkHit
		var length int
		if err := rows.Scan(&h.ChunkID, &h.SourceID, &h.SourceURL, &h.Text, &h.CharStart, &h.CharEnd, &length); err != nil {
			return nil, errs.New(errs.KindStorageError, "rank.likeFallback", err)
		}
		h.Score = 0.5
		out = append(out, h)
	}
	return out, rows.Err()
}

func tokenizeForFallback(queries []string, maxTokens int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, q := range queries {
		for _, tok := range wordRE.FindAllString(strings.ToLower(q), -1) {
			if len(tok) < 3 {
				continue
			}
			if _, stop := stopwords[tok]; stop {
				continue
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
			if len(out) >= maxTokens {
				return out
			}
		}
	}
	return out
}

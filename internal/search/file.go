package search

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"strings"
)

// FileProvider loads search results from a local JSON file, for offline
// runs and tests. The file holds an array of {"title","url","snippet"}
// objects.
type FileProvider struct {
	Path   string
	Policy DomainPolicy
}

func (f *FileProvider) Name() string { return "file" }

func (f *FileProvider) Search(_ context.Context, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(f.Path) == "" {
		return nil, errors.New("file provider path is empty")
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var raw []Result
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		if r.URL == "" || r.Title == "" {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(r.Title), q) &&
			!strings.Contains(strings.ToLower(r.Snippet), q) &&
			!matchesByTokens(q, r.Title+"\n"+r.Snippet) {
			continue
		}
		if !f.Policy.allows(r.URL) {
			continue
		}
		r.Source = f.Name()
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

var tokenSplitRE = regexp.MustCompile(`[^a-z0-9]+`)

// matchesByTokens performs a loose token-based match between the query and
// the candidate text: true when at least two meaningful tokens (length >=
// 3) from the query appear in the text.
func matchesByTokens(query, text string) bool {
	query = strings.ToLower(query)
	text = strings.ToLower(text)
	qTokens := tokenSplitRE.Split(query, -1)
	meaningful := 0
	for _, tok := range qTokens {
		if len(tok) < 3 {
			continue
		}
		if strings.Contains(text, tok) {
			meaningful++
			if meaningful >= 2 {
				return true
			}
		}
	}
	return false
}

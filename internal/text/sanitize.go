// Package text provides the pure, deterministic string utilities shared by
// the reader, ingestor, ranker, and verifier: sanitization, token
// estimation, paragraph/sentence splitting, windowed chunking, and tolerant
// quote matching. Every function here is total: no panics, no exceptions,
// and output is never longer than a documented bound.
package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeOptions controls Sanitize's behavior.
type SanitizeOptions struct {
	// NFKCNormalize applies Unicode NFKC normalization. Defaults to true
	// via SanitizeDefault.
	NFKCNormalize bool
	// KeepNewlines preserves '\n', '\r' and '\t' when stripping control
	// characters; other C0/C1 control characters are always dropped.
	KeepNewlines bool
	// DecodeHTMLEntities decodes common named and numeric HTML entities.
	DecodeHTMLEntities bool
	// CollapseWhitespace collapses runs of whitespace to a single space,
	// except newlines when KeepNewlines is set.
	CollapseWhitespace bool
	// StripMarkdown removes the most common Markdown punctuation markers
	// (emphasis, headings, list bullets) without removing their text.
	StripMarkdown bool
}

// SanitizeDefault returns the conservative default options described in the
// spec: NFKC normalization, newlines kept, entities decoded, whitespace
// collapsed, markdown left alone.
func SanitizeDefault() SanitizeOptions {
	return SanitizeOptions{
		NFKCNormalize:      true,
		KeepNewlines:       true,
		DecodeHTMLEntities: true,
		CollapseWhitespace: true,
	}
}

// Sanitize cleans s per opts. The result is always the same length or
// shorter than the input and never introduces characters absent from the
// input (entity decoding substitutes a single character for an entity
// sequence, never the reverse).
func Sanitize(s string, opts SanitizeOptions) string {
	if s == "" {
		return s
	}
	out := s
	if opts.NFKCNormalize {
		out = norm.NFKC.String(out)
	}
	if opts.DecodeHTMLEntities {
		out = decodeHTMLEntities(out)
	}
	out = stripControl(out, opts.KeepNewlines)
	if opts.StripMarkdown {
		out = stripMarkdown(out)
	}
	if opts.CollapseWhitespace {
		out = collapseWhitespace(out, opts.KeepNewlines)
	}
	return out
}

func stripControl(s string, keepNewlines bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			if keepNewlines {
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func collapseWhitespace(s string, keepNewlines bool) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		isSpace := unicode.IsSpace(r)
		if isSpace && (!keepNewlines || (r != '\n' && r != '\r')) {
			if !inSpace {
				b.WriteRune(' ')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

var htmlEntities = map[string]string{
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": "\"",
	"&apos;": "'",
	"&#39;":  "'",
	"&nbsp;": " ",
	"&mdash;": "—",
	"&ndash;": "–",
	"&hellip;": "…",
}

func decodeHTMLEntities(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}
	// One left-to-right pass, so the result does not depend on map order
	// and "&amp;lt;" decodes once to "&lt;".
	pairs := make([]string, 0, 2*len(htmlEntities))
	for ent, repl := range htmlEntities {
		pairs = append(pairs, ent, repl)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

func stripMarkdown(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		prefixLen := len(line) - len(trimmed)
		// Headings: leading '#'s followed by a space.
		j := 0
		for j < len(trimmed) && trimmed[j] == '#' {
			j++
		}
		if j > 0 && j <= 6 && j < len(trimmed) && trimmed[j] == ' ' {
			trimmed = trimmed[j+1:]
		}
		// List bullets: '-', '*', '+' followed by a space.
		if len(trimmed) >= 2 && (trimmed[0] == '-' || trimmed[0] == '*' || trimmed[0] == '+') && trimmed[1] == ' ' {
			trimmed = trimmed[2:]
		}
		lines[i] = line[:prefixLen] + trimmed
	}
	s = strings.Join(lines, "\n")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	return s
}

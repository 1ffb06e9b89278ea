package reader

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// extracted is the plain-text rendering of a page, produced by walking the
// parsed DOM under <main>/<article>/<body> and dropping boilerplate.
type extracted struct {
	Title string
	Text  string
}

var langAttrRE = regexp.MustCompile(`(?is)<html[^>]*\blang\s*=\s*["']?([a-zA-Z-]+)`)

// detectLang extracts the declared document language from a <html lang="..">
// attribute using a lightweight regex scan, avoiding a second DOM walk.
func detectLang(raw []byte) string {
	m := langAttrRE.FindSubmatch(raw)
	if m == nil {
		return ""
	}
	return strings.ToLower(string(m[1]))
}

// extractFromHTML extracts readable text from HTML, preferring <main> or
// <article>, falling back to <body>. It preserves headings, paragraphs,
// list items, and pre/code blocks, while skipping obvious boilerplate like
// <nav>, <footer>, and cookie-consent containers.
func extractFromHTML(input []byte) extracted {
	node, err := html.Parse(bytes.NewReader(input))
	if err != nil || node == nil {
		return extracted{}
	}

	title := strings.TrimSpace(findFirstText(node, "title"))
	content := findFirst(node, "main")
	if content == nil {
		content = findFirst(node, "article")
	}
	if content == nil {
		content = findFirst(node, "body")
	}
	var b strings.Builder
	if content != nil {
		collectText(&b, content, false)
	}
	return extracted{Title: title, Text: normalizeWhitespace(b.String())}
}

func findFirstText(n *html.Node, tag string) string {
	t := findFirst(n, tag)
	if t == nil || t.FirstChild == nil {
		return ""
	}
	return t.FirstChild.Data
}

func findFirst(n *html.Node, tag string) *html.Node {
	var res *html.Node
	var dfs func(*html.Node)
	dfs = func(cur *html.Node) {
		if res != nil {
			return
		}
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, tag) {
			res = cur
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			dfs(c)
			if res != nil {
				return
			}
		}
	}
	dfs(n)
	return res
}

func collectText(b *strings.Builder, n *html.Node, inPre bool) {
	if n.Type == html.ElementNode {
		if isBoilerplateContainer(n) {
			return
		}
		name := strings.ToLower(n.Data)
		switch name {
		case "script", "style", "noscript", "nav", "footer", "aside", "iframe":
			return
		case "pre", "code":
			inPre = true
		case "br", "hr":
			b.WriteString("\n")
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li":
			b.WriteString("\n")
		case "ul", "ol":
			b.WriteString("\n")
		}
	}

	if n.Type == html.TextNode {
		data := n.Data
		if !inPre {
			data = strings.ReplaceAll(data, "\t", " ")
			data = strings.ReplaceAll(data, "\r", " ")
		}
		b.WriteString(data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c, inPre)
	}

	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteString("\n\n")
		case "li":
			b.WriteString("\n")
		case "pre", "code":
			b.WriteString("\n")
		}
	}
}

// isBoilerplateContainer reports whether n looks like a cookie/consent
// banner based on its id/class/data-* attributes.
func isBoilerplateContainer(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if key != "id" && key != "class" && !strings.HasPrefix(key, "data-") && key != "aria-label" && key != "role" {
			continue
		}
		val := strings.ToLower(attr.Val)
		if containsAny(val, "cookie", "consent", "gdpr", "cookie-banner", "cookiebar", "consent-banner", "consent-manager") {
			return true
		}
	}
	return false
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(out) > 0 && out[len(out)-1] == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, collapseSpaces(trimmed))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}

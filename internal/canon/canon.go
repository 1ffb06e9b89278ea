// Package canon canonicalizes URLs for deduplication: lowercase
// scheme/host, fragment strip, tracking-param removal, alphabetical
// query-param sort, and trailing-slash trim, plus domain-suffix matching
// for allow/deny lists.
package canon

import (
	"sort"
	"strings"

	"net/url"
)

// trackingKeys are the recognized tracking parameters matched by exact
// name; the utm_ prefix family is matched separately in URL.
var trackingKeys = map[string]struct{}{
	"gclid":  {},
	"fbclid": {},
	"mc_cid": {},
	"mc_eid": {},
	"ref":     {},
	"ref_src": {},
}

// URL canonicalizes raw: lowercased scheme+host, default https scheme
// when absent, dropped fragment, dropped tracking params (utm_* plus the
// named set), remaining params sorted alphabetically, and trailing slash
// trimmed except for the root path. URL is idempotent: URL(URL(u)) ==
// URL(u).
func URL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errEmpty
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") {
			q.Del(key)
			continue
		}
		if _, tracked := trackingKeys[lk]; tracked {
			q.Del(key)
		}
	}
	u.RawQuery = encodeSorted(q)

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// encodeSorted re-implements url.Values.Encode with stable key order (it
// already sorts by key, but we keep this explicit helper so the sort is
// never silently dropped by a future stdlib change).
func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

type canonError string

func (e canonError) Error() string { return string(e) }

const errEmpty canonError = "canon: empty url"

// Domain returns the lowercase hostname of raw without canonicalizing the
// full URL, used by allow/deny filtering.
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// MatchesSuffix reports whether domain equals or is a subdomain of one of
// the suffixes, for domain allow/deny list matching.
func MatchesSuffix(domain string, suffixes []string) bool {
	domain = strings.ToLower(domain)
	for _, suf := range suffixes {
		suf = strings.ToLower(strings.TrimSpace(suf))
		if suf == "" {
			continue
		}
		if domain == suf || strings.HasSuffix(domain, "."+suf) {
			return true
		}
	}
	return false
}

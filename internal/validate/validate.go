// Package validate checks an answer's inline bracketed citations against
// the numbered source list it was built from.
package validate

import (
	"regexp"
	"sort"
)

// Citations is the result of checking inline [n] citations against a
// source list of length numSources.
type Citations struct {
	// InRange lists distinct citation indices that fall within 1..numSources.
	InRange []int
	// OutOfRange lists distinct citation indices outside that range.
	OutOfRange []int
	// MissingSources is true when citations were found but numSources is 0.
	MissingSources bool
}

// OK reports whether every citation found resolves to a real source.
func (c Citations) OK() bool {
	return len(c.OutOfRange) == 0 && !c.MissingSources
}

var citeRe = regexp.MustCompile(`\[(\d+)\]`)

// ValidateCitations scans markdown for [n]-style citations and classifies
// each distinct index as in-range or out-of-range against numSources.
func ValidateCitations(markdown string, numSources int) Citations {
	matches := citeRe.FindAllStringSubmatch(markdown, -1)
	seen := make(map[int]struct{}, len(matches))
	var inRange, outOfRange []int
	for _, m := range matches {
		if len(m) != 2 {
			continue
		}
		n := 0
		for _, ch := range m[1] {
			n = n*10 + int(ch-'0')
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if n >= 1 && n <= numSources {
			inRange = append(inRange, n)
		} else {
			outOfRange = append(outOfRange, n)
		}
	}
	sort.Ints(inRange)
	sort.Ints(outOfRange)
	return Citations{
		InRange:        inRange,
		OutOfRange:     outOfRange,
		MissingSources: numSources == 0 && len(matches) > 0,
	}
}

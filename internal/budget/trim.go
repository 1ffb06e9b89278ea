package budget

import (
	"strings"

	"github.com/hyperifyio/researchorch/internal/store"
)

// TrimChunksToBudget selects a prefix of chunks (in the order given) whose
// summed estimated token count stays within max(300, budgetTokens-reserve),
// always keeping at least one chunk when the input is non-empty.
func TrimChunksToBudget(chunks []store.ChunkHit, budgetTokens, reserve int) []store.ChunkHit {
	if len(chunks) == 0 {
		return nil
	}
	budgetCap := budgetTokens - reserve
	if budgetCap < 300 {
		budgetCap = 300
	}

	out := make([]store.ChunkHit, 0, len(chunks))
	sum := 0
	for _, c := range chunks {
		t := EstimateTokens(c.Text)
		if len(out) > 0 && sum+t > budgetCap {
			break
		}
		out = append(out, c)
		sum += t
	}
	return out
}

// ShrinkChunkText returns text unchanged when it is at most maxChars long.
// Otherwise it keeps the first 70% and last 30% of the allotted length,
// joined by an ellipsis line, so that citation-bearing tokens near either
// end of the excerpt survive the shrink.
func ShrinkChunkText(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	headLen := int(float64(maxChars) * 0.7)
	tailLen := maxChars - headLen
	head := trimByByteLimitPreservingRunes(text, headLen)
	tailStart := len(text) - tailLen
	if tailStart < 0 {
		tailStart = 0
	}
	tail := text[tailStart:]
	var b strings.Builder
	b.WriteString(head)
	b.WriteString("\n[...]\n")
	b.WriteString(tail)
	return b.String()
}

// trimByByteLimitPreservingRunes returns a prefix of s whose byte length is
// at most maxBytes, never splitting a UTF-8 rune.
func trimByByteLimitPreservingRunes(s string, maxBytes int) string {
	if maxBytes >= len(s) {
		return s
	}
	if maxBytes <= 0 {
		return ""
	}
	idx := 0
	for i := range s {
		if i > maxBytes {
			break
		}
		idx = i
	}
	return s[:idx]
}

package text

// Window is one chunk-sized slice produced by SplitIntoWindows.
type Window struct {
	Text         string
	CharStart    int
	CharEnd      int
	ApproxTokens int
}

// WindowOptions configures SplitIntoWindows.
type WindowOptions struct {
	// TargetTokens is the approximate window size. Defaults to 1000.
	TargetTokens int
	// OverlapRatio is the fraction of TargetTokens (converted to characters)
	// carried over as a tail-overlap into the next window. WindowOptionsDefault
	// sets 0.15; zero means no overlap.
	OverlapRatio float64
	// RespectParagraphs accumulates whole paragraphs up to the target before
	// flushing, rather than slicing at a fixed character width.
	// WindowOptionsDefault sets true; the zero value slices at a fixed width.
	RespectParagraphs bool
}

// WindowOptionsDefault returns {1000, 0.15, true}.
func WindowOptionsDefault() WindowOptions {
	return WindowOptions{TargetTokens: 1000, OverlapRatio: 0.15, RespectParagraphs: true}
}

const approxCharsPerToken = 4

// SplitIntoWindows produces a finite sequence of overlapping windows
// covering s. With |s| <= the target character width, exactly one window is
// returned covering [0,|s|].
func SplitIntoWindows(s string, opts WindowOptions) []Window {
	if opts.TargetTokens <= 0 {
		opts.TargetTokens = 1000
	}
	if opts.OverlapRatio < 0 {
		opts.OverlapRatio = 0
	}
	targetChars := opts.TargetTokens * approxCharsPerToken
	overlapChars := int(float64(targetChars) * opts.OverlapRatio)

	if len(s) <= targetChars {
		if len(s) == 0 {
			return nil
		}
		return []Window{{Text: s, CharStart: 0, CharEnd: len(s), ApproxTokens: EstimateTokens(s)}}
	}

	if opts.RespectParagraphs {
		return splitWindowsByParagraph(s, targetChars, overlapChars)
	}
	return splitWindowsFixed(s, targetChars, overlapChars)
}

func splitWindowsByParagraph(s string, targetChars, overlapChars int) []Window {
	paras := SplitParagraphs(s)
	if len(paras) == 0 {
		return splitWindowsFixed(s, targetChars, overlapChars)
	}

	var windows []Window
	curStart := paras[0].Start
	curEnd := paras[0].Start
	for _, p := range paras {
		candidateEnd := p.End
		if candidateEnd-curStart > targetChars && candidateEnd > curEnd {
			// Flush current window up to curEnd (end of previous paragraph).
			windows = append(windows, makeWindow(s, curStart, curEnd))
			// Start next window with a tail-overlap from the flushed window.
			newStart := curEnd - overlapChars
			if newStart < curStart {
				newStart = curStart
			}
			if newStart < 0 {
				newStart = 0
			}
			curStart = newStart
		}
		curEnd = candidateEnd
	}
	if curEnd > curStart {
		windows = append(windows, makeWindow(s, curStart, curEnd))
	}
	return windows
}

func splitWindowsFixed(s string, targetChars, overlapChars int) []Window {
	var windows []Window
	n := len(s)
	start := 0
	for start < n {
		end := start + targetChars
		if end > n {
			end = n
		}
		windows = append(windows, makeWindow(s, start, end))
		if end >= n {
			break
		}
		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return windows
}

func makeWindow(s string, start, end int) Window {
	if start < 0 {
		start = 0
	}
	if end > len(s) {
		end = len(s)
	}
	txt := s[start:end]
	return Window{Text: txt, CharStart: start, CharEnd: end, ApproxTokens: EstimateTokens(txt)}
}

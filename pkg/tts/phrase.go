// Package tts holds the text-side pieces of speech synthesis that do not
// depend on any particular engine: phrase splitting for low-latency
// streaming synthesis, and the pluggable audio Decoder seam used by the
// cloud adapter to turn compressed audio frames into PCM.
package tts

import "strings"

// minPhraseLen is the initial target phrase length: phrases shorter than
// this are merged forward with the next one.
const minPhraseLen = 20

// trailingMergeLen is the threshold below which a trailing remainder is
// folded into the previous phrase rather than emitted standalone.
const trailingMergeLen = 15

// shortInputLen is the threshold under which the whole input is returned
// as a single phrase without splitting.
const shortInputLen = 80

// SplitPhrases segments text into an ordered sequence of phrases sized for
// low-latency streaming TTS. Concatenating the result with
// single spaces reproduces the input's word sequence.
func SplitPhrases(text string) []string {
	if len(text) < shortInputLen {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	segments := splitAtBoundaries(text)
	segments = mergeTrailingRemainder(segments)
	segments = mergeShortPhrases(segments)
	return segments
}

// splitAtBoundaries splits at ". ", "! ", "? " (including end-of-string)
// and at newlines whose preceding segment exceeds 10 characters.
func splitAtBoundaries(text string) []string {
	var segments []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		cur.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			atEnd := i == len(runes)-1
			followedByWhitespace := !atEnd && isWhitespace(runes[i+1])
			if atEnd || followedByWhitespace {
				segments = append(segments, strings.TrimSpace(cur.String()))
				cur.Reset()
				continue
			}
		}

		if r == '\n' {
			preceding := strings.TrimSpace(cur.String())
			// preceding includes the newline itself; strip it for the length check
			trimmed := strings.TrimRight(preceding, "\n")
			if len(trimmed) > 10 {
				segments = append(segments, strings.TrimSpace(trimmed))
				cur.Reset()
			}
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		segments = append(segments, rest)
	}

	out := segments[:0:0]
	for _, s := range segments {
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return out
}

func isWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// mergeTrailingRemainder folds a trailing remainder shorter than 15
// characters into the previous phrase, or emits it alone if there is none.
func mergeTrailingRemainder(segments []string) []string {
	if len(segments) < 2 {
		return segments
	}
	last := segments[len(segments)-1]
	if len(last) < trailingMergeLen {
		merged := append([]string{}, segments[:len(segments)-2]...)
		merged = append(merged, segments[len(segments)-2]+" "+last)
		return merged
	}
	return segments
}

// mergeShortPhrases merges phrases shorter than 20 characters forward with
// the next phrase until the merged result reaches >= 20 characters.
func mergeShortPhrases(segments []string) []string {
	var out []string
	var pending string

	flush := func() {
		if pending != "" {
			out = append(out, pending)
			pending = ""
		}
	}

	for _, s := range segments {
		if pending == "" {
			pending = s
		} else {
			pending = pending + " " + s
		}
		if len(pending) >= minPhraseLen {
			flush()
		}
	}
	flush()
	return out
}

package util

import (
	"strings"
	"unicode"
)

// sentence boundary punctuation, ASCII and CJK
var sentenceEnders = map[rune]bool{
	'.': true, '!': true, '?': true, ';': true, ':': true,
	'。': true, '！': true, '？': true, '；': true, '：': true,
	'\n': true,
}

// softBreaks may end a segment once it is long enough to be worth speaking.
var softBreaks = map[rune]bool{
	',': true, '、': true, '，': true,
}

const minSoftBreakRunes = 12

// SplitAtLastPunctuation returns the longest prefix of text that ends at a
// sentence boundary, plus the number of runes consumed. Returns ("", 0) when
// no boundary exists yet, so callers keep buffering streamed tokens.
func SplitAtLastPunctuation(text string) (string, int) {
	runes := []rune(text)
	last := -1
	for i, r := range runes {
		if sentenceEnders[r] {
			last = i
		} else if softBreaks[r] && i+1 >= minSoftBreakRunes {
			if last < i {
				last = i
			}
		}
	}
	if last < 0 {
		return "", 0
	}
	return string(runes[:last+1]), last + 1
}

// RemoveControlCharacters strips control characters, keeping tab and newline.
func RemoveControlCharacters(text string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, text)
}

// SanitizeForLog collapses whitespace and truncates long text so transcript
// fragments stay on one log line.
func SanitizeForLog(text string, maxRunes int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if maxRunes > 0 && len(runes) > maxRunes {
		return string(runes[:maxRunes]) + "..."
	}
	return text
}

// IsSpeakable reports whether the text contains anything worth synthesizing.
func IsSpeakable(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

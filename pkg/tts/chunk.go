package tts

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitText breaks text into chunks of at most max runes. It prefers to cut
// after sentence punctuation, then at spaces, and only splits inside a word
// when a single word is longer than max.
func SplitText(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var chunks []string
	var cur []rune
	flush := func() {
		if s := strings.TrimSpace(string(cur)); s != "" {
			chunks = append(chunks, s)
		}
		cur = cur[:0]
	}

	for _, sentence := range sentences(text) {
		if len(cur) > 0 && len(cur)+1+utf8.RuneCountInString(sentence) > max {
			flush()
		}
		if utf8.RuneCountInString(sentence) <= max {
			if len(cur) > 0 {
				cur = append(cur, ' ')
			}
			cur = append(cur, []rune(sentence)...)
			continue
		}
		for _, word := range strings.Fields(sentence) {
			w := []rune(word)
			if len(cur) > 0 && len(cur)+1+len(w) > max {
				flush()
			}
			for len(w) > max {
				flush()
				chunks = append(chunks, string(w[:max]))
				w = w[max:]
			}
			if len(cur) > 0 {
				cur = append(cur, ' ')
			}
			cur = append(cur, w...)
		}
	}
	flush()
	return chunks
}

// sentences splits after ., !, ?, ;, : and their full-width forms.
func sentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if !isSentenceEnd(r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) && !isSentenceEnd(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', ';', ':', '。', '！', '？', '；':
		return true
	}
	return false
}

package memory

import (
	"strings"
	"unicode"
)

// ExtractKeywords tokenizes a query for fulltext scoring: ASCII words of
// length >= 2, digit runs of length >= 2, and CJK 2-grams (plus 3-grams
// when the query carries at least 4 CJK characters). ASCII keywords are
// lowercased; duplicates are removed preserving first-seen order.
func ExtractKeywords(query string) []string {
	var keywords []string
	seen := make(map[string]struct{})
	add := func(k string) {
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		keywords = append(keywords, k)
	}

	runes := []rune(query)

	var ascii, digits []rune
	var cjkRuns [][]rune
	var cjk []rune
	totalCJK := 0
	flushCJK := func() {
		if len(cjk) > 0 {
			cjkRuns = append(cjkRuns, cjk)
			cjk = nil
		}
	}
	flushASCII := func() {
		if len(ascii) >= 2 {
			add(strings.ToLower(string(ascii)))
		}
		ascii = ascii[:0]
	}
	flushDigits := func() {
		if len(digits) >= 2 {
			add(string(digits))
		}
		digits = digits[:0]
	}

	for _, r := range runes {
		switch {
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			flushDigits()
			ascii = append(ascii, r)
		case r >= '0' && r <= '9':
			flushASCII()
			digits = append(digits, r)
		default:
			flushASCII()
			flushDigits()
			if isCJK(r) {
				cjk = append(cjk, r)
				totalCJK++
			} else {
				flushCJK()
			}
		}
	}
	flushASCII()
	flushDigits()
	flushCJK()

	for _, run := range cjkRuns {
		for i := 0; i+1 < len(run); i++ {
			add(string(run[i : i+2]))
		}
	}
	if totalCJK >= 4 {
		for _, run := range cjkRuns {
			for i := 0; i+2 < len(run); i++ {
				add(string(run[i : i+3]))
			}
		}
	}

	return keywords
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

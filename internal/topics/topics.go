package topics

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// Result describes what a set of chat messages talks about.
type Result struct {
	Keywords []Keyword `json:"keywords"`
	Summary  string    `json:"summary"`
}

type Keyword struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

type Extractor interface {
	Extract(ctx context.Context, contents []string) Result
}

// Common Indonesian and English filler words seen in the chatroom.
var stopwords = map[string]struct{}{
	"yang": {}, "dan": {}, "di": {}, "ke": {}, "dari": {}, "ini": {}, "itu": {},
	"aja": {}, "saja": {}, "ada": {}, "ga": {}, "gak": {}, "nggak": {}, "tidak": {},
	"udah": {}, "sudah": {}, "mau": {}, "lagi": {}, "juga": {}, "bisa": {}, "kalau": {},
	"kalo": {}, "buat": {}, "untuk": {}, "sama": {}, "apa": {}, "kok": {}, "deh": {},
	"sih": {}, "nih": {}, "dong": {}, "kan": {}, "gue": {}, "gw": {}, "aku": {}, "saya": {},
	"kamu": {}, "lu": {}, "lo": {}, "yg": {}, "dgn": {}, "dengan": {}, "jadi": {},
	"the": {}, "and": {}, "for": {}, "you": {}, "are": {}, "this": {}, "that": {},
	"with": {}, "not": {}, "but": {}, "was": {}, "have": {},
}

// SimpleExtractor ranks words by frequency. Hashtags and $TICKER tokens are
// normalized to their bare lowercase form.
type SimpleExtractor struct {
	maxKeywords int
	minLength   int
}

func NewSimpleExtractor(maxKeywords int) *SimpleExtractor {
	return &SimpleExtractor{
		maxKeywords: maxKeywords,
		minLength:   3,
	}
}

func (e *SimpleExtractor) Extract(ctx context.Context, contents []string) Result {
	counts := make(map[string]int)
	var order []string

	for _, content := range contents {
		for _, word := range strings.Fields(strings.ToLower(content)) {
			word = strings.TrimLeft(word, "#$")
			word = strings.TrimFunc(word, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsDigit(r)
			})
			if len([]rune(word)) < e.minLength {
				continue
			}
			if _, skip := stopwords[word]; skip {
				continue
			}
			if _, seen := counts[word]; !seen {
				order = append(order, word)
			}
			counts[word]++
		}
	}

	keywords := make([]Keyword, 0, len(order))
	for _, word := range order {
		keywords = append(keywords, Keyword{Word: word, Count: counts[word]})
	}
	sort.SliceStable(keywords, func(i, j int) bool {
		return keywords[i].Count > keywords[j].Count
	})

	if e.maxKeywords > 0 && len(keywords) > e.maxKeywords {
		keywords = keywords[:e.maxKeywords]
	}

	return Result{Keywords: keywords}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"html"
	"regexp"
	"strings"
	"unicode"
)

// maxExcerpt bounds ResearchItem.BodyExcerpt so bundles stay prompt-sized.
const maxExcerpt = 1200

var (
	tagPattern   = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// stopWords are dropped when simplifying a topic into search terms.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "of": true, "in": true,
	"on": true, "to": true, "for": true, "with": true, "how": true, "what": true,
	"is": true, "are": true, "using": true, "into": true, "from": true, "by": true,
	"introduction": true, "intro": true, "basics": true, "guide": true, "tutorial": true,
}

// stripHTML removes tags, unescapes entities and collapses whitespace.
func stripHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// excerpt truncates s to at most max bytes on a word boundary.
func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndexByte(s[:max-3], ' ')
	if cut <= 0 {
		cut = max - 3
	}
	return strings.TrimSpace(s[:cut]) + "..."
}

// terms lowercases the text and splits it into alphanumeric words, keeping
// stop words.
func terms(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
}

// significantTerms drops stop words and single characters.
func significantTerms(s string) []string {
	var out []string
	for _, t := range terms(s) {
		if len(t) < 2 || stopWords[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// simplify keeps the first n significant terms of a topic.
func simplify(topic string, n int) string {
	ts := significantTerms(topic)
	if len(ts) > n {
		ts = ts[:n]
	}
	return strings.Join(ts, " ")
}

// relevance returns the fraction of the topic's significant terms found in
// text, matching singular and plural forms.
func relevance(topic, text string) float64 {
	want := significantTerms(topic)
	if len(want) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, t := range terms(text) {
		have[t] = true
		have[strings.TrimSuffix(t, "s")] = true
	}
	hits := 0
	for _, t := range want {
		if have[t] || have[strings.TrimSuffix(t, "s")] {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

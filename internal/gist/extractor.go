// Package gist extracts short, typed, confidence-scored highlights from
// free-form conversational text. Extraction is purely functional: the
// same input always yields the same ordered candidates, and no input can
// make it fail.
package gist

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// minContentLen is the shortest cleaned content kept as a gist;
// anything under it is treated as noise.
const minContentLen = 15

// maxContextLen bounds the free-form context attached to a gist.
const maxContextLen = 200

// dedupKeyLen is how much of the content participates in deduplication.
const dedupKeyLen = 50

// Gist is one extracted highlight.
type Gist struct {
	Type       Type           `json:"type"`
	Content    string         `json:"content"`
	Confidence float64        `json:"confidence"`
	Context    string         `json:"context,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ExtractAll scans text against the full pattern catalog and returns
// cleaned, deduplicated candidates sorted by confidence descending.
// Ties keep extraction order. The result is empty when nothing matches.
func ExtractAll(text, context string) []Gist {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	boost := boostFor(text)
	context = truncate(context, maxContextLen)

	type dedupKey struct {
		t Type
		k string
	}
	seen := make(map[dedupKey]bool)

	var gists []Gist
	for _, t := range typeOrder {
		for _, p := range catalog[t] {
			for _, m := range p.re.FindAllStringSubmatch(text, -1) {
				content := clean(m[1:])
				if utf8.RuneCountInString(content) < minContentLen {
					continue
				}

				key := dedupKey{t, truncate(strings.ToLower(content), dedupKeyLen)}
				if seen[key] {
					continue
				}
				seen[key] = true

				gists = append(gists, Gist{
					Type:       t,
					Content:    content,
					Confidence: clamp(p.base + boost),
					Context:    context,
				})
			}
		}
	}

	sort.SliceStable(gists, func(i, j int) bool {
		return gists[i].Confidence > gists[j].Confidence
	})

	return gists
}

// ExtractBest returns the highest-confidence gist for text, if any.
func ExtractBest(text, context string) (Gist, bool) {
	gists := ExtractAll(text, context)
	if len(gists) == 0 {
		return Gist{}, false
	}
	return gists[0], true
}

// boostFor sums the deltas of every booster word present anywhere in the
// source text.
func boostFor(text string) float64 {
	lower := strings.ToLower(text)
	var boost float64
	for word, delta := range boosters {
		if strings.Contains(lower, word) {
			boost += delta
		}
	}
	return boost
}

// clean joins captured groups with a space, normalizes whitespace,
// strips trailing punctuation left over from clause boundaries, and
// capitalizes the first letter.
func clean(groups []string) string {
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		if g != "" {
			parts = append(parts, g)
		}
	}

	s := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	s = strings.TrimRight(s, ",;:")
	if s == "" {
		return s
	}

	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

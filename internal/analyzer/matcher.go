// Package analyzer extracts human-readable excerpts from crawled page text
// for the read API's search results: given a page's plain-text content and
// the free-text terms a query matched on, it returns the surrounding
// sentences so a result listing can show why a page matched instead of
// just its title.
package analyzer

import (
	"strings"
	"unicode"
)

// Excerpt is one term's occurrences within a page: how many times it
// appeared, and the sentences it appeared in.
type Excerpt struct {
	Term      string   `json:"term"`
	Count     int      `json:"count"`
	Sentences []string `json:"sentences"`
}

// FindExcerpts scans content for each term (case-insensitive) and returns,
// for every term that occurs at least once, its count and the sentences
// containing it. Sentences are naively split on '.', '!', '?'.
func FindExcerpts(content string, terms []string) []Excerpt {
	if len(content) == 0 || len(terms) == 0 {
		return nil
	}

	lowerContent := strings.ToLower(content)

	sentences := splitIntoSentences(content)
	if len(sentences) == 0 {
		return nil
	}

	lowerTerms := make([]string, len(terms))
	for i, term := range terms {
		lowerTerms[i] = strings.ToLower(term)
	}

	results := make([]Excerpt, 0, len(terms))
	for i, term := range terms {
		lowerTerm := lowerTerms[i]
		count := strings.Count(lowerContent, lowerTerm)
		if count == 0 {
			continue
		}

		var matched []string
		for _, sd := range sentences {
			if strings.Contains(sd.lower, lowerTerm) {
				matched = append(matched, sd.original)
			}
		}

		results = append(results, Excerpt{
			Term:      term,
			Count:     count,
			Sentences: matched,
		})
	}
	if len(results) == 0 {
		return nil
	}
	return results
}

// sentenceData holds a sentence's original and lowercase form together, so
// FindExcerpts never re-lowercases the same text twice.
type sentenceData struct {
	original string
	lower    string
}

// splitIntoSentences splits text on '.', '!', '?', keeping the delimiter
// attached to the preceding sentence and trimming surrounding whitespace.
func splitIntoSentences(text string) []sentenceData {
	if len(text) == 0 {
		return nil
	}

	estimated := len(text) / 50
	if estimated < 1 {
		estimated = 1
	}

	sentences := make([]sentenceData, 0, estimated)
	start := 0

	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			end := i + 1
			for end < len(text) && unicode.IsSpace(rune(text[end])) {
				end++
			}
			orig := strings.TrimSpace(text[start:end])
			sentences = append(sentences, sentenceData{original: orig, lower: strings.ToLower(orig)})
			start = end
		}
	}

	if start < len(text) {
		orig := strings.TrimSpace(text[start:])
		sentences = append(sentences, sentenceData{original: orig, lower: strings.ToLower(orig)})
	}

	return sentences
}

package search

import (
	"math"
	"sort"
	"strings"

	"github.com/pborenstein/temoa/internal/store"
)

// Query expansion parameters.
const (
	// expansionTokenThreshold: queries at or above this many tokens are
	// specific enough already.
	expansionTokenThreshold = 3

	// expansionSeedResults is how many initial results feed the vectorizer.
	expansionSeedResults = 5

	// expansionTermCount is how many new terms are appended.
	expansionTermCount = 3
)

// expansionStopWords are never proposed as expansion terms.
var expansionStopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "this": {}, "with": {},
	"from": {}, "are": {}, "was": {}, "were": {}, "have": {}, "has": {},
	"not": {}, "but": {}, "you": {}, "your": {}, "its": {}, "into": {},
	"when": {}, "then": {}, "than": {}, "they": {}, "them": {}, "will": {},
	"can": {}, "all": {}, "out": {}, "about": {}, "more": {}, "some": {},
}

// shouldExpand reports whether the query qualifies for expansion.
func shouldExpand(query string) bool {
	return len(store.Tokenize(query)) < expansionTokenThreshold
}

// expandQuery derives up to expansionTermCount new terms from the seed
// results' content via TF-IDF and appends them to the query. Returns the
// original query when nothing useful is found.
func expandQuery(query string, seeds []*Result) string {
	if len(seeds) == 0 {
		return query
	}
	if len(seeds) > expansionSeedResults {
		seeds = seeds[:expansionSeedResults]
	}

	queryTokens := make(map[string]struct{})
	for _, tok := range store.Tokenize(query) {
		queryTokens[tok] = struct{}{}
	}

	// Per-document term frequencies and document frequency.
	docCount := len(seeds)
	termTF := make(map[string]int)
	termDF := make(map[string]int)
	for _, seed := range seeds {
		if seed.entry == nil {
			continue
		}
		seen := make(map[string]struct{})
		for _, tok := range store.Tokenize(seed.entry.Content) {
			tok = strings.Trim(tok, ".,;:!?\"'()[]{}#*_`")
			if len(tok) < 3 {
				continue
			}
			if _, stop := expansionStopWords[tok]; stop {
				continue
			}
			if _, inQuery := queryTokens[tok]; inQuery {
				continue
			}
			termTF[tok]++
			if _, dup := seen[tok]; !dup {
				termDF[tok]++
				seen[tok] = struct{}{}
			}
		}
	}

	if len(termTF) == 0 {
		return query
	}

	type scoredTerm struct {
		term  string
		score float64
	}
	scored := make([]scoredTerm, 0, len(termTF))
	for term, tf := range termTF {
		idf := math.Log(float64(docCount+1) / float64(termDF[term]+1))
		scored = append(scored, scoredTerm{term: term, score: float64(tf) * (idf + 1)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].term < scored[j].term
	})

	n := len(scored)
	if n > expansionTermCount {
		n = expansionTermCount
	}
	terms := make([]string, n)
	for i := 0; i < n; i++ {
		terms[i] = scored[i].term
	}

	return query + " " + strings.Join(terms, " ")
}

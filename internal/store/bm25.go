package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// NoteTokenizerName is the name of the whitespace note tokenizer.
	NoteTokenizerName = "note_tokenizer"

	// NoteAnalyzerName is the name of the note analyzer.
	NoteAnalyzerName = "note_analyzer"

	// DefaultTagBoost multiplies the BM25 score for tag matches.
	DefaultTagBoost = 5.0
)

func init() {
	_ = registry.RegisterTokenizer(NoteTokenizerName, noteTokenizerConstructor)
}

// BM25Result is one keyword search hit.
type BM25Result struct {
	// Row is the matrix row index of the matching entry.
	Row int
	// BaseScore is the raw BM25 score before tag boosting.
	BaseScore float64
	// Score is the final score (BaseScore × tag boost when tags matched).
	Score float64
	// TagsMatched lists the entry tags intersecting the query tokens.
	TagsMatched []string
}

// BM25Index is a keyword index over the indexed entries with tag-aware
// boosting and description weighting. It is rebuilt in full after every
// index save; there is no incremental path.
type BM25Index struct {
	mu       sync.RWMutex
	index    bleve.Index
	entries  []*Entry
	tagBoost float64
	closed   bool
}

// bm25Document is the document structure handed to bleve.
type bm25Document struct {
	Text string `json:"text"`
}

// NewBM25Index builds an in-memory keyword index over the entries.
// Document IDs are the entries' row indices.
func NewBM25Index(entries []*Entry, tagBoost float64) (*BM25Index, error) {
	if tagBoost <= 0 {
		tagBoost = DefaultTagBoost
	}

	mapping, err := createNoteMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}

	batch := idx.NewBatch()
	for row, entry := range entries {
		doc := bm25Document{Text: indexedText(entry)}
		if err := batch.Index(strconv.Itoa(row), doc); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to index row %d: %w", row, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to execute index batch: %w", err)
	}

	return &BM25Index{
		index:    idx,
		entries:  entries,
		tagBoost: tagBoost,
	}, nil
}

// createNoteMapping creates the bleve mapping with a lowercase whitespace
// analyzer, matching how queries are tokenized.
func createNoteMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(NoteAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     NoteTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add note analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = NoteAnalyzerName
	return indexMapping, nil
}

// indexedText composes the searchable text for an entry. Tags and the
// description are repeated to inflate term frequency for curated fields
// without field-aware scoring.
func indexedText(e *Entry) string {
	var sb strings.Builder
	sb.WriteString(e.Title)

	tags := strings.Join(e.TagsLower, " ")
	if tags != "" {
		sb.WriteString(" ")
		sb.WriteString(tags)
		sb.WriteString(" ")
		sb.WriteString(tags)
	}

	if desc := e.Description(); desc != "" {
		sb.WriteString(" ")
		sb.WriteString(desc)
		sb.WriteString(" ")
		sb.WriteString(desc)
	}

	sb.WriteString(" ")
	sb.WriteString(e.Content)
	return sb.String()
}

// Search scores the query against all entries and returns the top limit
// hits after tag boosting.
func (b *BM25Index) Search(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*BM25Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("text")

	// Fetch well past the requested limit before boosting: a tag match
	// outside the raw top window can outrank hits inside it once boosted.
	request := bleve.NewSearchRequest(matchQuery)
	request.Size = limit * 5

	result, err := b.index.SearchInContext(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	tokens := Tokenize(query)
	results := make([]*BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		row, convErr := strconv.Atoi(hit.ID)
		if convErr != nil || row < 0 || row >= len(b.entries) {
			continue
		}

		r := &BM25Result{
			Row:       row,
			BaseScore: hit.Score,
			Score:     hit.Score,
		}
		if matched := intersectTags(tokens, b.entries[row].TagsLower); len(matched) > 0 {
			r.Score = hit.Score * b.tagBoost
			r.TagsMatched = matched
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DocCount returns the number of indexed entries.
func (b *BM25Index) DocCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	count, _ := b.index.DocCount()
	return int(count)
}

// Close releases the underlying index.
func (b *BM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// Tokenize lowercases and whitespace-splits text the same way the index
// analyzer does.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// intersectTags returns the tags present in the token set.
func intersectTags(tokens []string, tagsLower []string) []string {
	if len(tagsLower) == 0 {
		return nil
	}
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[strings.TrimFunc(t, unicode.IsPunct)] = struct{}{}
	}
	var matched []string
	for _, tag := range tagsLower {
		if _, ok := tokenSet[tag]; ok {
			matched = append(matched, tag)
		}
	}
	return matched
}

// noteTokenizerConstructor creates the whitespace tokenizer for bleve.
func noteTokenizerConstructor(_ map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	return &noteTokenizer{}, nil
}

// noteTokenizer splits on whitespace, preserving byte offsets.
type noteTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *noteTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	stream := make(analysis.TokenStream, 0, 32)

	pos := 1
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				stream = append(stream, &analysis.Token{
					Term:     []byte(text[start:i]),
					Start:    start,
					End:      i,
					Position: pos,
					Type:     analysis.AlphaNumeric,
				})
				pos++
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		stream = append(stream, &analysis.Token{
			Term:     []byte(text[start:]),
			Start:    start,
			End:      len(text),
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
	}

	return stream
}

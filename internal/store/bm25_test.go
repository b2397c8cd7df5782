package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taggedEntry(path, content string, tags ...string) *Entry {
	return &Entry{
		FilePath:  path,
		Title:     strings.TrimSuffix(path, ".md"),
		Content:   content,
		TagsLower: tags,
	}
}

func TestBM25Index_BasicMatch(t *testing.T) {
	entries := []*Entry{
		taggedEntry("a.md", "notes about zettelkasten method"),
		taggedEntry("b.md", "recipe for sourdough bread"),
	}
	idx, err := NewBM25Index(entries, 0)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	results, err := idx.Search(context.Background(), "zettelkasten", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Row)
	assert.Positive(t, results[0].Score)
	assert.Empty(t, results[0].TagsMatched)
}

func TestBM25Index_TagBoost(t *testing.T) {
	// A carries the tag; B repeats the term in its body. The tag boost
	// must rank A above B and record the match.
	body := strings.Repeat("zettelkasten ", 10)
	entries := []*Entry{
		taggedEntry("a.md", "a book about note taking", "zettelkasten", "book"),
		taggedEntry("b.md", body),
	}
	idx, err := NewBM25Index(entries, DefaultTagBoost)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	results, err := idx.Search(context.Background(), "zettelkasten books", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 0, results[0].Row)
	assert.Equal(t, []string{"zettelkasten"}, results[0].TagsMatched)
	assert.Greater(t, results[0].Score, results[0].BaseScore)
	assert.Equal(t, results[1].Score, results[1].BaseScore)
}

func TestBM25Index_DescriptionWeighting(t *testing.T) {
	// The same term in a description outweighs one mention in a body of
	// comparable length: the description is repeated in the indexed text.
	entries := []*Entry{
		{
			FilePath: "desc.md",
			Title:    "desc",
			Content:  "filler filler filler filler",
			FrontMatter: map[string]any{
				"description": "sourdough baking guide",
			},
		},
		taggedEntry("body.md", "sourdough filler filler filler"),
	}
	idx, err := NewBM25Index(entries, 0)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	results, err := idx.Search(context.Background(), "sourdough", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Row)
}

func TestBM25Index_EmptyQuery(t *testing.T) {
	idx, err := NewBM25Index([]*Entry{taggedEntry("a.md", "content")}, 0)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	results, err := idx.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBM25Index_EmptyCorpus(t *testing.T) {
	idx, err := NewBM25Index(nil, 0)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	results, err := idx.Search(context.Background(), "anything", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, idx.DocCount())
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world"}, Tokenize("  Hello   WORLD "))
	assert.Empty(t, Tokenize(""))
}

func TestIntersectTags(t *testing.T) {
	tokens := Tokenize("Zettelkasten books!")
	// Trailing punctuation on tokens does not defeat the match.
	assert.Equal(t, []string{"books"}, intersectTags(tokens, []string{"books", "cooking"}))
	assert.Nil(t, intersectTags(tokens, nil))
}

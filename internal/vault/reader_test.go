package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pborenstein/temoa/internal/errors"
)

func writeNote(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestReader(t *testing.T, root string) *Reader {
	t.Helper()
	r, err := NewReader(root, []string{"*.md", "*.txt"}, []string{".temoa/**", ".obsidian/**"})
	require.NoError(t, err)
	return r
}

func TestNewReader_MissingRoot(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "nope"), nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeVaultNotFound, errors.GetCode(err))
}

func TestNewReader_RootNotDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := NewReader(file, nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeVaultNotDir, errors.GetCode(err))
}

func TestReader_FrontMatterParsed(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "note.md", `---
title: My Note
tags:
  - obsidian
  - 2024
description: A note about tools
---

Body text here.
`)

	doc, err := newTestReader(t, root).ReadDocument("note.md")
	require.NoError(t, err)

	assert.Equal(t, "My Note", doc.Title)
	// Integer-looking tags are strings.
	assert.Equal(t, []string{"obsidian", "2024"}, StringList(doc.FrontMatter, "tags"))
	// The description is prepended with a blank line for embedding weight.
	assert.Equal(t, "A note about tools\n\nBody text here.\n", doc.Body)
}

func TestReader_MalformedFrontMatterFailOpen(t *testing.T) {
	root := t.TempDir()
	content := "---\ntitle: [unclosed\n---\n\nBody.\n"
	writeNote(t, root, "broken.md", content)

	doc, err := newTestReader(t, root).ReadDocument("broken.md")
	require.NoError(t, err)

	// Empty front matter, body starts at byte zero.
	assert.Empty(t, doc.FrontMatter)
	assert.Equal(t, content, doc.Body)
	assert.Equal(t, "broken", doc.Title)
}

func TestReader_NoFrontMatter(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "plain.md", "Just text.\n")

	doc, err := newTestReader(t, root).ReadDocument("plain.md")
	require.NoError(t, err)

	assert.Empty(t, doc.FrontMatter)
	assert.Equal(t, "Just text.\n", doc.Body)
	assert.Equal(t, "plain", doc.Title)
}

func TestReader_TitleFallsBackToStem(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "sub/daily-log.md", "---\ntags: [daily]\n---\ncontent\n")

	doc, err := newTestReader(t, root).ReadDocument("sub/daily-log.md")
	require.NoError(t, err)
	assert.Equal(t, "daily-log", doc.Title)
}

func TestReader_StatFiltersAndSorts(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "b.md", "b")
	writeNote(t, root, "a.md", "a")
	writeNote(t, root, "notes/c.txt", "c")
	writeNote(t, root, "image.png", "binary")
	writeNote(t, root, ".temoa/model/index.json", "{}")
	writeNote(t, root, ".obsidian/workspace.json", "{}")

	stats, err := newTestReader(t, root).Stat()
	require.NoError(t, err)

	paths := make([]string, len(stats))
	for i, st := range stats {
		paths[i] = st.RelativePath
	}
	assert.Equal(t, []string{"a.md", "b.md", "notes/c.txt"}, paths)

	for _, st := range stats {
		assert.Positive(t, st.ModTime)
	}
}

func TestReader_DocumentsReadsContent(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "a.md", "alpha")

	docs, err := newTestReader(t, root).Documents()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.md", docs[0].RelativePath)
	assert.Equal(t, int64(5), docs[0].ContentLength)
}

func TestReader_InvalidUTF8Sanitized(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "bad.md", "ok \xff\xfe bytes")

	doc, err := newTestReader(t, root).ReadDocument("bad.md")
	require.NoError(t, err)
	assert.Contains(t, doc.Body, "�")
	assert.NotContains(t, doc.Body, "\xff")
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		rel     string
		want    bool
	}{
		{"*.md", "note.md", true},
		{"*.md", "sub/note.md", true}, // base-name pattern
		{"*.md", "note.txt", false},
		{".temoa/**", ".temoa/model/index.json", true},
		{".temoa/**", "notes/a.md", false},
		{"**/.DS_Store", "deep/dir/.DS_Store", true},
		{"drafts/*.md", "drafts/x.md", true},
		{"drafts/*.md", "drafts/deep/x.md", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchGlob(tt.pattern, tt.rel),
			"pattern %q against %q", tt.pattern, tt.rel)
	}
}

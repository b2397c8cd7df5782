package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pborenstein/temoa/internal/store"
)

func seedResult(content string) *Result {
	return &Result{entry: &store.Entry{Content: content}}
}

func TestShouldExpand(t *testing.T) {
	assert.True(t, shouldExpand("golang"))
	assert.True(t, shouldExpand("golang concurrency"))
	assert.False(t, shouldExpand("golang concurrency patterns"))
}

func TestExpandQuery_AddsTopTerms(t *testing.T) {
	seeds := []*Result{
		seedResult("goroutines channels goroutines select channels"),
		seedResult("goroutines waitgroup channels"),
		seedResult("mutex goroutines"),
	}

	expanded := expandQuery("golang", seeds)
	assert.NotEqual(t, "golang", expanded)
	assert.True(t, strings.HasPrefix(expanded, "golang "))
	assert.Contains(t, expanded, "goroutines")

	// At most three new terms.
	added := strings.Fields(strings.TrimPrefix(expanded, "golang "))
	assert.LessOrEqual(t, len(added), 3)
}

func TestExpandQuery_SkipsQueryTermsAndStopWords(t *testing.T) {
	seeds := []*Result{
		seedResult("golang golang golang the the the and and with"),
	}

	expanded := expandQuery("golang", seeds)
	// Nothing new to add: query term and stop words are excluded.
	assert.Equal(t, "golang", expanded)
}

func TestExpandQuery_EmptySeeds(t *testing.T) {
	assert.Equal(t, "query", expandQuery("query", nil))
}

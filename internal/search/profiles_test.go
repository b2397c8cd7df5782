package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pborenstein/temoa/internal/config"
	"github.com/pborenstein/temoa/internal/errors"
)

func floatPtr(f float64) *float64 { return &f }

func TestProfileSet_Builtins(t *testing.T) {
	set, err := NewProfileSet(config.NewConfig())
	require.NoError(t, err)

	for _, name := range BuiltinProfileNames {
		p, err := set.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name)
	}

	// Empty resolves to default.
	p, err := set.Get("")
	require.NoError(t, err)
	assert.Equal(t, "default", p.Name)

	_, err = set.Get("nope")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownProfile, errors.GetCode(err))
}

func TestProfileSet_BuiltinShapes(t *testing.T) {
	set, err := NewProfileSet(config.NewConfig())
	require.NoError(t, err)

	repos, _ := set.Get("repos")
	assert.False(t, repos.Rerank)
	assert.True(t, repos.MetadataBoost)
	assert.Less(t, repos.HybridWeight, 0.5)

	recent, _ := set.Get("recent")
	assert.Greater(t, recent.TimeBoostMax, 0.2)
	assert.Positive(t, recent.MaxAgeDays)

	deep, _ := set.Get("deep")
	assert.Greater(t, deep.HybridWeight, 0.5)
	assert.True(t, deep.MultiChunk())

	keywords, _ := set.Get("keywords")
	assert.False(t, keywords.Rerank)
	assert.Less(t, keywords.HybridWeight, 0.5)
}

func TestProfileSet_CustomProfile(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SearchProfiles = map[string]config.ProfileConfig{
		"research": {
			DisplayName:  "Research",
			HybridWeight: floatPtr(0.9),
			MaxAgeDays:   intPtr(365),
		},
	}

	set, err := NewProfileSet(cfg)
	require.NoError(t, err)

	p, err := set.Get("research")
	require.NoError(t, err)
	assert.Equal(t, "Research", p.DisplayName)
	assert.Equal(t, 0.9, p.HybridWeight)
	assert.Equal(t, 365, p.MaxAgeDays)
	// Unset knobs inherit the default profile.
	assert.True(t, p.Hybrid)
	assert.Equal(t, []string{"daily"}, p.ExcludeTypes)
}

func intPtr(i int) *int { return &i }

func TestProfileSet_ShadowRejected(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SearchProfiles = map[string]config.ProfileConfig{
		"deep": {DisplayName: "Mine"},
	}

	_, err := NewProfileSet(cfg)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeProfileShadow, errors.GetCode(err))
}

func TestResolveOptions_RequestOverridesProfile(t *testing.T) {
	set, err := NewProfileSet(config.NewConfig())
	require.NoError(t, err)
	profile, _ := set.Get("default")

	req := &Request{
		Query:        "q",
		Limit:        5,
		Hybrid:       boolPtr(false),
		Rerank:       boolPtr(false),
		MinScore:     floatPtr(0.7),
		ExcludeTypes: []string{"daily", "journal"},
	}
	opts := resolveOptions(req, profile, config.NewConfig().Search)

	assert.Equal(t, 5, opts.Limit)
	assert.False(t, opts.Hybrid)
	assert.False(t, opts.Rerank)
	assert.Equal(t, 0.7, opts.MinScore)
	assert.Equal(t, []string{"daily", "journal"}, opts.ExcludeTypes)

	// Untouched knobs come from the profile.
	assert.Equal(t, profile.TimeBoost, opts.TimeBoost)
}

func TestResolveOptions_LimitClamped(t *testing.T) {
	set, _ := NewProfileSet(config.NewConfig())
	profile, _ := set.Get("default")
	defaults := config.NewConfig().Search

	opts := resolveOptions(&Request{Query: "q"}, profile, defaults)
	assert.Equal(t, defaults.Limit, opts.Limit)

	opts = resolveOptions(&Request{Query: "q", Limit: 5000}, profile, defaults)
	assert.Equal(t, 100, opts.Limit)
}

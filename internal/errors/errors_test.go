package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorChain(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	err := IndexError("cannot load index", cause)

	assert.Equal(t, "[ERR_205_CORRUPT_INDEX] cannot load index", err.Error())
	assert.Equal(t, cause, err.Unwrap())
	assert.Equal(t, CategoryIO, err.Category)
	assert.Equal(t, SeverityFatal, err.Severity)
}

func TestGetCodeThroughWrapping(t *testing.T) {
	inner := VaultMismatchError("/a", "/b")
	wrapped := fmt.Errorf("loading engine: %w", inner)

	assert.Equal(t, ErrCodeVaultMismatch, GetCode(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeVaultMismatch))
	assert.Equal(t, "", GetCode(fmt.Errorf("plain")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(IndexBusy("notes")))
	assert.False(t, IsRetryable(ConfigError("bad", nil)))
	assert.False(t, IsRetryable(nil))
}

func TestCategoriesFromCodes(t *testing.T) {
	tests := []struct {
		code string
		want Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeVaultNotFound, CategoryIO},
		{ErrCodeModelInit, CategoryModel},
		{ErrCodeQueryEmpty, CategoryValidation},
		{ErrCodeSearchTimeout, CategorySearch},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categoryFromCode(tt.code), tt.code)
	}
}

func TestWrapNil(t *testing.T) {
	require.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeUnknownVault, "unknown vault", nil).
		WithDetail("vault", "notes")
	assert.Equal(t, "notes", err.Details["vault"])
}

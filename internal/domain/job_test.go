package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeSource(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain key unchanged", input: "upload", expected: "upload"},
		{name: "uppercase lowered", input: "Bulk", expected: "bulk"},
		{name: "regenerate keeps hyphen", input: "bulk-regenerate", expected: SourceRegenerate},
		{name: "spaces and punctuation dropped", input: "cron retry!", expected: "cronretry"},
		{name: "empty falls back to auto", input: "", expected: SourceAuto},
		{name: "only invalid falls back to auto", input: "   ***", expected: SourceAuto},
		{name: "long source truncated", input: strings.Repeat("a", 80), expected: strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeSource(tt.input))
		})
	}
}

func TestTrimError(t *testing.T) {
	t.Run("collapses whitespace", func(t *testing.T) {
		assert.Equal(t, "api timeout after 30s", TrimError("  api\ttimeout\n after   30s "))
	})

	t.Run("keeps short messages", func(t *testing.T) {
		assert.Equal(t, "boom", TrimError("boom"))
	})

	t.Run("caps at 120 words", func(t *testing.T) {
		words := make([]string, 130)
		for i := range words {
			words[i] = fmt.Sprintf("w%d", i)
		}
		got := TrimError(strings.Join(words, " "))
		assert.True(t, strings.HasSuffix(got, "w119…"))
		assert.Len(t, strings.Fields(got), 120)
	})
}

func TestUniqueEntityIDs(t *testing.T) {
	assert.Equal(t, []int64{3, 1, 2}, UniqueEntityIDs([]int64{3, 1, 3, 0, -4, 2, 1}))
	assert.Empty(t, UniqueEntityIDs(nil))
}

func TestJob_RetryCount(t *testing.T) {
	assert.Equal(t, 0, (&Job{Attempts: 0}).RetryCount())
	assert.Equal(t, 0, (&Job{Attempts: 1}).RetryCount())
	assert.Equal(t, 2, (&Job{Attempts: 3}).RetryCount())
}

func TestStats_HasJobs(t *testing.T) {
	assert.False(t, Stats{Completed: 4, Failed: 1}.HasJobs())
	assert.True(t, Stats{Pending: 1}.HasJobs())
	assert.True(t, Stats{Processing: 1}.HasJobs())
}

func TestJobStatus_Valid(t *testing.T) {
	assert.True(t, JobStatusPending.Valid())
	assert.True(t, JobStatusFailed.Valid())
	assert.False(t, JobStatus("done").Valid())
}

func TestKindOf(t *testing.T) {
	rateLimited := NewGenerateError(KindRateLimited, "quota exhausted")
	wrapped := fmt.Errorf("generate 42: %w", rateLimited)

	assert.Equal(t, KindRateLimited, KindOf(rateLimited))
	assert.Equal(t, KindRateLimited, KindOf(wrapped))
	assert.Equal(t, KindNotEligible, KindOf(NewGenerateError(KindNotEligible, "not an image")))
	assert.Equal(t, KindOther, KindOf(errors.New("connection reset")))
	assert.Equal(t, KindOther, KindOf(nil))
}

func TestGenerateError_Error(t *testing.T) {
	assert.Equal(t, "rate_limited: slow down", NewGenerateError(KindRateLimited, "slow down").Error())

	inner := errors.New("dial tcp: refused")
	err := &GenerateError{Kind: KindOther, Err: inner}
	assert.Equal(t, "other: dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestEntity_Eligible(t *testing.T) {
	assert.True(t, Entity{Exists: true, IsImage: true}.Eligible())
	assert.False(t, Entity{Exists: true}.Eligible())
	assert.False(t, Entity{IsImage: true}.Eligible())
}

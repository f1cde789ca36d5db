package domain

import (
	"strings"
	"time"
	"unicode"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

const (
	SourceAuto       = "auto"
	SourceUpload     = "upload"
	SourceBulk       = "bulk"
	SourceManual     = "manual"
	SourceRegenerate = "bulk-regenerate"
)

const (
	maxSourceLen  = 50
	maxErrorWords = 120
	errorEllipsis = "…"
)

type Job struct {
	ID          int64      `json:"id"`
	EntityID    int64      `json:"entity_id"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	Source      string     `json:"source"`
	LastError   string     `json:"last_error,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ClaimToken  string     `json:"claim_token,omitempty"`
}

// RetryCount is the number of earlier attempts, as passed to the generator.
func (j *Job) RetryCount() int {
	if j.Attempts <= 1 {
		return 0
	}
	return j.Attempts - 1
}

type Stats struct {
	Pending         int `json:"pending"`
	Processing      int `json:"processing"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	CompletedRecent int `json:"completed_recent"`
}

func (s Stats) HasJobs() bool {
	return s.Pending+s.Processing > 0
}

// SanitizeSource lowercases the source and keeps only [a-z0-9_-].
func SanitizeSource(source string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(source) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
		if b.Len() >= maxSourceLen {
			break
		}
	}
	if b.Len() == 0 {
		return SourceAuto
	}
	return b.String()
}

// TrimError collapses whitespace and keeps at most 120 words.
func TrimError(msg string) string {
	words := strings.FieldsFunc(msg, unicode.IsSpace)
	if len(words) <= maxErrorWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxErrorWords], " ") + errorEllipsis
}

// UniqueEntityIDs drops non-positive ids and duplicates, keeping input order.
func UniqueEntityIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

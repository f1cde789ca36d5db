package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a generation failure at its source.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindRateLimited
	KindNotEligible
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindNotEligible:
		return "not_eligible"
	default:
		return "other"
	}
}

type GenerateError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GenerateError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GenerateError) Unwrap() error {
	return e.Err
}

func NewGenerateError(kind ErrorKind, msg string) *GenerateError {
	return &GenerateError{Kind: kind, Message: msg}
}

// KindOf reports the kind of a generation error; unclassified errors are KindOther.
func KindOf(err error) ErrorKind {
	var ge *GenerateError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindOther
}

// Entity is what the host knows about the resource a job points at.
type Entity struct {
	ID        int64  `json:"id"`
	Exists    bool   `json:"exists"`
	IsImage   bool   `json:"is_image"`
	HasOutput bool   `json:"has_output"`
	MimeType  string `json:"mime_type,omitempty"`
}

func (e Entity) Eligible() bool {
	return e.Exists && e.IsImage
}

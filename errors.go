package brandscan

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput means the URL was missing or malformed. No I/O was attempted.
	ErrInvalidInput = errors.New("invalid input")
	// ErrFetchFailed means both the scraping provider and the direct fetch failed
	ErrFetchFailed = errors.New("fetch failed")
	// ErrParseFailed means the model output was not JSON after fence stripping
	ErrParseFailed = errors.New("failed to parse model output")
	// ErrInvalidSchema means the model JSON lacked a business name
	ErrInvalidSchema = errors.New("invalid AI response format")
	// ErrModelUnavailable means the language model backend errored or timed out
	ErrModelUnavailable = errors.New("model unavailable")
)

// FetchError carries the upstream status of the last failed fetch attempt
type FetchError struct {
	URL     string
	Status  int // 0 when the failure was a transport error
	Message string
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s failed: HTTP %d: %s", e.URL, e.Status, e.Message)
	}
	return fmt.Sprintf("fetch %s failed: %s", e.URL, e.Message)
}

func (e *FetchError) Unwrap() error { return ErrFetchFailed }

// ParseError carries the raw model text that could not be parsed
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrParseFailed, e.Err)
	}
	return ErrParseFailed.Error()
}

func (e *ParseError) Is(target error) bool { return target == ErrParseFailed }

func (e *ParseError) Unwrap() error { return e.Err }

// ModelError wraps a backend failure
type ModelError struct {
	Backend string
	Err     error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrModelUnavailable, e.Backend, e.Err)
}

func (e *ModelError) Is(target error) bool { return target == ErrModelUnavailable }

func (e *ModelError) Unwrap() error { return e.Err }

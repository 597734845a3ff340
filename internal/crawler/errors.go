package crawler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures recorded on jobs.
type ErrorKind string

// Error kinds stored in Job.Error.Kind.
const (
	KindInvalidInput     ErrorKind = "invalid_input"
	KindFetch            ErrorKind = "fetch_failure"
	KindCrawl            ErrorKind = "crawl_failure"
	KindExtraction       ErrorKind = "extraction_failure"
	KindSummarization    ErrorKind = "summarization_failure"
	KindStoreConsistency ErrorKind = "store_consistency"
	KindCanceled         ErrorKind = "canceled"
	KindAbandoned        ErrorKind = "abandoned"
	KindInternal         ErrorKind = "internal"
)

var (
	// ErrNotFound is returned when a job or summary does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a transition violates the job state machine
	// or the caller does not hold the claim.
	ErrConflict = errors.New("store consistency violation")
	// ErrNoQueuedJobs is returned by Claim when nothing is waiting.
	ErrNoQueuedJobs = errors.New("no queued jobs")
	// ErrInvalidInput is returned for rejected job parameters.
	ErrInvalidInput = errors.New("invalid input")
)

// Error is a classified pipeline failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that failed.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel that corresponds to the kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindInvalidInput:
		return target == ErrInvalidInput
	case KindStoreConsistency:
		return target == ErrConflict
	default:
		return false
	}
}

// KindOf returns the kind of the first *Error in err's chain, or fallback.
func KindOf(err error, fallback ErrorKind) ErrorKind {
	var pipelineErr *Error
	if errors.As(err, &pipelineErr) && pipelineErr.Kind != "" {
		return pipelineErr.Kind
	}
	if errors.Is(err, ErrConflict) {
		return KindStoreConsistency
	}
	return fallback
}

// JobErrorFrom converts err into the record stored on a failed job.
func JobErrorFrom(err error, fallback ErrorKind) JobError {
	return JobError{Kind: KindOf(err, fallback), Message: err.Error()}
}

// InvalidInputf builds an invalid_input error.
func InvalidInputf(format string, args ...any) error {
	return NewError(KindInvalidInput, "validate", fmt.Errorf(format, args...))
}

package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	// ErrorKindUpstreamGeneration indicates the token source failed.
	ErrorKindUpstreamGeneration ErrorKind = "upstream_generation"

	// ErrorKindSegmentation indicates a broken segmenter or state machine
	// invariant. It is a programmer error.
	ErrorKindSegmentation ErrorKind = "segmentation"

	// ErrorKindQueueSubmission indicates a job could not be handed to a worker queue.
	ErrorKindQueueSubmission ErrorKind = "queue_submission"

	// ErrorKindStageTimeout indicates an artifact never appeared within its bound.
	ErrorKindStageTimeout ErrorKind = "stage_timeout"

	// ErrorKindMergeFormatMismatch indicates chunk audio formats diverge.
	ErrorKindMergeFormatMismatch ErrorKind = "merge_format_mismatch"

	// ErrorKindPromptStage indicates an agent or RAG stage rejected the request.
	ErrorKindPromptStage ErrorKind = "prompt_stage"
)

// StageError is the error type every pipeline stage reports. Stage names the
// pipeline stage ("llm", "tts", "merge", "dg", ...).
type StageError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err as a StageError of the given kind.
func NewStageError(kind ErrorKind, stage string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// ErrUpstreamGeneration wraps a token source failure.
func ErrUpstreamGeneration(err error) *StageError {
	return NewStageError(ErrorKindUpstreamGeneration, string(StepLLM), err)
}

// ErrQueueSubmission wraps a failed queue hand-off.
func ErrQueueSubmission(stage string, err error) *StageError {
	return NewStageError(ErrorKindQueueSubmission, stage, err)
}

// ErrStageTimeout reports that a stage's artifacts did not appear in time.
func ErrStageTimeout(stage string, err error) *StageError {
	return NewStageError(ErrorKindStageTimeout, stage, err)
}

// KindOf returns the ErrorKind of err, or "" when err is not a StageError.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err is a StageError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

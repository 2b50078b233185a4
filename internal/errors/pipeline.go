package errors

import (
	"fmt"
)

// Sentinels for the batch pipeline failure taxonomy. Each typed error below
// unwraps to its sentinel so callers can test with Is or extract details with As.
var (
	ErrMalformedEvent = NewStd("malformed detection event")
	ErrClipExtraction = NewStd("clip extraction failed")
	ErrConcatenation  = NewStd("reel concatenation failed")
	ErrUpload         = NewStd("upload failed")
	ErrIndexConflict  = NewStd("index changed during publish")
)

// MalformedEventError describes a detector record that could not be mapped
// onto a known clip. The record is dropped and counted; the batch continues.
type MalformedEventError struct {
	Source string
	ClipID string
	Offset float64
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event for clip %q at %.3fs: %s", e.Source, e.ClipID, e.Offset, e.Reason)
}

func (e *MalformedEventError) Unwrap() error { return ErrMalformedEvent }

// ErrorCategory implements CategorizedError
func (e *MalformedEventError) ErrorCategory() ErrorCategory { return CategoryValidation }

// ClipExtractionError reports a transcoder failure for one clip. The clip's
// segments are excluded from the reel.
type ClipExtractionError struct {
	ClipID string
	Err    error
}

func (e *ClipExtractionError) Error() string {
	return fmt.Sprintf("extract clip %s: %v", e.ClipID, e.Err)
}

func (e *ClipExtractionError) Unwrap() []error { return []error{ErrClipExtraction, e.Err} }

// ErrorCategory implements CategorizedError
func (e *ClipExtractionError) ErrorCategory() ErrorCategory { return CategoryCommandExecution }

// ConcatenationError is fatal to the batch: no reel is produced.
type ConcatenationError struct {
	Output string
	Parts  int
	Err    error
}

func (e *ConcatenationError) Error() string {
	return fmt.Sprintf("concatenate %d parts into %s: %v", e.Parts, e.Output, e.Err)
}

func (e *ConcatenationError) Unwrap() []error { return []error{ErrConcatenation, e.Err} }

// ErrorCategory implements CategorizedError
func (e *ConcatenationError) ErrorCategory() ErrorCategory { return CategoryProcessing }

// UploadError is returned once retries for a storage operation are exhausted.
type UploadError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() []error { return []error{ErrUpload, e.Err} }

// ErrorCategory implements CategorizedError
func (e *UploadError) ErrorCategory() ErrorCategory { return CategoryStorage }

// IndexConflictError means the index document changed between read and write.
// Only the index update step needs to be retried.
type IndexConflictError struct {
	Key      string
	Expected int64
	Found    int64
}

func (e *IndexConflictError) Error() string {
	return fmt.Sprintf("index %s changed during publish: expected version %d, found %d", e.Key, e.Expected, e.Found)
}

func (e *IndexConflictError) Unwrap() error { return ErrIndexConflict }

// ErrorCategory implements CategorizedError
func (e *IndexConflictError) ErrorCategory() ErrorCategory { return CategoryConflict }

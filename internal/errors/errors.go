// Package errors wraps failures with a category, the pipeline stage that
// raised them and free-form context, and optionally forwards them to Sentry.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCategory groups errors for reporting and retry decisions.
type ErrorCategory string

// CategorizedError is implemented by typed errors that know their category.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryValidation       ErrorCategory = "validation"
	CategoryFileIO           ErrorCategory = "file-io"
	CategoryFileParsing      ErrorCategory = "file-parsing"
	CategoryNetwork          ErrorCategory = "network"
	CategoryStorage          ErrorCategory = "object-storage"
	CategoryConfiguration    ErrorCategory = "configuration"
	CategoryGeneric          ErrorCategory = "generic"
	CategoryNotFound         ErrorCategory = "not-found"
	CategoryConflict         ErrorCategory = "conflict"
	CategoryProcessing       ErrorCategory = "processing"
	CategoryLimit            ErrorCategory = "limit"
	CategoryCommandExecution ErrorCategory = "command-execution" // ffmpeg and ffprobe
	CategoryTimeout          ErrorCategory = "timeout"
	CategoryCancellation     ErrorCategory = "cancellation"
)

// ComponentUnknown is used when no pipeline stage could be attributed.
const ComponentUnknown = "unknown"

const packagePath = "github.com/rssrn/birdbird/internal/errors"

// stages maps package path fragments to component names, first match wins.
var stages = []struct{ pkg, component string }{
	{"internal/detection", "detection"},
	{"internal/segments", "segments"},
	{"internal/ffmpeg", "ffmpeg"},
	{"internal/highlights", "highlights"},
	{"internal/windows", "windows"},
	{"internal/storage", "storage"},
	{"internal/publish", "publish"},
	{"internal/conf", "configuration"},
	{"internal/notification", "notification"},
	{"internal/pipeline", "pipeline"},
}

// reporting is set while a telemetry reporter is installed. Without it
// Build skips the stack walk.
var reporting atomic.Bool

// EnhancedError is an error with a category, component and context.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	component string
	reported  atomic.Bool
}

func (ee *EnhancedError) Error() string { return ee.Err.Error() }

func (ee *EnhancedError) Unwrap() error { return ee.Err }

// Is matches another EnhancedError by category and otherwise defers to the
// wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// GetComponent returns the pipeline stage the error was raised in.
func (ee *EnhancedError) GetComponent() string {
	if ee.component == "" {
		return ComponentUnknown
	}
	return ee.component
}

// GetContext returns a copy of the context map.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	out := make(map[string]any, len(ee.Context))
	maps.Copy(out, ee.Context)
	return out
}

// MarkReported flags the error as sent and reports whether it was already.
func (ee *EnhancedError) MarkReported() bool {
	return ee.reported.Swap(true)
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts a builder wrapping err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts a builder wrapping a formatted error.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component overrides stack-based component detection.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Timing records the operation name and how long it ran before failing.
func (eb *ErrorBuilder) Timing(operation string, elapsed time.Duration) *ErrorBuilder {
	return eb.Context("operation", operation).Context("duration_ms", elapsed.Milliseconds())
}

// Build returns the error and hands it to the telemetry reporter, if any.
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
	}
	if ee.Category == "" {
		ee.Category = CategoryOf(eb.err)
	}
	if !reporting.Load() {
		return ee
	}
	if ee.component == "" {
		ee.component = callerComponent()
	}
	reportToTelemetry(ee)
	return ee
}

// callerComponent walks the stack for the first frame in a known stage.
func callerComponent() string {
	pcs := make([]uintptr, 32)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs)])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.Function, packagePath) {
			for _, s := range stages {
				if strings.Contains(frame.Function, s.pkg) {
					return s.component
				}
			}
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// CategoryOf returns the category carried by err, or CategoryGeneric.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return CategoryGeneric
	}
	var catErr CategorizedError
	if As(err, &catErr) {
		return catErr.ErrorCategory()
	}
	var ee *EnhancedError
	if As(err, &ee) && ee.Category != "" {
		return ee.Category
	}
	return CategoryGeneric
}

// IsCategory reports whether err wraps an EnhancedError of category.
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	return As(err, &ee) && ee.Category == category
}

// IsNotFound is IsCategory(err, CategoryNotFound).
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// Passthroughs so callers need only this package.

func NewStd(text string) error { return stderrors.New(text) }
func Is(err, target error) bool { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func Unwrap(err error) error { return stderrors.Unwrap(err) }
func Join(errs ...error) error { return stderrors.Join(errs...) }

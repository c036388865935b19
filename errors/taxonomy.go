package errors

import (
	"fmt"
	"strings"
)

// ConfigurationError reports missing, malformed or shape-mismatched adapter or
// step configuration. It is always raised before any I/O starts.
type ConfigurationError struct {
	Subject  string // what was being configured, e.g. "FILE sender"
	Expected string // expected configuration shape, if the failure is a mismatch
	Actual   string // actual configuration shape, if the failure is a mismatch
	Reason   string
	Err      error
}

// NewConfigurationError builds a ConfigurationError with a free-form reason.
func NewConfigurationError(subject, reason string, cause error) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Reason: reason, Err: cause}
}

// NewShapeMismatch builds a ConfigurationError naming the expected and actual shapes.
func NewShapeMismatch(subject, expected, actual string) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Expected: expected, Actual: actual}
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Subject != "" {
		b.WriteString(": ")
		b.WriteString(e.Subject)
	}
	if e.Expected != "" {
		fmt.Fprintf(&b, " requires %s, got: %s", e.Expected, e.Actual)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidConfig
	}
	return e.Err
}

// Is lets errors.Is(err, ErrInvalidConfig) match every configuration error.
func (e *ConfigurationError) Is(target error) bool { return target == ErrInvalidConfig }

// ErrorClass implements classification.
func (e *ConfigurationError) ErrorClass() ErrorClass { return ErrorInvalid }

// AdapterError reports an adapter construction, initialization, send or receive
// failure. It always carries the original cause together with type and mode.
type AdapterError struct {
	Type string
	Mode string
	Op   string
	Err  error
}

// NewAdapterError wraps cause with adapter context.
func NewAdapterError(adapterType, mode, op string, cause error) *AdapterError {
	return &AdapterError{Type: adapterType, Mode: mode, Op: op, Err: cause}
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s/%s: %s failed: %v", e.Type, e.Mode, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// ErrorClass implements classification. The cause decides the class; an
// unrecognized cause is transient.
func (e *AdapterError) ErrorClass() ErrorClass {
	if e.Err == nil {
		return ErrorTransient
	}
	return Classify(e.Err)
}

// TransformationError reports a failure inside a pipeline step. Step names the
// transformation type; TargetField is set for field mapping failures.
type TransformationError struct {
	Step             string
	TransformationID string
	TargetField      string
	Err              error
}

// NewTransformationError wraps cause with step context.
func NewTransformationError(step, transformationID, targetField string, cause error) *TransformationError {
	return &TransformationError{Step: step, TransformationID: transformationID, TargetField: targetField, Err: cause}
}

func (e *TransformationError) Error() string {
	var b strings.Builder
	b.WriteString("transformation ")
	b.WriteString(e.Step)
	if e.TransformationID != "" {
		fmt.Fprintf(&b, " [%s]", e.TransformationID)
	}
	if e.TargetField != "" {
		fmt.Fprintf(&b, " target %q", e.TargetField)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *TransformationError) Unwrap() error { return e.Err }

// ErrorClass implements classification.
func (e *TransformationError) ErrorClass() ErrorClass { return ErrorInvalid }

// ConversionError reports a failure converting a raw payload to or from the
// canonical document.
type ConversionError struct {
	Protocol string
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion for %s failed: %v", e.Protocol, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// ErrorClass implements classification.
func (e *ConversionError) ErrorClass() ErrorClass { return ErrorInvalid }

// OrchestrationFailure is the failure recorded on an orchestration execution
// when one of its steps fails.
type OrchestrationFailure struct {
	ExecutionID string
	FlowID      string
	Step        string
	Err         error
}

func (e *OrchestrationFailure) Error() string {
	return fmt.Sprintf("orchestration %s (flow %s) failed at %s: %v", e.ExecutionID, e.FlowID, e.Step, e.Err)
}

func (e *OrchestrationFailure) Unwrap() error { return e.Err }

// ErrorClass implements classification.
func (e *OrchestrationFailure) ErrorClass() ErrorClass { return ErrorFatal }

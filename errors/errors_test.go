package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"circuit open", ErrCircuitOpen, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"invalid data", ErrInvalidData, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
		{"adapter send failure", NewAdapterError("HTTP", "RECEIVER", "send", ErrConnectionLost), true},
		{"configuration error", NewConfigurationError("FILE sender", "directory is required", nil), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid data", ErrInvalidData, true},
		{"validation failed", ErrValidationFailed, true},
		{"transformation error", NewTransformationError("FILTER", "t1", "", ErrMissingConfig), true},
		{"conversion error", &ConversionError{Protocol: "REST", Err: ErrParsingFailed}, true},
		{"adapter error with config cause", NewAdapterError("FILE", "SENDER", "create", NewShapeMismatch("FILE sender", "A", "B")), true},
		{"adapter error with invalid payload", NewAdapterError("JDBC", "RECEIVER", "send", ErrInvalidData), true},
		{"connection lost", ErrConnectionLost, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsInvalid(test.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	failure := &OrchestrationFailure{ExecutionID: "e1", FlowID: "f1", Step: "PROCESS_TARGETS", Err: ErrConnectionLost}
	assert.True(t, IsFatal(failure))
	assert.True(t, IsFatal(ErrMissingConfig))
	assert.False(t, IsFatal(ErrConnectionTimeout))
	assert.False(t, IsFatal(nil))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(NewConfigurationError("x", "y", nil)))
	assert.Equal(t, ErrorFatal, Classify(&OrchestrationFailure{Err: errors.New("boom")}))
	assert.Equal(t, ErrorTransient, Classify(errors.New("something odd")))
	assert.Equal(t, ErrorInvalid, Classify(ErrParsingFailed))
}

func TestWrap(t *testing.T) {
	base := errors.New("disk gone")

	err := Wrap(base, "FileSender", "Receive", "read file")
	require.Error(t, err)
	assert.Equal(t, "FileSender.Receive: read file failed: disk gone", err.Error())
	assert.True(t, errors.Is(err, base))

	assert.Nil(t, Wrap(nil, "a", "b", "c"))
	assert.Nil(t, WrapTransient(nil, "a", "b", "c"))
	assert.Nil(t, WrapInvalid(nil, "a", "b", "c"))
	assert.Nil(t, WrapFatal(nil, "a", "b", "c"))

	wrapped := WrapInvalid(base, "Registry", "Register", "register factory")
	var ce *ClassifiedError
	require.True(t, errors.As(wrapped, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "Registry", ce.Component)
	assert.Equal(t, "Register", ce.Operation)
	assert.True(t, errors.Is(wrapped, base))
}

func TestConfigurationError_Message(t *testing.T) {
	err := NewShapeMismatch("FILE sender", "*adapter.FileSenderConfig", "*adapter.HTTPReceiverConfig")
	assert.Equal(t,
		"configuration error: FILE sender requires *adapter.FileSenderConfig, got: *adapter.HTTPReceiverConfig",
		err.Error())
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	withCause := NewConfigurationError("REST receiver", "decode", errors.New("unexpected EOF"))
	assert.True(t, strings.HasSuffix(withCause.Error(), "decode: unexpected EOF"))
}

func TestAdapterError_KeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewAdapterError("FTP", "SENDER", "initialize", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "FTP/SENDER")
	assert.Contains(t, err.Error(), "initialize")

	var ae *AdapterError
	require.True(t, errors.As(fmt.Errorf("outer: %w", err), &ae))
	assert.Equal(t, "FTP", ae.Type)
	assert.Equal(t, "SENDER", ae.Mode)
}

func TestTransformationError_NamesTarget(t *testing.T) {
	err := NewTransformationError("FIELD_MAPPING", "t-9", "/Invoice/Buyer", errors.New("function failed"))
	assert.Equal(t, `transformation FIELD_MAPPING [t-9] target "/Invoice/Buyer": function failed`, err.Error())
}

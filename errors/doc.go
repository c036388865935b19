// Package errors provides standardized error handling for the flow bridge.
//
// # Classification
//
// Every error the engine produces falls into one of three classes:
//
//   - Transient: connection loss, timeouts, an open circuit breaker (retry may help)
//   - Invalid: malformed configuration, bad payloads, failed validation (do not retry)
//   - Fatal: unrecoverable states, such as a failed orchestration run
//
// Wrap, WrapTransient, WrapInvalid and WrapFatal add context in the
// "component.method: action failed: cause" form:
//
//	if err := json.Unmarshal(raw, &cfg); err != nil {
//	    return errors.WrapInvalid(err, "FileSender", "Initialize", "decode config")
//	}
//
// # Domain taxonomy
//
// The engine distinguishes four failure families and callers branch on them with
// errors.As:
//
//   - ConfigurationError: bad or mismatched adapter/step configuration, detected before I/O
//   - AdapterError: construction, initialization, send or receive failure with type and mode
//   - TransformationError: a pipeline step failed; names the step and target field
//   - OrchestrationFailure: the failure stored on a FAILED orchestration execution
//
// ConversionError covers raw payload to canonical document conversion.
//
// Each type reports its own class, so IsInvalid, IsTransient and IsFatal work on
// them directly:
//
//	var cfgErr *errors.ConfigurationError
//	if errors.As(err, &cfgErr) {
//	    // reject the request, the adapter definition is broken
//	}
package errors

// Package errs provides structured error types and helpers for the bridge.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies a bridge error category.
type Code string

const (
	// CodeInstrumentNotFound indicates the instrument is absent from the directory.
	CodeInstrumentNotFound Code = "instrument_not_found"
	// CodeUnsupportedInstrument indicates the operation is invalid for the instrument's asset class.
	CodeUnsupportedInstrument Code = "unsupported_instrument"
	// CodeUnsupportedAggregation indicates a bar specification that is not time-based.
	CodeUnsupportedAggregation Code = "unsupported_aggregation"
	// CodeSessionNotReady indicates the venue session readiness wait exceeded its bound.
	CodeSessionNotReady Code = "session_not_ready"
	// CodeRateLimited indicates that the request exceeded venue rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeVenue indicates a venue-side failure.
	CodeVenue Code = "venue_error"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the bridge.
type E struct {
	Op      string
	Code    Code
	Message string
	RawCode string
	RawMsg  string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:      strings.TrimSpace(op),
		Code:    code,
		Message: "",
		RawCode: "",
		RawMsg:  "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRawCode captures the raw venue error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the bridge code from err, or an empty code when err does
// not carry an envelope anywhere in its chain.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*E); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

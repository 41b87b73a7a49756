// Package errs provides the structured error envelope shared by the venue link.
package errs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeConfiguration indicates a missing or invalid credential or endpoint. Never retried.
	CodeConfiguration Code = "configuration"
	// CodeTimeout indicates a REST call exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeExchange indicates the venue answered with a non-2xx status or a failed envelope.
	CodeExchange Code = "exchange_error"
	// CodeConnection indicates a streaming session fault.
	CodeConnection Code = "connection"
	// CodeFatal indicates reconnection attempts were exhausted or the venue refused the session.
	CodeFatal Code = "fatal"
	// CodeNetwork indicates a transport failure before any response arrived.
	CodeNetwork Code = "network"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable indicates the component is closed or saturated.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the venue link.
type E struct {
	Component string
	Code      Code
	HTTP      int
	RawCode   string
	RawMsg    string
	Message   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
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

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the venue's own error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the venue's raw error payload.
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
	component := e.Component
	if component == "" {
		component = "unknown"
	}
	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts := []string{"component=" + component, "code=" + code}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
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

// Retryable reports whether a caller may reasonably retry the failed operation.
// Timeouts, 5xx and 429 responses are retryable; 4xx and configuration faults are not.
func (e *E) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeTimeout, CodeNetwork:
		return true
	case CodeExchange:
		return e.HTTP >= http.StatusInternalServerError || e.HTTP == http.StatusTooManyRequests
	default:
		return false
	}
}

// Configuration returns a ConfigurationError.
func Configuration(component, msg string) *E {
	return New(component, CodeConfiguration, WithMessage(msg))
}

// Timeout returns a TimeoutError wrapping the deadline cause.
func Timeout(component string, cause error) *E {
	return New(component, CodeTimeout, WithMessage("deadline exceeded"), WithCause(cause))
}

// API returns an ApiError for a non-2xx or failed response.
func API(component string, status int, rawCode, rawMsg string) *E {
	return New(component, CodeExchange, WithHTTP(status), WithRawCode(rawCode), WithRawMessage(rawMsg))
}

// Connection returns a ConnectionError for a streaming session fault.
func Connection(component string, cause error) *E {
	return New(component, CodeConnection, WithCause(cause))
}

// Fatal returns a FatalError.
func Fatal(component, msg string, cause error) *E {
	return New(component, CodeFatal, WithMessage(msg), WithCause(cause))
}

// IsCode reports whether err carries an envelope with the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var e *E
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// Retryable reports whether err is an envelope marked retryable.
func Retryable(err error) bool {
	var e *E
	if !errors.As(err, &e) {
		return false
	}
	return e.Retryable()
}

// HTTPStatus extracts the HTTP status from err, or 0 when none is recorded.
func HTTPStatus(err error) int {
	var e *E
	if !errors.As(err, &e) {
		return 0
	}
	return e.HTTP
}

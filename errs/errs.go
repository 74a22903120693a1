// Package errs provides structured error types shared across venuelink.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an error category raised by venue connectivity.
type Code string

const (
	// CodeAuth indicates an authentication or signature failure.
	CodeAuth Code = "auth"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeExchange indicates a venue-side failure.
	CodeExchange Code = "exchange_error"
	// CodeNetwork indicates a transport failure.
	CodeNetwork Code = "network"
	// CodeDecode indicates an undecodable inbound frame or payload.
	CodeDecode Code = "decode"
	// CodeRateLimited indicates the request exceeded rate limits.
	CodeRateLimited Code = "rate_limited"
)

// E captures structured error information produced across venuelink.
type E struct {
	Venue      string
	Code       Code
	HTTP       int
	RawCode    string
	RawPayload string
	Message    string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{Venue: strings.TrimSpace(venue), Code: code}
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

// WithRawCode captures the raw venue error or info code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawPayload attaches the raw frame or response body for diagnostics.
func WithRawPayload(payload []byte) Option {
	return func(e *E) {
		e.RawPayload = string(payload)
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

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawPayload != "" {
		parts = append(parts, "raw_payload="+strconv.Quote(e.RawPayload))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// IsCode reports whether err is, or wraps, an *E carrying the given code.
func IsCode(err error, code Code) bool {
	var e *E
	return errors.As(err, &e) && e.Code == code
}

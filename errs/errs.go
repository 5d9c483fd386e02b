// Package errs provides structured error types and helpers shared across arbwatch.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a failure category in the ingest and notification pipeline.
type Code string

const (
	// CodeNetwork indicates a transport-level failure (dial, reset, timeout).
	CodeNetwork Code = "network"
	// CodeParse indicates a malformed provider payload.
	CodeParse Code = "parse"
	// CodeDataQuality indicates a record discarded for non-finite or missing fields.
	CodeDataQuality Code = "data_quality"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a uniqueness or concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeRateLimited indicates the request exceeded provider rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeUnavailable indicates the collaborator is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeDelivery indicates a chat-platform send failure.
	CodeDelivery Code = "delivery"
)

// E captures structured error information produced across the arbwatch stack.
type E struct {
	Provider string
	Code     Code
	HTTP     int
	Message  string
	Metadata map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the provider and error code.
func New(provider string, code Code, opts ...Option) *E {
	e := &E{
		Provider: strings.TrimSpace(provider),
		Code:     code,
		HTTP:     0,
		Message:  "",
		Metadata: nil,
		cause:    nil,
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

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, 1)
		}
		e.Metadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	provider := strings.TrimSpace(e.Provider)
	if provider == "" {
		provider = "unknown"
	}
	parts = append(parts, "provider="+provider)

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
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Metadata[k]))
		}
		parts = append(parts, "meta="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the failure category from any error in the chain.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Code
	}
	return ""
}

// IsConflict reports whether the error chain contains a uniqueness conflict.
func IsConflict(err error) bool {
	return CodeOf(err) == CodeConflict
}

// IsNotFound reports whether the error chain contains a missing-resource error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

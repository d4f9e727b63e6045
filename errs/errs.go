// Package errs provides structured error types and helpers shared across the marketplace services.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies an error category surfaced at the API boundary.
type Code string

const (
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnsupportedMethod indicates an unknown payment method.
	CodeUnsupportedMethod Code = "unsupported_method"
	// CodeGatewayUnavailable indicates a configuration-class gateway failure.
	CodeGatewayUnavailable Code = "gateway_unavailable"
	// CodeGateway indicates a gateway-side failure.
	CodeGateway Code = "gateway_error"
	// CodeAuth indicates authentication or signature-verification errors.
	CodeAuth Code = "auth"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// CanonicalCode classifies settlement rejections independently of the provider.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalOrderNotFound indicates the referenced order does not exist.
	CanonicalOrderNotFound CanonicalCode = "order_not_found"
	// CanonicalLotNotFound indicates the order references a missing lot.
	CanonicalLotNotFound CanonicalCode = "lot_not_found"
	// CanonicalMethodMismatch indicates a callback from one provider targeting another provider's order.
	CanonicalMethodMismatch CanonicalCode = "method_mismatch"
	// CanonicalAmountMismatch indicates the reported amount differs from the stored order amount.
	CanonicalAmountMismatch CanonicalCode = "amount_mismatch"
	// CanonicalCurrencyMismatch indicates a non-EUR reported currency.
	CanonicalCurrencyMismatch CanonicalCode = "currency_mismatch"
	// CanonicalCapacityExceeded indicates the lot cannot absorb the order's fraction count.
	CanonicalCapacityExceeded CanonicalCode = "capacity_exceeded"
)

// E captures structured error information produced across the marketplace stack.
type E struct {
	Provider  string
	Code      Code
	HTTP      int
	Message   string
	Canonical CanonicalCode

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the provider and error code.
func New(provider string, code Code, opts ...Option) *E {
	e := &E{
		Provider:  strings.TrimSpace(provider),
		Code:      code,
		HTTP:      0,
		Message:   "",
		Canonical: CanonicalUnknown,
		cause:     nil,
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

// WithCanonicalCode sets the canonical code describing the failure category.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	provider := strings.TrimSpace(e.Provider)
	if provider != "" {
		parts = append(parts, "provider="+provider)
	}

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Status returns the HTTP status to surface for the error, falling back per code.
func (e *E) Status() int {
	if e == nil {
		return 500
	}
	if e.HTTP > 0 {
		return e.HTTP
	}
	switch e.Code {
	case CodeNotFound:
		return 404
	case CodeInvalid, CodeUnsupportedMethod:
		return 400
	case CodeAuth:
		return 401
	case CodeConflict:
		return 409
	case CodeGatewayUnavailable, CodeUnavailable:
		return 503
	default:
		return 500
	}
}

package integration

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Kind classifies integration failures. HTTP status and retry policy derive from it.
type Kind string

const (
	KindUnknownIntegration      Kind = "unknown_integration"
	KindValidation              Kind = "validation"
	KindNotFound                Kind = "not_found"
	KindInvalidState            Kind = "invalid_state"
	KindAuthFailed              Kind = "auth_failed"
	KindTokenExpired            Kind = "token_expired"
	KindRateLimit               Kind = "rate_limit"
	KindWebhookSignatureInvalid Kind = "webhook_signature_invalid"
	KindCanceled                Kind = "canceled"
	KindUnavailable             Kind = "unavailable"
	KindInternal                Kind = "internal"
)

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrUnknownIntegration      = &Error{Kind: KindUnknownIntegration}
	ErrValidation              = &Error{Kind: KindValidation}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrInvalidState            = &Error{Kind: KindInvalidState}
	ErrAuthFailed              = &Error{Kind: KindAuthFailed}
	ErrTokenExpired            = &Error{Kind: KindTokenExpired}
	ErrRateLimit               = &Error{Kind: KindRateLimit}
	ErrWebhookSignatureInvalid = &Error{Kind: KindWebhookSignatureInvalid}
	ErrCanceled                = &Error{Kind: KindCanceled}
	ErrUnavailable             = &Error{Kind: KindUnavailable}
)

// Error is the single error type surfaced by connectors, stores and the webhook manager.
type Error struct {
	Kind        Kind
	Op          string
	Integration string
	Message     string
	// RetryAfter is the provider supplied delay in seconds. Only set for KindRateLimit.
	RetryAfter int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Integration != "" {
		b.WriteString(e.Integration)
		b.WriteString(": ")
	}
	msg := e.Message
	if msg == "" {
		msg = strings.ReplaceAll(string(e.Kind), "_", " ")
	}
	b.WriteString(msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether a caller may retry the failed operation as is.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Kind.Retryable()
}

// Retryable reports whether a failure of this kind is transient.
// TokenExpired is retryable only through a single refresh, which the connector performs itself.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimit, KindUnavailable:
		return true
	default:
		return false
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// RateLimited builds a KindRateLimit error carrying the Retry-After delay in seconds.
func RateLimited(op string, retryAfter int) *Error {
	return &Error{Kind: KindRateLimit, Op: op, RetryAfter: retryAfter}
}

// Canceled converts a context error into KindCanceled. Non-context errors pass through.
func Canceled(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var ie *Error
		if errors.As(err, &ie) && ie.Kind == KindCanceled {
			return err
		}
		return &Error{Kind: KindCanceled, Op: op, Err: err}
	}
	return err
}

// KindOf returns the failure kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// RetryAfterOf returns the carried Retry-After seconds of a rate limit error.
func RetryAfterOf(err error) (int, bool) {
	var ie *Error
	if errors.As(err, &ie) && ie.Kind == KindRateLimit {
		return ie.RetryAfter, true
	}
	return 0, false
}

// HTTPStatus maps err to the status code the HTTP surface answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnknownIntegration, KindValidation, KindInvalidState:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthFailed, KindTokenExpired, KindWebhookSignatureInvalid:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindCanceled:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusServiceUnavailable
		}
		return http.StatusRequestTimeout
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package router

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of router-core error kinds. HTTP mapping is
// defined by StatusFor.
type Kind int

const (
	KindUserNotFound Kind = iota
	KindAPIKeyNotFound
	KindInvalidAPIKey
	KindProviderNotFound
	KindModelNotFound
	KindUnauthorized
	KindRejected
	KindRedirect
	KindStateError
	KindPluginError
	KindSerializationError
	KindIOError
	KindInternal
	KindNoSinksAvailable
	KindUnsupportedConversion
	KindQuotaExceeded
	KindAllRoutesFailed
	KindModelNotSupported
	KindInvalidRoutingConfig
	KindInvalidRequest
	KindServiceUnavailable
	KindInvalidConfig
)

// Error is the router core's single error type, carrying a Kind and a short
// human message. Rejected and Redirect carry extra fields consumed by the
// edge.
type Error struct {
	Kind    Kind
	Message string

	// Rejected
	Status int
	// Redirect
	Location string
	// UnsupportedConversion
	From, To Protocol
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("router error: %d", e.Kind)
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func ErrUserNotFound(id string) error     { return newErr(KindUserNotFound, "user not found: %s", id) }
func ErrAPIKeyNotFound() error            { return newErr(KindAPIKeyNotFound, "API key not found") }
func ErrInvalidAPIKey() error             { return newErr(KindInvalidAPIKey, "invalid API key") }
func ErrProviderNotFound(id string) error { return newErr(KindProviderNotFound, "provider not found: %s", id) }
func ErrModelNotFound(id string) error    { return newErr(KindModelNotFound, "model not found: %s", id) }
func ErrUnauthorized(msg string) error    { return newErr(KindUnauthorized, "%s", msg) }

func ErrRejected(status int, msg string) error {
	return &Error{Kind: KindRejected, Status: status, Message: msg}
}

func ErrRedirect(location string) error {
	return &Error{Kind: KindRedirect, Location: location, Message: "redirect to " + location}
}

func ErrState(msg string) error          { return newErr(KindStateError, "%s", msg) }
func ErrPlugin(msg string) error         { return newErr(KindPluginError, "%s", msg) }
func ErrSerialization(msg string) error  { return newErr(KindSerializationError, "%s", msg) }
func ErrIO(msg string) error             { return newErr(KindIOError, "%s", msg) }
func ErrInternal(msg string) error       { return newErr(KindInternal, "%s", msg) }

// ErrNoSinksAvailable is returned by the planner when no candidate connector
// remains after eligibility filtering or strategy evaluation.
func ErrNoSinksAvailable() error {
	return newErr(KindNoSinksAvailable, "No sinks available for routing")
}

func ErrUnsupportedConversion(from, to Protocol) error {
	return &Error{
		Kind:    KindUnsupportedConversion,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("Protocol conversion not supported: %s to %s", from, to),
	}
}

func ErrQuotaExceeded(msg string) error          { return newErr(KindQuotaExceeded, "%s", msg) }
func ErrAllRoutesFailed(msg string) error        { return newErr(KindAllRoutesFailed, "%s", msg) }
func ErrModelNotSupported(model string) error    { return newErr(KindModelNotSupported, "model not supported: %s", model) }
func ErrInvalidRoutingConfig(msg string) error   { return newErr(KindInvalidRoutingConfig, "%s", msg) }
func ErrInvalidRequest(msg string) error         { return newErr(KindInvalidRequest, "%s", msg) }
func ErrServiceUnavailable(msg string) error     { return newErr(KindServiceUnavailable, "%s", msg) }
func ErrInvalidConfig(msg string) error          { return newErr(KindInvalidConfig, "%s", msg) }

// StatusFor maps a router-core error to an HTTP status code per the error
// handling design. Non-router errors map to 500.
func StatusFor(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindNoSinksAvailable, KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindInvalidRequest, KindInvalidRoutingConfig, KindUnsupportedConversion:
		return http.StatusBadRequest
	case KindModelNotFound, KindProviderNotFound, KindModelNotSupported:
		return http.StatusNotFound
	case KindAPIKeyNotFound, KindInvalidAPIKey:
		return http.StatusUnauthorized
	case KindUnauthorized:
		return http.StatusForbidden
	case KindRejected:
		return e.Status
	case KindRedirect:
		return http.StatusTemporaryRedirect
	default:
		return http.StatusInternalServerError
	}
}

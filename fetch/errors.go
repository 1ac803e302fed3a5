package fetch

import (
	"errors"
	"fmt"
	"time"
)

// ClientError represents the categories of fetch failures
type ClientError interface {
	error
	Type() ErrorType
}

// ErrorType defines the category of client error
type ErrorType string

const (
	NetworkError     ErrorType = "network"
	TimeoutError     ErrorType = "timeout"
	HTTPError        ErrorType = "http"
	ValidationError  ErrorType = "validation"
	InterceptorError ErrorType = "interceptor"
	ExhaustedError   ErrorType = "exhausted"
	ProxyError       ErrorType = "proxy"
)

// networkError represents network-related errors
type networkError struct {
	message string
	wrapped error
}

func (e *networkError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("network error: %s: %v", e.message, e.wrapped)
	}
	return fmt.Sprintf("network error: %s", e.message)
}

func (e *networkError) Type() ErrorType {
	return NetworkError
}

func (e *networkError) Unwrap() error {
	return e.wrapped
}

// timeoutError represents an attempt that ran out of time
type timeoutError struct {
	message string
	timeout time.Duration
	wrapped error
}

func (e *timeoutError) Error() string {
	if e.timeout > 0 {
		return fmt.Sprintf("timeout error: %s (timeout: %v)", e.message, e.timeout)
	}
	return fmt.Sprintf("timeout error: %s", e.message)
}

func (e *timeoutError) Type() ErrorType {
	return TimeoutError
}

func (e *timeoutError) Unwrap() error {
	return e.wrapped
}

// StatusError is a response whose status is neither 2xx nor 404.
type StatusError struct {
	statusCode int
	statusText string
	server     string
}

// Error renders the status line and the Server header of the response.
func (e *StatusError) Error() string {
	return fmt.Sprintf(`STATUS CODE = "%d", STATUS TEXT = "%s", DETAILS = "%s"`, e.statusCode, e.statusText, e.server)
}

func (e *StatusError) Type() ErrorType {
	return HTTPError
}

func (e *StatusError) StatusCode() int {
	return e.statusCode
}

func (e *StatusError) StatusText() string {
	return e.statusText
}

// Server returns the Server response header, empty when absent.
func (e *StatusError) Server() string {
	return e.server
}

// exhaustedError is returned once every attempt (and every proxy) failed.
type exhaustedError struct {
	message string
	last    error
}

func (e *exhaustedError) Error() string {
	return e.message
}

func (e *exhaustedError) Type() ErrorType {
	return ExhaustedError
}

// Unwrap returns the failure of the final attempt.
func (e *exhaustedError) Unwrap() error {
	return e.last
}

// validationError represents request validation errors
type validationError struct {
	message string
	field   string
}

func (e *validationError) Error() string {
	if e.field != "" {
		return fmt.Sprintf("validation error: %s (field: %s)", e.message, e.field)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

func (e *validationError) Type() ErrorType {
	return ValidationError
}

// interceptorError represents interceptor-related errors
type interceptorError struct {
	message string
	wrapped error
	stage   string
}

func (e *interceptorError) Error() string {
	return fmt.Sprintf("interceptor error: %s (stage: %s): %v", e.message, e.stage, e.wrapped)
}

func (e *interceptorError) Type() ErrorType {
	return InterceptorError
}

func (e *interceptorError) Unwrap() error {
	return e.wrapped
}

// proxyError is raised when no transport can be built for a proxy.
type proxyError struct {
	proxy   string
	wrapped error
}

func (e *proxyError) Error() string {
	return fmt.Sprintf("proxy error: %s: %v", e.proxy, e.wrapped)
}

func (e *proxyError) Type() ErrorType {
	return ProxyError
}

func (e *proxyError) Unwrap() error {
	return e.wrapped
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, wrapped error) ClientError {
	return &networkError{
		message: message,
		wrapped: wrapped,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, timeout time.Duration, wrapped error) ClientError {
	return &timeoutError{
		message: message,
		timeout: timeout,
		wrapped: wrapped,
	}
}

// NewStatusError creates the failure for an unsuccessful status
func NewStatusError(statusCode int, statusText, server string) *StatusError {
	return &StatusError{
		statusCode: statusCode,
		statusText: statusText,
		server:     server,
	}
}

// NewExhaustedError creates the terminal error wrapping the last failure
func NewExhaustedError(message string, last error) ClientError {
	return &exhaustedError{
		message: message,
		last:    last,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message, field string) ClientError {
	return &validationError{
		message: message,
		field:   field,
	}
}

// NewInterceptorError creates a new interceptor error
func NewInterceptorError(message, stage string, wrapped error) ClientError {
	return &interceptorError{
		message: message,
		wrapped: wrapped,
		stage:   stage,
	}
}

// NewProxyError creates a new proxy error for the redacted proxy address
func NewProxyError(proxy string, wrapped error) ClientError {
	return &proxyError{
		proxy:   proxy,
		wrapped: wrapped,
	}
}

// IsErrorType reports whether the outermost ClientError in err's chain is of
// the given type. Use errors.As to inspect wrapped failures.
func IsErrorType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	var clientErr ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type() == errorType
	}
	return false
}

// IsHTTPStatusError checks if err (or its cause) is a StatusError with the given code
func IsHTTPStatusError(err error, statusCode int) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode() == statusCode
	}
	return false
}

// IsSuccessStatus checks if a status code represents success (2xx)
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// errorType returns the metric label for err.
func errorType(err error) string {
	var clientErr ClientError
	if errors.As(err, &clientErr) {
		return string(clientErr.Type())
	}
	return "error"
}

package model

import (
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
)

// Error categories of the relay taxonomy. Every failure crossing the
// response boundary is classified into exactly one of these.
const (
	ErrClient            = "invalid_request_error"
	ErrAuth              = "authentication_error"
	ErrNoCredential      = "no_credential_available"
	ErrUpstreamTransient = "upstream_transient_error"
	ErrUpstreamPermanent = "upstream_error"
	ErrTokenRefresh      = "token_refresh_failed"
	ErrProtocol          = "protocol_error"
	ErrCancelled         = "request_cancelled"
	ErrInternal          = "internal_error"
)

// Error is the wire-facing error payload rendered into whichever schema the
// endpoint speaks.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"`
}

// ErrorWithStatusCode couples the wire error with the HTTP status it should
// be rendered as and the underlying cause for logging.
type ErrorWithStatusCode struct {
	Error
	StatusCode int   `json:"-"`
	RawError   error `json:"-"`
}

// NewError builds a classified relay error.
func NewError(errType string, statusCode int, err error) *ErrorWithStatusCode {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ErrorWithStatusCode{
		Error:      Error{Type: errType, Message: message},
		StatusCode: statusCode,
		RawError:   err,
	}
}

// NewClientError reports a malformed request as HTTP 400.
func NewClientError(err error) *ErrorWithStatusCode {
	return NewError(ErrClient, http.StatusBadRequest, err)
}

// NewAuthError reports a missing or invalid API key as HTTP 401.
func NewAuthError(message string) *ErrorWithStatusCode {
	return NewError(ErrAuth, http.StatusUnauthorized, errors.New(message))
}

// NewNoCredentialError reports selector exhaustion as HTTP 503.
func NewNoCredentialError() *ErrorWithStatusCode {
	return NewError(ErrNoCredential, http.StatusServiceUnavailable, errors.New("No available accounts"))
}

// NewUpstreamError classifies an upstream HTTP failure by its status code.
func NewUpstreamError(statusCode int, message string) *ErrorWithStatusCode {
	errType := ErrUpstreamPermanent
	if statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError {
		errType = ErrUpstreamTransient
	}
	return &ErrorWithStatusCode{
		Error:      Error{Type: errType, Message: message},
		StatusCode: statusCode,
		RawError:   errors.Errorf("upstream status %d: %s", statusCode, message),
	}
}

// NewProtocolError reports an undecodable upstream payload as HTTP 502.
func NewProtocolError(err error) *ErrorWithStatusCode {
	return NewError(ErrProtocol, http.StatusBadGateway, err)
}

// NewInternalError reports an unexpected gateway-side failure as HTTP 500.
func NewInternalError(err error) *ErrorWithStatusCode {
	return NewError(ErrInternal, http.StatusInternalServerError, err)
}

// IsQuotaError reports whether the failure indicates exhausted upstream
// quota: HTTP 429 or a quota-flavoured error message.
func IsQuotaError(statusCode int, message string) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	lowered := strings.ToLower(message)
	for _, token := range []string{"quota", "rate limit", "rate_limit", "exceeded", "exhausted"} {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

// IsAuthStatus reports whether the upstream rejected our credential.
func IsAuthStatus(statusCode int) bool {
	return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
}

// IsRetryableStatus reports whether a different credential may succeed.
func IsRetryableStatus(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if IsAuthStatus(statusCode) {
		return true
	}
	return statusCode >= http.StatusInternalServerError
}

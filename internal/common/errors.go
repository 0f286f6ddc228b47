package common

import "errors"

// Error codes shared across the payment pipeline.
const (
	CodeConfigError           = "CONFIG_ERROR"
	CodeInvalidSignature      = "INVALID_SIGNATURE"
	CodeMalformedNotification = "MALFORMED_NOTIFICATION"
	CodeMissingReference      = "MISSING_REFERENCE"
	CodeTxNotFound            = "TX_NOT_FOUND"
	CodeGatewayRejected       = "GATEWAY_REJECTED"
	CodeGatewayUnreachable    = "GATEWAY_UNREACHABLE"
	CodeGatewayMalformed      = "GATEWAY_MALFORMED"
	CodeTerminalConflict      = "TERMINAL_CONFLICT"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// AsAppError extracts an AppError from the chain when present.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

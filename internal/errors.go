package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"
	ErrorTypeInternal   ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal   ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidCurrency  ErrorCode = "INVALID_CURRENCY"
	ErrCodeInvalidPayload   ErrorCode = "INVALID_PAYLOAD"

	ErrCodeBillNotFound       ErrorCode = "BILL_NOT_FOUND"
	ErrCodeDepartmentNotFound ErrorCode = "DEPARTMENT_NOT_FOUND"
	ErrCodeSystemNotFound     ErrorCode = "SYSTEM_NOT_FOUND"
	ErrCodeRateNotFound       ErrorCode = "EXCHANGE_RATE_NOT_FOUND"
	ErrCodeRunNotFound        ErrorCode = "RECONCILIATION_RUN_NOT_FOUND"

	ErrCodeNoControlNumber      ErrorCode = "NO_CONTROL_NUMBER"
	ErrCodeBillAlreadyPaid      ErrorCode = "BILL_ALREADY_PAID"
	ErrCodeBillAlreadyCancelled ErrorCode = "BILL_ALREADY_CANCELLED"
	ErrCodeSubmissionInFlight   ErrorCode = "SUBMISSION_IN_FLIGHT"
	ErrCodeRunClosed            ErrorCode = "RECONCILIATION_RUN_CLOSED"
	ErrCodeRunNotProcessed      ErrorCode = "RECONCILIATION_RUN_NOT_PROCESSED"

	ErrCodeGatewayRejected    ErrorCode = "GATEWAY_REJECTED"
	ErrCodeGatewayUnreachable ErrorCode = "GATEWAY_UNREACHABLE"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewExternalError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadGateway,
	}
}

var (
	ErrBillNotFound       = NewNotFoundError("Bill not found", ErrCodeBillNotFound)
	ErrDepartmentNotFound = NewNotFoundError("Billing department not found", ErrCodeDepartmentNotFound)
	ErrSystemNotFound     = NewNotFoundError("Integrating system not found", ErrCodeSystemNotFound)
	ErrRunNotFound        = NewNotFoundError("Reconciliation run not found", ErrCodeRunNotFound)

	ErrNoControlNumber      = NewValidationError("bill has no control number", ErrCodeNoControlNumber)
	ErrBillAlreadyPaid      = NewConflictError("bill has already been paid", ErrCodeBillAlreadyPaid)
	ErrBillAlreadyCancelled = NewConflictError("bill cancellation already requested", ErrCodeBillAlreadyCancelled)
	ErrSubmissionInFlight   = NewConflictError("an identical submission is still being processed", ErrCodeSubmissionInFlight)
	ErrRunClosed            = NewConflictError("reconciliation run is closed", ErrCodeRunClosed)
	ErrRunNotProcessed      = NewConflictError("reconciliation run has not been processed", ErrCodeRunNotProcessed)
)

func IsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}

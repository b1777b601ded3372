package model

import "time"

// Error codes sent in ErrorResponse bodies.
const (
	ErrorCodeValidation         = "VALIDATION_ERROR"
	ErrorCodeEmailAlreadyExists = "EMAIL_ALREADY_EXISTS"
	ErrorCodeUserNotFound       = "USER_NOT_FOUND"
	ErrorCodeUnauthorized       = "UNAUTHORIZED"
	ErrorCodeInternal           = "INTERNAL_ERROR"
)

// Client-facing error messages.
const (
	InvalidRequestMessage     = "Invalid request data"
	EmailAlreadyExistsMessage = "An account with this email already exists"
	UserNotFoundMessage       = "User profile not found"

	// InternalErrorMessage is the only message clients see for infrastructure failures.
	InternalErrorMessage = "An unexpected error occurred. Please try again later."
)

// ErrorResponse is the standard error body for every API error.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a single API error.
type ErrorDetail struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
	Details   []FieldError `json:"details,omitempty"`
}

// FieldError points at one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewErrorResponse creates an error body stamped with the current time.
func NewErrorResponse(code, message string, details ...FieldError) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Timestamp: time.Now().UTC(),
			Details:   details,
		},
	}
}

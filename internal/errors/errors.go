package errors

import (
	"errors"
)

// UserError represents an error with both technical and user-friendly messages
type UserError struct {
	Err     error
	UserMsg string
}

func (e *UserError) Error() string {
	return e.Err.Error()
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// Predefined errors
var (
	ErrInvalidFormat = &UserError{
		Err:     errors.New("invalid phone number format"),
		UserMsg: "⚠️ Invalid phone number format.",
	}

	ErrAlreadyExists = &UserError{
		Err:     errors.New("phone number already in the list"),
		UserMsg: "⚠️ This phone number is already in the list.",
	}

	ErrNotFound = &UserError{
		Err:     errors.New("phone number not found"),
		UserMsg: "⚠️ This phone number is not in the list.",
	}

	ErrInvalidDuration = &UserError{
		Err:     errors.New("invalid duration token"),
		UserMsg: "⚠️ Invalid duration. Use digits plus one of s, m, h, d, w, M, Y (e.g. 12h), up to 100 years.",
	}

	ErrExternalProcess = &UserError{
		Err:     errors.New("external process failed"),
		UserMsg: "⚠️ The script exited with an error.",
	}
)

// Wrap wraps a technical error with a user message
func Wrap(err error, userMsg string) *UserError {
	return &UserError{
		Err:     err,
		UserMsg: userMsg,
	}
}

// GetUserMessage extracts user-friendly message from error
func GetUserMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.UserMsg
	}
	// Default message for unexpected errors
	return "An unexpected error occurred. Please try again later."
}

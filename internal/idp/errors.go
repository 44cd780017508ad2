package idp

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates provider failure codes surfaced to the identity layer.
type ErrorCode string

const (
	CodeInvalidEmail        ErrorCode = "invalid-email"
	CodeUserNotFound        ErrorCode = "user-not-found"
	CodeWrongPassword       ErrorCode = "wrong-password"
	CodeInvalidCredential   ErrorCode = "invalid-credential"
	CodeEmailAlreadyInUse   ErrorCode = "email-already-in-use"
	CodeWeakPassword        ErrorCode = "weak-password"
	CodePopupBlocked        ErrorCode = "popup-blocked"
	CodePopupClosed         ErrorCode = "popup-closed-by-user"
	CodeOperationNotAllowed ErrorCode = "operation-not-allowed"
	CodeTooManyRequests     ErrorCode = "too-many-requests"
)

// ProviderError wraps a provider failure with its wire-level code.
type ProviderError struct {
	Code  ErrorCode
	cause error
}

// NewProviderError constructs a coded provider error.
func NewProviderError(code ErrorCode, cause error) *ProviderError {
	return &ProviderError{Code: code, cause: cause}
}

func (e *ProviderError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("idp: %s", e.Code)
	}
	return fmt.Sprintf("idp: %s: %v", e.Code, e.cause)
}

func (e *ProviderError) Unwrap() error {
	return e.cause
}

// CodeOf extracts the provider code from an error chain. Errors that did not
// originate from the provider report an empty code.
func CodeOf(err error) ErrorCode {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Code
	}
	return ""
}

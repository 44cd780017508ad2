package idp

import "fmt"

var errorMessages = map[ErrorCode]string{
	CodeInvalidEmail:        "The email address is not valid.",
	CodeUserNotFound:        "No account exists for this email address.",
	CodeWrongPassword:       "The password is incorrect.",
	CodeInvalidCredential:   "The email address or password is incorrect.",
	CodeEmailAlreadyInUse:   "This email address is already in use.",
	CodeWeakPassword:        "The password is too weak. Use at least 6 characters.",
	CodePopupBlocked:        "The sign-in popup was blocked by the browser.",
	CodeOperationNotAllowed: "This sign-in method is not enabled.",
	CodeTooManyRequests:     "Too many attempts. Please wait and try again.",
}

// TranslateCode maps a provider error code to a user-facing message. Unknown
// codes fall back to a generic message carrying the raw code.
func TranslateCode(code ErrorCode) string {
	if message, ok := errorMessages[code]; ok {
		return message
	}
	return fmt.Sprintf("Authentication error: %s", code)
}

// TranslateError resolves the code carried by err and translates it.
func TranslateError(err error) string {
	if err == nil {
		return ""
	}
	code := CodeOf(err)
	if code == "" {
		return fmt.Sprintf("Authentication error: %v", err)
	}
	return TranslateCode(code)
}

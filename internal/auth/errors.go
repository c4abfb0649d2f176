package auth

import (
	"errors"
	"strings"
)

var ErrUnavailable = errors.New("auth service unavailable")

// Error carries a provider error code and the catalog key of its user-facing message.
type Error struct {
	Code       string
	MessageKey string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return "auth: " + e.MessageKey
	}
	return "auth: " + e.Code
}

// MessageKey returns the catalog key to show for err.
func MessageKey(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.MessageKey != "" {
		return ae.MessageKey
	}
	return "auth.unavailable"
}

// codeError maps an identity-toolkit error code to an *Error.
// Codes can carry a suffix, e.g. "WEAK_PASSWORD : Password should be at least 6 characters".
func codeError(code string) *Error {
	base := strings.TrimSpace(code)
	if i := strings.IndexAny(base, " :"); i > 0 {
		base = base[:i]
	}
	key := "auth.unavailable"
	switch base {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED":
		key = "auth.invalid_credentials"
	case "EMAIL_EXISTS":
		key = "auth.email_exists"
	case "WEAK_PASSWORD":
		key = "auth.weak_password"
	case "INVALID_EMAIL", "MISSING_EMAIL":
		key = "auth.invalid_email"
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		key = "auth.too_many_attempts"
	case "INVALID_IDP_RESPONSE", "OPERATION_NOT_ALLOWED", "FEDERATED_USER_ID_ALREADY_LINKED":
		key = "auth.provider_failed"
	}
	return &Error{Code: base, MessageKey: key}
}

package auth

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
)

const minPasswordLength = 8

// ValidateRegistration checks the registration input. Password policy:
// at least 8 characters with an upper-case letter, a lower-case letter
// and a digit.
func ValidateRegistration(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: malformed email", ErrValidation)
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return fmt.Errorf("%w: password needs an upper-case letter, a lower-case letter and a digit", ErrValidation)
	}
	return nil
}

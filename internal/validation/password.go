package validation

import (
	"errors"
	"fmt"

	passwordvalidator "github.com/wagslane/go-password-validator"
)

// PasswordMinEntropyBits rejects short alphabets and repeated patterns
// that a length check alone lets through.
const PasswordMinEntropyBits = 50

// ValidatePassword validates password strength
func ValidatePassword(password string) error {
	if len(password) < 10 {
		return errors.New("password must be at least 10 characters")
	}

	// bcrypt silently truncates anything past 72 bytes
	if len(password) > 72 {
		return errors.New("password must not exceed 72 characters")
	}

	err := passwordvalidator.Validate(password, PasswordMinEntropyBits)
	if err != nil {
		return fmt.Errorf("password is too weak: %w", err)
	}

	return nil
}

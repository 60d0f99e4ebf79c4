package validation

import (
	"errors"
	"regexp"
	"strings"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9_-]*[a-z0-9])?$`)

// reservedUsernames collide with top-level routes.
var reservedUsernames = map[string]bool{
	"account": true,
	"admin":   true,
	"auth":    true,
	"billing": true,
	"health":  true,
	"staff":   true,
	"static":  true,
	"u":       true,
}

func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidateUsername expects an already normalized username.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username is required")
	}
	if len(username) < 2 || len(username) > 32 {
		return errors.New("username must be between 2 and 32 characters")
	}
	if !usernamePattern.MatchString(username) {
		return errors.New("username may only contain lowercase letters, digits, hyphens and underscores")
	}
	if reservedUsernames[username] {
		return errors.New("username is reserved")
	}
	return nil
}

// ValidateDisplayName validates the name shown on a profile page
func ValidateDisplayName(name string) error {
	if len(strings.TrimSpace(name)) > 100 {
		return errors.New("display name is too long (max 100 characters)")
	}
	return nil
}

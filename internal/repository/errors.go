package repository

import (
	"strings"
	"time"
)

// isUniqueViolation works for both SQLite and PostgreSQL.
func isUniqueViolation(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "duplicate key value")
}

// mapUniqueViolation turns a constraint error on accounts or credentials into
// the matching sentinel. Other errors pass through.
func mapUniqueViolation(err error) error {
	if err == nil || !isUniqueViolation(err) {
		return err
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "payment_customer_id"):
		return ErrDuplicateCustomer
	case strings.Contains(errStr, "email"):
		return ErrDuplicateEmail
	default:
		return ErrDuplicateUsername
	}
}

// dbTime stores instants as UTC with second precision so that
// SQLite's text timestamps compare in chronological order.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

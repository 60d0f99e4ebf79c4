package model

import (
	"time"
)

// TokenKind selects one of the two parallel single-use token tables.
type TokenKind string

const (
	TokenKindVerification TokenKind = "verification"
	TokenKindReset        TokenKind = "reset"
)

type Token struct {
	Email     string    `db:"email"`
	Username  string    `db:"username"`
	Token     string    `db:"token"`
	ExpiresAt time.Time `db:"expires_at"`
}

func (t *Token) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

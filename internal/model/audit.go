package model

import "time"

type AuditEntry struct {
	ID        string    `db:"id"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
}

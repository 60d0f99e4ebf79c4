package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/templui/linkpage/internal/model"
)

type AuditRepository interface {
	Insert(ctx context.Context, entry *model.AuditEntry) error
	Recent(ctx context.Context, limit int) ([]model.AuditEntry, error)
}

type auditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Insert(ctx context.Context, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = dbTime(entry.CreatedAt)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, message, created_at) VALUES ($1, $2, $3)`,
		entry.ID, entry.Message, entry.CreatedAt,
	)
	return err
}

// Recent returns the newest entries first.
func (r *auditRepository) Recent(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT * FROM audit_log ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

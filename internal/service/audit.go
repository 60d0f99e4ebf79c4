package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/templui/linkpage/internal/model"
	"github.com/templui/linkpage/internal/repository"
)

// AuditService is the audit sink. Recording never fails the caller.
type AuditService struct {
	auditRepository repository.AuditRepository
	now             func() time.Time
}

func NewAuditService(auditRepository repository.AuditRepository) *AuditService {
	return &AuditService{
		auditRepository: auditRepository,
		now:             time.Now,
	}
}

func (s *AuditService) Record(ctx context.Context, message string) {
	slog.Info("audit", "message", message)

	if s == nil || s.auditRepository == nil {
		return
	}

	err := s.auditRepository.Insert(ctx, &model.AuditEntry{Message: message, CreatedAt: s.now()})
	if err != nil {
		slog.Warn("failed to record audit entry", "error", err, "message", message)
	}
}

func (s *AuditService) Recent(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.auditRepository.Recent(ctx, limit)
}

package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/leasepay/internal/audit/domain"
	"github.com/smallbiznis/leasepay/internal/clock"
	"github.com/smallbiznis/leasepay/internal/partnerpayout/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("partnerpayout.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Get(ctx context.Context, id, partnerID snowflake.ID) (*domain.PartnerPayout, error) {
	if id == 0 || partnerID == 0 {
		return nil, domain.ErrInvalidRequest
	}
	payout, err := s.repo.Find(ctx, s.db, id, partnerID)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, domain.ErrNotFound
	}
	return payout, nil
}

func (s *Service) ApplyStatus(ctx context.Context, id, partnerID snowflake.ID, status domain.Status, event string, note string) error {
	if id == 0 || partnerID == 0 {
		return domain.ErrInvalidRequest
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payout, err := s.repo.FindForUpdate(ctx, tx, id, partnerID)
		if err != nil {
			return err
		}
		if payout == nil {
			return domain.ErrNotFound
		}

		payout.Status = status
		payout.Events = append(payout.Events, domain.Event{
			Status: event,
			Note:   note,
			At:     s.clock.Now(),
		})
		return s.repo.UpdateStatus(ctx, tx, payout)
	})
	if err != nil {
		return err
	}

	s.writeAuditLog(ctx, partnerID, "partner_payout.status_changed", id, map[string]any{
		"status": string(status),
		"event":  event,
		"note":   note,
	})
	return nil
}

func (s *Service) MarkFailed(ctx context.Context, id, partnerID snowflake.ID, note string) error {
	return s.ApplyStatus(ctx, id, partnerID, domain.StatusFailed, string(domain.StatusFailed), note)
}

func (s *Service) writeAuditLog(ctx context.Context, partnerID snowflake.ID, action string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := targetID.String()
	metadata["at"] = s.clock.Now().Format(time.RFC3339)
	if err := s.auditSvc.AuditLog(ctx, partnerID, action, "partner_payout", &target, metadata); err != nil {
		s.log.Warn("failed to write partner payout audit log", zap.String("action", action), zap.Error(err))
	}
}

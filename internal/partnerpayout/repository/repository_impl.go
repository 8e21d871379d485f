package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leasepay/internal/partnerpayout/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id, partnerID snowflake.ID) (*domain.PartnerPayout, error) {
	return r.find(ctx, db, id, partnerID, false)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id, partnerID snowflake.ID) (*domain.PartnerPayout, error) {
	return r.find(ctx, db, id, partnerID, true)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, id, partnerID snowflake.ID, lock bool) (*domain.PartnerPayout, error) {
	var item domain.PartnerPayout
	stmt := db.WithContext(ctx).
		Where("id = ? AND partner_id = ?", id, partnerID)
	// sqlite has no row locks; its writes are serialized anyway.
	if lock && db.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.Take(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, payout *domain.PartnerPayout) error {
	return db.WithContext(ctx).Exec(
		`UPDATE partner_payouts
		 SET status = ?, events = ?, payout_process_id = ?, updated_at = ?
		 WHERE id = ? AND partner_id = ?`,
		payout.Status,
		payout.Events,
		payout.PayoutProcessID,
		time.Now().UTC(),
		payout.ID,
		payout.PartnerID,
	).Error
}

func (r *repo) LinkProcess(ctx context.Context, db *gorm.DB, id, partnerID, processID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE partner_payouts
		 SET payout_process_id = ?, updated_at = ?
		 WHERE id = ? AND partner_id = ?`,
		processID,
		time.Now().UTC(),
		id,
		partnerID,
	).Error
}

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, process *domain.PayoutProcess) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payout_processes (
			id, partner_id, partner_payout_id, payout_ids, payment_ids,
			credit_transfer_info, external_status, status,
			group_header_msg_id, payment_info_id, sent_file_status,
			request_execute_date, booked_at,
			total_booked, total_reject, total_transfer,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		process.ID,
		process.PartnerID,
		process.PartnerPayoutID,
		process.PayoutIDs,
		process.PaymentIDs,
		process.CreditTransferInfo,
		process.ExternalStatus,
		process.Status,
		process.GroupHeaderMsgID,
		process.PaymentInfoID,
		process.SentFileStatus,
		process.RequestExecuteDate,
		process.BookedAt,
		process.TotalBooked,
		process.TotalReject,
		process.TotalTransfer,
		process.CreatedAt,
		process.UpdatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id, partnerID snowflake.ID) (*domain.PayoutProcess, error) {
	return r.find(ctx, db, id, partnerID, false)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id, partnerID snowflake.ID) (*domain.PayoutProcess, error) {
	return r.find(ctx, db, id, partnerID, true)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, id, partnerID snowflake.ID, lock bool) (*domain.PayoutProcess, error) {
	var item domain.PayoutProcess
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

func (r *repo) Save(ctx context.Context, db *gorm.DB, process *domain.PayoutProcess) error {
	process.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`UPDATE payout_processes
		 SET credit_transfer_info = ?, external_status = ?, status = ?,
		     sent_file_status = ?, booked_at = ?,
		     total_booked = ?, total_reject = ?, total_transfer = ?,
		     updated_at = ?
		 WHERE id = ? AND partner_id = ?`,
		process.CreditTransferInfo,
		process.ExternalStatus,
		process.Status,
		process.SentFileStatus,
		process.BookedAt,
		process.TotalBooked,
		process.TotalReject,
		process.TotalTransfer,
		process.UpdatedAt,
		process.ID,
		process.PartnerID,
	).Error
}

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leasepay/internal/invoicepayment/domain"
	payoutprocessdomain "github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) BuildCreditTransferData(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) ([]payoutprocessdomain.CreditTransferInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []domain.InvoicePayment
	err := db.WithContext(ctx).
		Where("partner_id = ? AND id IN ?", partnerID, ids).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	data := make([]payoutprocessdomain.CreditTransferInfo, 0, len(rows))
	for _, row := range rows {
		if row.DestinationAccount == "" || row.Amount <= 0 {
			continue
		}
		data = append(data, payoutprocessdomain.CreditTransferInfo{
			RefID:              row.ID,
			Amount:             row.Amount,
			Currency:           row.Currency,
			DestinationAccount: row.DestinationAccount,
		})
	}
	return data, nil
}

func (r *repo) MarkInTransit(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE invoice_payments
		 SET refund_status = ?, sent_to_nets = ?, updated_at = ?
		 WHERE partner_id = ? AND id IN ?`,
		domain.RefundStatusInProgress,
		true,
		time.Now().UTC(),
		partnerID,
		ids,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) BulkSetRefundStatus(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID, from, to domain.RefundStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE invoice_payments
		 SET refund_status = ?, updated_at = ?
		 WHERE partner_id = ? AND id IN ? AND refund_status = ?`,
		to,
		time.Now().UTC(),
		partnerID,
		ids,
		from,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ApplyCreditTransferStatus(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, entries []payoutprocessdomain.CreditTransferInfo) (int64, error) {
	var updated int64
	now := time.Now().UTC()
	for _, entry := range entries {
		var target domain.RefundStatus
		switch entry.Status {
		case payoutprocessdomain.TransferStatusBooked:
			target = domain.RefundStatusCompleted
		case payoutprocessdomain.TransferStatusRejected:
			target = domain.RefundStatusFailed
		default:
			continue
		}
		res := db.WithContext(ctx).Exec(
			`UPDATE invoice_payments
			 SET refund_status = ?, updated_at = ?
			 WHERE partner_id = ? AND id = ? AND refund_status <> ?`,
			target,
			now,
			partnerID,
			entry.RefID,
			target,
		)
		if res.Error != nil {
			return updated, res.Error
		}
		updated += res.RowsAffected
	}
	return updated, nil
}

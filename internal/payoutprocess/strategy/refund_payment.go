package strategy

import (
	"context"

	"github.com/bwmarrin/snowflake"
	invoicepaymentdomain "github.com/smallbiznis/leasepay/internal/invoicepayment/domain"
	partnerpayoutdomain "github.com/smallbiznis/leasepay/internal/partnerpayout/domain"
	"github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"gorm.io/gorm"
)

type refundPaymentStrategy struct {
	repo invoicepaymentdomain.Repository
}

// NewRefundPaymentStrategy settles tenant refund batches.
func NewRefundPaymentStrategy(repo invoicepaymentdomain.Repository) Strategy {
	return &refundPaymentStrategy{repo: repo}
}

func (s *refundPaymentStrategy) Type() partnerpayoutdomain.Type {
	return partnerpayoutdomain.TypeRefundPayment
}

func (s *refundPaymentStrategy) TargetType() string { return "invoice_payment" }

func (s *refundPaymentStrategy) BuildTransferData(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) ([]domain.CreditTransferInfo, error) {
	return s.repo.BuildCreditTransferData(ctx, db, partnerID, ids)
}

func (s *refundPaymentStrategy) MarkInTransit(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) (int64, error) {
	return s.repo.MarkInTransit(ctx, db, partnerID, ids)
}

func (s *refundPaymentStrategy) ApproveSigned(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) (int64, error) {
	return s.repo.BulkSetRefundStatus(ctx, db, partnerID, ids, invoicepaymentdomain.RefundStatusWaitingForSignature, invoicepaymentdomain.RefundStatusApproved)
}

func (s *refundPaymentStrategy) ApplyLeafStatus(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, entries []domain.CreditTransferInfo) (int64, error) {
	return s.repo.ApplyCreditTransferStatus(ctx, db, partnerID, entries)
}

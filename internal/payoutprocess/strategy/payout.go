package strategy

import (
	"context"

	"github.com/bwmarrin/snowflake"
	partnerpayoutdomain "github.com/smallbiznis/leasepay/internal/partnerpayout/domain"
	payoutdomain "github.com/smallbiznis/leasepay/internal/payout/domain"
	"github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"gorm.io/gorm"
)

type payoutStrategy struct {
	repo payoutdomain.Repository
}

// NewPayoutStrategy settles landlord payout batches.
func NewPayoutStrategy(repo payoutdomain.Repository) Strategy {
	return &payoutStrategy{repo: repo}
}

func (s *payoutStrategy) Type() partnerpayoutdomain.Type { return partnerpayoutdomain.TypePayout }

func (s *payoutStrategy) TargetType() string { return "payout" }

func (s *payoutStrategy) BuildTransferData(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) ([]domain.CreditTransferInfo, error) {
	return s.repo.BuildCreditTransferData(ctx, db, partnerID, ids)
}

func (s *payoutStrategy) MarkInTransit(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) (int64, error) {
	return s.repo.MarkInTransit(ctx, db, partnerID, ids)
}

func (s *payoutStrategy) ApproveSigned(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) (int64, error) {
	return s.repo.BulkSetStatus(ctx, db, partnerID, ids, payoutdomain.StatusWaitingForSignature, payoutdomain.StatusApproved)
}

func (s *payoutStrategy) ApplyLeafStatus(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, entries []domain.CreditTransferInfo) (int64, error) {
	return s.repo.ApplyCreditTransferStatus(ctx, db, partnerID, entries)
}

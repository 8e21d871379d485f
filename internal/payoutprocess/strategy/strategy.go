package strategy

import (
	"context"

	"github.com/bwmarrin/snowflake"
	partnerpayoutdomain "github.com/smallbiznis/leasepay/internal/partnerpayout/domain"
	"github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"gorm.io/gorm"
)

// Strategy binds one settlement type (payout vs refund_payment) to its leaf
// records. It is selected once per partner payout and passed through the
// pipeline, so adding a settlement type is additive.
type Strategy interface {
	Type() partnerpayoutdomain.Type
	// TargetType names the leaf entity for audit entries.
	TargetType() string

	// BuildTransferData turns the covered leaf records into
	// {refId, amount, destinationAccount} triples.
	BuildTransferData(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) ([]domain.CreditTransferInfo, error)
	// MarkInTransit flips the covered leaves to their in-transit status
	// with sent_to_nets set.
	MarkInTransit(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) (int64, error)
	// ApproveSigned bulk-flips leaves from waiting_for_signature to
	// approved, returning how many rows matched.
	ApproveSigned(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) (int64, error)
	// ApplyLeafStatus fans resolved transfer lines out to terminal leaf
	// statuses.
	ApplyLeafStatus(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, entries []domain.CreditTransferInfo) (int64, error)
}

type Registry struct {
	strategies map[partnerpayoutdomain.Type]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	registry := &Registry{strategies: map[partnerpayoutdomain.Type]Strategy{}}
	for _, s := range strategies {
		if s == nil {
			continue
		}
		registry.strategies[s.Type()] = s
	}
	return registry
}

func (r *Registry) For(payoutType partnerpayoutdomain.Type) (Strategy, error) {
	if r == nil {
		return nil, domain.ErrStrategyNotFound
	}
	s, ok := r.strategies[payoutType]
	if !ok {
		return nil, domain.ErrStrategyNotFound
	}
	return s, nil
}

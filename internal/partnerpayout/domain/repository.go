package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, id, partnerID snowflake.ID) (*PartnerPayout, error)
	// FindForUpdate loads the row under a row lock. Must run inside a
	// transaction.
	FindForUpdate(ctx context.Context, db *gorm.DB, id, partnerID snowflake.ID) (*PartnerPayout, error)
	// UpdateStatus persists status, events journal and process link.
	UpdateStatus(ctx context.Context, db *gorm.DB, payout *PartnerPayout) error
	// LinkProcess records the id of the active bank batch.
	LinkProcess(ctx context.Context, db *gorm.DB, id, partnerID, processID snowflake.ID) error
}

package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, process *PayoutProcess) error
	Find(ctx context.Context, db *gorm.DB, id, partnerID snowflake.ID) (*PayoutProcess, error)
	// FindForUpdate loads the row under a row lock. Must run inside a
	// transaction.
	FindForUpdate(ctx context.Context, db *gorm.DB, id, partnerID snowflake.ID) (*PayoutProcess, error)
	// Save persists the mutable reconciliation fields of the batch.
	Save(ctx context.Context, db *gorm.DB, process *PayoutProcess) error
}

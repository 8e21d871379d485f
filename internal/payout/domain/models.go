package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	payoutprocessdomain "github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"gorm.io/gorm"
)

// Status is the settlement-related lifecycle of a landlord payout. The
// record itself is owned by the payout bounded context; this engine only
// transitions these fields through the narrow contract below.
type Status string

const (
	StatusWaitingForSignature Status = "waiting_for_signature"
	StatusApproved            Status = "approved"
	StatusInProgress          Status = "in_progress"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
)

type Payout struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey"`
	PartnerID          snowflake.ID `json:"partner_id" gorm:"not null;index"`
	LandlordID         snowflake.ID `json:"landlord_id"`
	Amount             int64        `json:"amount" gorm:"not null"`
	Currency           string       `json:"currency" gorm:"type:text;not null"`
	DestinationAccount string       `json:"destination_account" gorm:"type:text"`
	Status             Status       `json:"status" gorm:"type:text;not null"`
	SentToNETS         bool         `json:"sent_to_nets" gorm:"column:sent_to_nets;not null"`
	CreatedAt          time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time    `json:"updated_at" gorm:"not null"`
}

func (Payout) TableName() string { return "payouts" }

// Repository is the settlement engine's only write surface onto payout
// records.
type Repository interface {
	// BuildCreditTransferData turns leaf records into credit-transfer
	// triples. Records without a destination account are skipped.
	BuildCreditTransferData(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) ([]payoutprocessdomain.CreditTransferInfo, error)
	// MarkInTransit flips records to in_progress with sent_to_nets set.
	MarkInTransit(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) (int64, error)
	// BulkSetStatus conditionally flips records from one status to
	// another and reports how many matched.
	BulkSetStatus(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID, from, to Status) (int64, error)
	// ApplyCreditTransferStatus maps resolved transfer lines onto
	// terminal payout statuses. Idempotent on repeated identical input.
	ApplyCreditTransferStatus(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, entries []payoutprocessdomain.CreditTransferInfo) (int64, error)
}

var ErrNotFound = errors.New("payout_not_found")

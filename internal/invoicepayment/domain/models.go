package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	payoutprocessdomain "github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"gorm.io/gorm"
)

// RefundStatus mirrors the payout lifecycle for the refund flavour of a
// tenant invoice payment.
type RefundStatus string

const (
	RefundStatusWaitingForSignature RefundStatus = "waiting_for_signature"
	RefundStatusApproved            RefundStatus = "approved"
	RefundStatusInProgress          RefundStatus = "in_progress"
	RefundStatusCompleted           RefundStatus = "completed"
	RefundStatusFailed              RefundStatus = "failed"
)

type InvoicePayment struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey"`
	PartnerID          snowflake.ID `json:"partner_id" gorm:"not null;index"`
	InvoiceID          snowflake.ID `json:"invoice_id"`
	TenantID           snowflake.ID `json:"tenant_id"`
	Amount             int64        `json:"amount" gorm:"not null"`
	Currency           string       `json:"currency" gorm:"type:text;not null"`
	DestinationAccount string       `json:"destination_account" gorm:"type:text"`
	RefundStatus       RefundStatus `json:"refund_status" gorm:"type:text;not null"`
	SentToNETS         bool         `json:"sent_to_nets" gorm:"column:sent_to_nets;not null"`
	CreatedAt          time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time    `json:"updated_at" gorm:"not null"`
}

func (InvoicePayment) TableName() string { return "invoice_payments" }

// Repository is the settlement engine's only write surface onto refund
// payment records.
type Repository interface {
	BuildCreditTransferData(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) ([]payoutprocessdomain.CreditTransferInfo, error)
	MarkInTransit(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID) (int64, error)
	BulkSetRefundStatus(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, ids []snowflake.ID, from, to RefundStatus) (int64, error)
	ApplyCreditTransferStatus(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, entries []payoutprocessdomain.CreditTransferInfo) (int64, error)
}

var ErrNotFound = errors.New("invoice_payment_not_found")

package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	partnerpayoutdomain "github.com/smallbiznis/leasepay/internal/partnerpayout/domain"
)

// Status is the derived domain status of a bank batch.
type Status string

const (
	StatusNew                Status = "new"
	StatusValidated          Status = "validated"
	StatusAccepted           Status = "accepted"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusError              Status = "error"
	StatusAsiceApproved      Status = "asice_approved"
)

// Raw NETS codes reported by the rail. Stored verbatim in ExternalStatus;
// never mixed into the derived Status column.
const (
	ExternalReceived          = "ACTC"
	ExternalAccepted          = "ACCP"
	ExternalRejected          = "RJCT"
	ExternalPartiallyAccepted = "PART"
	ExternalAsiceOK           = "ASICE_OK"
	// ExternalCompleted is the batch-completion marker set by the upstream
	// file-processing pipeline once every line has been reported.
	ExternalCompleted = "completed"
)

// Journal event codes pushed onto the partner payout when a batch status
// cascades upward.
const (
	EventNetsReceived          = "nets_received"
	EventNetsAccepted          = "nets_accepted"
	EventNetsRejected          = "nets_rejected"
	EventNetsPartiallyAccepted = "nets_partially_accepted"
	EventAsiceApproved         = "asice_approved"
)

// Per-line transfer statuses reported by the bank.
const (
	TransferStatusBooked   = "booked"
	TransferStatusRejected = "RJCT"
)

// CreditTransferInfo is one money transfer within a bank batch. RefID points
// at the leaf Payout or InvoicePayment the transfer settles.
type CreditTransferInfo struct {
	RefID              snowflake.ID `json:"ref_id"`
	Amount             int64        `json:"amount"`
	Currency           string       `json:"currency,omitempty"`
	DestinationAccount string       `json:"destination_account"`
	Status             string       `json:"status"`
}

// Resolved reports whether the bank has given this transfer a terminal
// answer.
func (c CreditTransferInfo) Resolved() bool {
	return c.Status == TransferStatusBooked || c.Status == TransferStatusRejected
}

type CreditTransferList []CreditTransferInfo

func (l CreditTransferList) Value() (driver.Value, error) {
	if l == nil {
		l = CreditTransferList{}
	}
	return json.Marshal(l)
}

func (l *CreditTransferList) Scan(value any) error {
	switch typed := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(typed) == 0 {
			return nil
		}
		return json.Unmarshal(typed, l)
	case string:
		if typed == "" {
			return nil
		}
		return json.Unmarshal([]byte(typed), l)
	default:
		return errors.New("unsupported json column type")
	}
}

// PayoutProcess is one credit-transfer batch submitted to the NETS rail on
// behalf of a partner payout.
type PayoutProcess struct {
	ID              snowflake.ID               `json:"id" gorm:"primaryKey"`
	PartnerID       snowflake.ID               `json:"partner_id" gorm:"not null;index"`
	PartnerPayoutID snowflake.ID               `json:"partner_payout_id" gorm:"not null"`
	PayoutIDs       partnerpayoutdomain.IDList `json:"payout_ids" gorm:"type:jsonb"`
	PaymentIDs      partnerpayoutdomain.IDList `json:"payment_ids" gorm:"type:jsonb"`

	CreditTransferInfo CreditTransferList `json:"credit_transfer_info" gorm:"type:jsonb;not null"`

	// ExternalStatus holds the last raw NETS code reported for the batch.
	// Status is the derived domain value computed from ExternalStatus and
	// the transfer aggregate.
	ExternalStatus string `json:"external_status" gorm:"type:text;not null"`
	Status         Status `json:"status" gorm:"type:text;not null"`

	GroupHeaderMsgID string `json:"group_header_msg_id" gorm:"type:text;not null"`
	PaymentInfoID    string `json:"payment_info_id" gorm:"type:text;not null"`

	SentFileStatus     string     `json:"sent_file_status" gorm:"type:text"`
	RequestExecuteDate *time.Time `json:"request_execute_date"`
	BookedAt           *time.Time `json:"booked_at"`

	// Persisted aggregate of the transfer array, recorded at last write.
	// Cascade decisions compare a fresh recount against these.
	TotalBooked   int `json:"total_booked" gorm:"not null"`
	TotalReject   int `json:"total_reject" gorm:"not null"`
	TotalTransfer int `json:"total_transfer" gorm:"not null"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (PayoutProcess) TableName() string { return "payout_processes" }

// LeafIDs returns whichever id list the batch covers.
func (p *PayoutProcess) LeafIDs() partnerpayoutdomain.IDList {
	if len(p.PaymentIDs) > 0 {
		return p.PaymentIDs
	}
	return p.PayoutIDs
}

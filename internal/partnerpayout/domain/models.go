package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Type distinguishes landlord payout batches from tenant refund batches.
type Type string

const (
	TypePayout        Type = "payout"
	TypeRefundPayment Type = "refund_payment"
)

func ParseType(raw string) (Type, error) {
	switch Type(raw) {
	case TypePayout:
		return TypePayout, nil
	case TypeRefundPayment:
		return TypeRefundPayment, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, raw)
	}
}

// Status is the business-visible lifecycle of a partner payout request.
type Status string

const (
	StatusProcessing          Status = "processing"
	StatusWaitingForSignature Status = "waiting_for_signature"
	StatusApproved            Status = "approved"
	StatusValidated           Status = "validated"
	StatusAccepted            Status = "accepted"
	StatusPartiallyCompleted  Status = "partially_completed"
	StatusCompleted           Status = "completed"
	StatusError               Status = "error"
	StatusFailed              Status = "failed"
	StatusAsiceApproved       Status = "asice_approved"
)

// Event is one append-only entry in the partner payout status journal.
type Event struct {
	Status string    `json:"status"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

type EventList []Event

func (l EventList) Value() (driver.Value, error) {
	if l == nil {
		l = EventList{}
	}
	return json.Marshal(l)
}

func (l *EventList) Scan(value any) error {
	return scanJSON(value, l)
}

// IDList is a JSON-encoded list of snowflake ids.
type IDList []snowflake.ID

func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		l = IDList{}
	}
	return json.Marshal(l)
}

func (l *IDList) Scan(value any) error {
	return scanJSON(value, l)
}

func scanJSON(value any, out any) error {
	switch typed := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(typed) == 0 {
			return nil
		}
		return json.Unmarshal(typed, out)
	case string:
		if typed == "" {
			return nil
		}
		return json.Unmarshal([]byte(typed), out)
	default:
		return errors.New("unsupported json column type")
	}
}

// PartnerPayout is the user-facing aggregate request to move money for a
// batch of payouts or refund payments. It owns the PayoutProcess lifecycle
// but not the leaf records.
type PartnerPayout struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	PartnerID       snowflake.ID  `json:"partner_id" gorm:"not null;index"`
	Type            Type          `json:"type" gorm:"type:text;not null"`
	PayoutIDs       IDList        `json:"payout_ids" gorm:"type:jsonb"`
	PaymentIDs      IDList        `json:"payment_ids" gorm:"type:jsonb"`
	PayoutProcessID *snowflake.ID `json:"payout_process_id"`
	Status          Status        `json:"status" gorm:"type:text;not null"`
	Events          EventList     `json:"events" gorm:"type:jsonb;not null"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time     `json:"updated_at" gorm:"not null"`
}

func (PartnerPayout) TableName() string { return "partner_payouts" }

// LeafIDs returns the id list matching the payout type. Exactly one of the
// two lists is populated.
func (p *PartnerPayout) LeafIDs() IDList {
	if p.Type == TypeRefundPayment {
		return p.PaymentIDs
	}
	return p.PayoutIDs
}

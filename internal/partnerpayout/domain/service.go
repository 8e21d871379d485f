package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Get loads a partner payout scoped to its partner.
	Get(ctx context.Context, id, partnerID snowflake.ID) (*PartnerPayout, error)
	// ApplyStatus sets the aggregate status and appends a journal event in
	// one write. Callers are responsible for only invoking it on a real
	// status change.
	ApplyStatus(ctx context.Context, id, partnerID snowflake.ID, status Status, event string, note string) error
	// MarkFailed records a terminal business failure with an explanatory
	// journal note.
	MarkFailed(ctx context.Context, id, partnerID snowflake.ID, note string) error
}

var (
	ErrNotFound       = errors.New("partner_payout_not_found")
	ErrInvalidType    = errors.New("invalid_partner_payout_type")
	ErrInvalidRequest = errors.New("invalid_partner_payout_request")
)

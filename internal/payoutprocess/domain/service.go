package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	partnerpayoutdomain "github.com/smallbiznis/leasepay/internal/partnerpayout/domain"
)

// TransferUpdate is one per-line bank response: the leaf the transfer
// settles and the raw status the bank reported for it.
type TransferUpdate struct {
	RefID  snowflake.ID `json:"ref_id"`
	Status string       `json:"status"`
}

// UpdateRequest is a callback-shaped mutation of one bank batch. Every field
// besides the correlation ids is optional; an empty patch is rejected.
type UpdateRequest struct {
	PayoutProcessID snowflake.ID
	PartnerID       snowflake.ID
	ExternalStatus  string
	SentFileStatus  string
	Transfers       []TransferUpdate
}

// ApprovalRequest is the approval→processing handoff for a freshly-signed
// partner payout.
type ApprovalRequest struct {
	PartnerPayoutID snowflake.ID
	PartnerID       snowflake.ID
	SigningStatus   string
	SigningMeta     map[string]any
}

// SigningStatusSigned is the only signing outcome that proceeds to batch
// assembly.
const SigningStatusSigned = "signed"

type Service interface {
	// Create assembles exactly one bank batch for an approved partner
	// payout and hands it to the render-and-submit worker. Returns true
	// only if the downstream job was enqueued. An empty transfer-data
	// build is a terminal business outcome, not an error: the partner
	// payout is marked failed and (false, nil) is returned.
	Create(ctx context.Context, partnerID snowflake.ID, payout *partnerpayoutdomain.PartnerPayout) (bool, error)

	// Get loads a batch scoped to its partner.
	Get(ctx context.Context, id, partnerID snowflake.ID) (*PayoutProcess, error)

	// Update applies one callback to a batch, recomputes the aggregate,
	// cascades a real status change to the partner payout and fans
	// resolved line statuses out to the leaf records. Idempotent: a
	// callback that changes nothing writes nothing.
	Update(ctx context.Context, req UpdateRequest) (*PayoutProcess, error)

	// UpdateBatch applies a list of independent update instructions
	// sequentially. Partial success is permitted; it returns true if at
	// least one instruction applied.
	UpdateBatch(ctx context.Context, reqs []UpdateRequest) (bool, error)

	// ApproveAndCreate flips a freshly-signed partner payout to approved,
	// bulk-flips every covered leaf from waiting_for_signature to
	// approved (asserting the matched count), then delegates to Create.
	ApproveAndCreate(ctx context.Context, req ApprovalRequest) (*PayoutProcess, error)
}

var (
	ErrNotFound             = errors.New("payout_process_not_found")
	ErrInvalidRequest       = errors.New("invalid_payout_process_request")
	ErrProcessExists        = errors.New("payout_process_already_exists")
	ErrBatchTooLarge        = errors.New("payout_process_batch_too_large")
	ErrStrategyNotFound     = errors.New("settlement_strategy_not_found")
	ErrInvalidSigningStatus = errors.New("invalid_signing_status")
	ErrLeafCountMismatch    = errors.New("leaf_status_count_mismatch")
	ErrNoTransferData       = errors.New("no_credit_transfer_data")
)

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	payoutprocessdomain "github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"gorm.io/gorm"
)

// RenderSubmitJob is the payload handed to the external worker that renders
// the ISO20022 payment file, signs it and submits it to the NETS rail. It
// carries the full batch snapshot so the worker never reads back.
type RenderSubmitJob struct {
	JobID         string                            `json:"job_id"`
	PartnerID     snowflake.ID                      `json:"partner_id"`
	DebtorAccount string                            `json:"debtor_account"`
	DebtorName    string                            `json:"debtor_name"`
	PayoutProcess payoutprocessdomain.PayoutProcess `json:"payout_process"`
	EnqueuedAt    time.Time                         `json:"enqueued_at"`
}

// Enqueuer hands render-and-submit jobs to the worker queue with
// at-least-once semantics: Stage writes an outbox row inside the caller's
// transaction, Dispatch pushes it onto the queue after commit, and
// RedispatchPending replays rows whose dispatch never happened.
type Enqueuer interface {
	Stage(ctx context.Context, tx *gorm.DB, process *payoutprocessdomain.PayoutProcess) (string, error)
	Dispatch(ctx context.Context, jobID string) error
	RedispatchPending(ctx context.Context, limit int) (int, error)
}

var (
	ErrJobNotFound   = errors.New("render_job_not_found")
	ErrQueueDisabled = errors.New("render_queue_disabled")
)

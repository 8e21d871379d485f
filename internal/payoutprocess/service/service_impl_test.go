package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditrepository "github.com/smallbiznis/leasepay/internal/audit/repository"
	"github.com/smallbiznis/leasepay/internal/clock"
	"github.com/smallbiznis/leasepay/internal/config"
	invoicepaymentdomain "github.com/smallbiznis/leasepay/internal/invoicepayment/domain"
	invoicepaymentrepository "github.com/smallbiznis/leasepay/internal/invoicepayment/repository"
	partnerpayoutdomain "github.com/smallbiznis/leasepay/internal/partnerpayout/domain"
	partnerpayoutrepository "github.com/smallbiznis/leasepay/internal/partnerpayout/repository"
	payoutdomain "github.com/smallbiznis/leasepay/internal/payout/domain"
	payoutrepository "github.com/smallbiznis/leasepay/internal/payout/repository"
	"github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"github.com/smallbiznis/leasepay/internal/payoutprocess/repository"
	"github.com/smallbiznis/leasepay/internal/payoutprocess/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fakeEnqueuer struct {
	staged       []string
	dispatched   []string
	failDispatch bool
}

func (f *fakeEnqueuer) Stage(ctx context.Context, tx *gorm.DB, process *domain.PayoutProcess) (string, error) {
	jobID := fmt.Sprintf("job-%d", len(f.staged)+1)
	f.staged = append(f.staged, jobID)
	return jobID, nil
}

func (f *fakeEnqueuer) Dispatch(ctx context.Context, jobID string) error {
	if f.failDispatch {
		return errors.New("queue unavailable")
	}
	f.dispatched = append(f.dispatched, jobID)
	return nil
}

func (f *fakeEnqueuer) RedispatchPending(ctx context.Context, limit int) (int, error) {
	return 0, nil
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func prepareSettlementSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	statements := []string{
		`CREATE TABLE partner_payouts (
			id BIGINT PRIMARY KEY,
			partner_id BIGINT NOT NULL,
			type TEXT NOT NULL,
			payout_ids JSON,
			payment_ids JSON,
			payout_process_id BIGINT,
			status TEXT NOT NULL,
			events JSON NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE payout_processes (
			id BIGINT PRIMARY KEY,
			partner_id BIGINT NOT NULL,
			partner_payout_id BIGINT NOT NULL,
			payout_ids JSON,
			payment_ids JSON,
			credit_transfer_info JSON NOT NULL,
			external_status TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			group_header_msg_id TEXT NOT NULL,
			payment_info_id TEXT NOT NULL,
			sent_file_status TEXT,
			request_execute_date DATETIME,
			booked_at DATETIME,
			total_booked INT NOT NULL DEFAULT 0,
			total_reject INT NOT NULL DEFAULT 0,
			total_transfer INT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payout_processes_partner_payout
			ON payout_processes (partner_payout_id)`,
		`CREATE TABLE payouts (
			id BIGINT PRIMARY KEY,
			partner_id BIGINT NOT NULL,
			landlord_id BIGINT,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			destination_account TEXT,
			status TEXT NOT NULL,
			sent_to_nets BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE invoice_payments (
			id BIGINT PRIMARY KEY,
			partner_id BIGINT NOT NULL,
			invoice_id BIGINT,
			tenant_id BIGINT,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			destination_account TEXT,
			refund_status TEXT NOT NULL,
			sent_to_nets BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE audit_logs (
			id BIGINT PRIMARY KEY,
			partner_id BIGINT NOT NULL,
			actor_type TEXT NOT NULL,
			actor_id TEXT,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT,
			metadata JSON,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
}

func setupSettlement(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node, *fakeEnqueuer, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	prepareSettlementSchema(t, db)

	node := mustNode(t)
	enqueuer := &fakeEnqueuer{}
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	payoutRepo := payoutrepository.Provide()
	refundRepo := invoicepaymentrepository.Provide()

	svc := NewService(Params{
		DB:          db,
		Log:         zaptest.NewLogger(t),
		Clock:       fakeClock,
		GenID:       node,
		Repo:        repository.Provide(),
		PartnerRepo: partnerpayoutrepository.Provide(),
		Registry: strategy.NewRegistry(
			strategy.NewPayoutStrategy(payoutRepo),
			strategy.NewRefundPaymentStrategy(refundRepo),
		),
		Enqueuer:  enqueuer,
		AuditRepo: auditrepository.Provide(),
		NETSCfg:   &config.NETSConfigHolder{},
	})
	return svc, db, node, enqueuer, fakeClock
}

func seedPayouts(t *testing.T, db *gorm.DB, node *snowflake.Node, partnerID snowflake.ID, n int, status payoutdomain.Status) []snowflake.ID {
	t.Helper()
	now := time.Now().UTC()
	ids := make([]snowflake.ID, 0, n)
	for i := 0; i < n; i++ {
		payout := payoutdomain.Payout{
			ID:                 node.Generate(),
			PartnerID:          partnerID,
			LandlordID:         node.Generate(),
			Amount:             int64(1000 * (i + 1)),
			Currency:           "NOK",
			DestinationAccount: fmt.Sprintf("NO93860111179%02d", i),
			Status:             status,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		require.NoError(t, db.Create(&payout).Error)
		ids = append(ids, payout.ID)
	}
	return ids
}

func seedPartnerPayout(t *testing.T, db *gorm.DB, node *snowflake.Node, partnerID snowflake.ID, payoutIDs []snowflake.ID, status partnerpayoutdomain.Status) *partnerpayoutdomain.PartnerPayout {
	t.Helper()
	now := time.Now().UTC()
	payout := &partnerpayoutdomain.PartnerPayout{
		ID:        node.Generate(),
		PartnerID: partnerID,
		Type:      partnerpayoutdomain.TypePayout,
		PayoutIDs: payoutIDs,
		Status:    status,
		Events:    partnerpayoutdomain.EventList{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.Create(payout).Error)
	return payout
}

func seedInvoicePayments(t *testing.T, db *gorm.DB, node *snowflake.Node, partnerID snowflake.ID, n int, status invoicepaymentdomain.RefundStatus) []snowflake.ID {
	t.Helper()
	now := time.Now().UTC()
	ids := make([]snowflake.ID, 0, n)
	for i := 0; i < n; i++ {
		payment := invoicepaymentdomain.InvoicePayment{
			ID:                 node.Generate(),
			PartnerID:          partnerID,
			InvoiceID:          node.Generate(),
			TenantID:           node.Generate(),
			Amount:             int64(500 * (i + 1)),
			Currency:           "NOK",
			DestinationAccount: fmt.Sprintf("NO93860111180%02d", i),
			RefundStatus:       status,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		require.NoError(t, db.Create(&payment).Error)
		ids = append(ids, payment.ID)
	}
	return ids
}

func seedRefundPartnerPayout(t *testing.T, db *gorm.DB, node *snowflake.Node, partnerID snowflake.ID, paymentIDs []snowflake.ID, status partnerpayoutdomain.Status) *partnerpayoutdomain.PartnerPayout {
	t.Helper()
	now := time.Now().UTC()
	payout := &partnerpayoutdomain.PartnerPayout{
		ID:         node.Generate(),
		PartnerID:  partnerID,
		Type:       partnerpayoutdomain.TypeRefundPayment,
		PaymentIDs: paymentIDs,
		Status:     status,
		Events:     partnerpayoutdomain.EventList{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, db.Create(payout).Error)
	return payout
}

func loadProcess(t *testing.T, db *gorm.DB, id snowflake.ID) *domain.PayoutProcess {
	t.Helper()
	var process domain.PayoutProcess
	require.NoError(t, db.Take(&process, "id = ?", id).Error)
	return &process
}

func loadPartnerPayout(t *testing.T, db *gorm.DB, id snowflake.ID) *partnerpayoutdomain.PartnerPayout {
	t.Helper()
	var payout partnerpayoutdomain.PartnerPayout
	require.NoError(t, db.Take(&payout, "id = ?", id).Error)
	return &payout
}

func payoutStatus(t *testing.T, db *gorm.DB, id snowflake.ID) payoutdomain.Status {
	t.Helper()
	var payout payoutdomain.Payout
	require.NoError(t, db.Take(&payout, "id = ?", id).Error)
	return payout.Status
}

func refundStatus(t *testing.T, db *gorm.DB, id snowflake.ID) invoicepaymentdomain.RefundStatus {
	t.Helper()
	var payment invoicepaymentdomain.InvoicePayment
	require.NoError(t, db.Take(&payment, "id = ?", id).Error)
	return payment.RefundStatus
}

func TestCreateAssemblesBatch(t *testing.T) {
	svc, db, node, enqueuer, fakeClock := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	payoutIDs := seedPayouts(t, db, node, partnerID, 3, payoutdomain.StatusApproved)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)

	enqueued, err := svc.Create(ctx, partnerID, payout)
	require.NoError(t, err)
	assert.True(t, enqueued)
	assert.Equal(t, []string{"job-1"}, enqueuer.staged)
	assert.Equal(t, []string{"job-1"}, enqueuer.dispatched)

	require.NotNil(t, payout.PayoutProcessID)
	process := loadProcess(t, db, *payout.PayoutProcessID)
	assert.Equal(t, domain.StatusNew, process.Status)
	assert.Len(t, process.CreditTransferInfo, 3)
	assert.NotEmpty(t, process.GroupHeaderMsgID)
	assert.NotEmpty(t, process.PaymentInfoID)
	require.NotNil(t, process.RequestExecuteDate)
	assert.Equal(t, fakeClock.Now().AddDate(0, 0, 1), process.RequestExecuteDate.UTC())

	for _, id := range payoutIDs {
		assert.Equal(t, payoutdomain.StatusInProgress, payoutStatus(t, db, id))
	}

	linked := loadPartnerPayout(t, db, payout.ID)
	require.NotNil(t, linked.PayoutProcessID)
	assert.Equal(t, process.ID, *linked.PayoutProcessID)

	var auditCount int
	require.NoError(t, db.Raw(
		`SELECT COUNT(1) FROM audit_logs WHERE action = ?`, "settlement.sent_to_nets",
	).Scan(&auditCount).Error)
	assert.Equal(t, 3, auditCount)
}

func TestCreateRejectsSecondBatchForSamePayout(t *testing.T) {
	svc, db, node, _, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	payoutIDs := seedPayouts(t, db, node, partnerID, 2, payoutdomain.StatusApproved)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)

	_, err := svc.Create(ctx, partnerID, payout)
	require.NoError(t, err)

	_, err = svc.Create(ctx, partnerID, payout)
	assert.ErrorIs(t, err, domain.ErrProcessExists)
}

func TestCreateWithoutTransferDataFailsPayout(t *testing.T) {
	svc, db, node, enqueuer, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	// Seed payouts with no destination accounts: nothing to transfer.
	now := time.Now().UTC()
	var ids []snowflake.ID
	for i := 0; i < 2; i++ {
		payout := payoutdomain.Payout{
			ID:        node.Generate(),
			PartnerID: partnerID,
			Amount:    1000,
			Currency:  "NOK",
			Status:    payoutdomain.StatusApproved,
			CreatedAt: now,
			UpdatedAt: now,
		}
		require.NoError(t, db.Create(&payout).Error)
		ids = append(ids, payout.ID)
	}
	payout := seedPartnerPayout(t, db, node, partnerID, ids, partnerpayoutdomain.StatusApproved)

	enqueued, err := svc.Create(ctx, partnerID, payout)
	require.NoError(t, err)
	assert.False(t, enqueued)
	assert.Empty(t, enqueuer.staged)

	failed := loadPartnerPayout(t, db, payout.ID)
	assert.Equal(t, partnerpayoutdomain.StatusFailed, failed.Status)
	require.NotEmpty(t, failed.Events)
	assert.Equal(t, string(partnerpayoutdomain.StatusFailed), failed.Events[len(failed.Events)-1].Status)
}

func TestCreateEnforcesBatchSizeLimit(t *testing.T) {
	svc, db, node, _, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	impl := svc.(*Service)
	cfg := config.DefaultNETSConfig()
	cfg.MaxBatchSize = 2
	impl.netsCfg.Store(cfg)

	payoutIDs := seedPayouts(t, db, node, partnerID, 3, payoutdomain.StatusApproved)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)

	_, err := svc.Create(ctx, partnerID, payout)
	assert.ErrorIs(t, err, domain.ErrBatchTooLarge)
}

func TestCreateSurvivesDispatchFailure(t *testing.T) {
	svc, db, node, enqueuer, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()
	enqueuer.failDispatch = true

	payoutIDs := seedPayouts(t, db, node, partnerID, 2, payoutdomain.StatusApproved)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)

	enqueued, err := svc.Create(ctx, partnerID, payout)
	assert.Error(t, err)
	assert.False(t, enqueued)

	// The batch committed with its outbox row; only the push failed.
	assert.Equal(t, []string{"job-1"}, enqueuer.staged)
	require.NotNil(t, payout.PayoutProcessID)
	process := loadProcess(t, db, *payout.PayoutProcessID)
	assert.Equal(t, domain.StatusNew, process.Status)
}

func TestSettlementLifecycle(t *testing.T) {
	svc, db, node, _, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	payoutIDs := seedPayouts(t, db, node, partnerID, 3, payoutdomain.StatusApproved)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)

	_, err := svc.Create(ctx, partnerID, payout)
	require.NoError(t, err)
	processID := *payout.PayoutProcessID

	// Batch-level acknowledgement from the rail.
	_, err = svc.Update(ctx, domain.UpdateRequest{
		PayoutProcessID: processID,
		PartnerID:       partnerID,
		ExternalStatus:  domain.ExternalReceived,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValidated, loadProcess(t, db, processID).Status)
	cascaded := loadPartnerPayout(t, db, payout.ID)
	assert.Equal(t, partnerpayoutdomain.StatusValidated, cascaded.Status)
	require.NotEmpty(t, cascaded.Events)
	assert.Equal(t, domain.EventNetsReceived, cascaded.Events[len(cascaded.Events)-1].Status)

	// First line books: partial resolution.
	_, err = svc.Update(ctx, domain.UpdateRequest{
		PayoutProcessID: processID,
		PartnerID:       partnerID,
		Transfers: []domain.TransferUpdate{
			{RefID: payoutIDs[0], Status: domain.TransferStatusBooked},
		},
	})
	require.NoError(t, err)
	process := loadProcess(t, db, processID)
	assert.Equal(t, domain.StatusPartiallyCompleted, process.Status)
	assert.Equal(t, 1, process.TotalBooked)
	assert.Equal(t, 1, process.TotalTransfer)
	assert.Equal(t, payoutdomain.StatusCompleted, payoutStatus(t, db, payoutIDs[0]))
	assert.Equal(t, payoutdomain.StatusInProgress, payoutStatus(t, db, payoutIDs[1]))
	cascaded = loadPartnerPayout(t, db, payout.ID)
	assert.Equal(t, partnerpayoutdomain.StatusPartiallyCompleted, cascaded.Status)
	assert.Equal(t, domain.EventNetsPartiallyAccepted, cascaded.Events[len(cascaded.Events)-1].Status)

	// Remaining lines resolve: one booked, one rejected.
	_, err = svc.Update(ctx, domain.UpdateRequest{
		PayoutProcessID: processID,
		PartnerID:       partnerID,
		Transfers: []domain.TransferUpdate{
			{RefID: payoutIDs[1], Status: domain.TransferStatusBooked},
			{RefID: payoutIDs[2], Status: domain.TransferStatusRejected},
		},
	})
	require.NoError(t, err)
	process = loadProcess(t, db, processID)
	assert.Equal(t, domain.StatusCompleted, process.Status)
	assert.Equal(t, 2, process.TotalBooked)
	assert.Equal(t, 1, process.TotalReject)
	assert.Equal(t, 3, process.TotalTransfer)
	assert.Nil(t, process.BookedAt, "booked_at is only set when every line booked")
	assert.Equal(t, payoutdomain.StatusCompleted, payoutStatus(t, db, payoutIDs[1]))
	assert.Equal(t, payoutdomain.StatusFailed, payoutStatus(t, db, payoutIDs[2]))

	// A mixed outcome refines the partner payout rather than completing it.
	cascaded = loadPartnerPayout(t, db, payout.ID)
	assert.Equal(t, partnerpayoutdomain.StatusPartiallyCompleted, cascaded.Status)
}

func TestSettlementFullyBookedSetsBookedAt(t *testing.T) {
	svc, db, node, _, fakeClock := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	payoutIDs := seedPayouts(t, db, node, partnerID, 2, payoutdomain.StatusApproved)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)
	_, err := svc.Create(ctx, partnerID, payout)
	require.NoError(t, err)
	processID := *payout.PayoutProcessID

	fakeClock.Advance(2 * time.Hour)

	_, err = svc.Update(ctx, domain.UpdateRequest{
		PayoutProcessID: processID,
		PartnerID:       partnerID,
		Transfers: []domain.TransferUpdate{
			{RefID: payoutIDs[0], Status: domain.TransferStatusBooked},
			{RefID: payoutIDs[1], Status: domain.TransferStatusBooked},
		},
	})
	require.NoError(t, err)

	process := loadProcess(t, db, processID)
	assert.Equal(t, domain.StatusCompleted, process.Status)
	require.NotNil(t, process.BookedAt)
	assert.Equal(t, fakeClock.Now(), process.BookedAt.UTC())

	cascaded := loadPartnerPayout(t, db, payout.ID)
	assert.Equal(t, partnerpayoutdomain.StatusCompleted, cascaded.Status)
}

func TestUpdateIsIdempotentOnDuplicateCallback(t *testing.T) {
	svc, db, node, _, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	payoutIDs := seedPayouts(t, db, node, partnerID, 2, payoutdomain.StatusApproved)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)
	_, err := svc.Create(ctx, partnerID, payout)
	require.NoError(t, err)
	processID := *payout.PayoutProcessID

	update := domain.UpdateRequest{
		PayoutProcessID: processID,
		PartnerID:       partnerID,
		Transfers: []domain.TransferUpdate{
			{RefID: payoutIDs[0], Status: domain.TransferStatusBooked},
		},
	}
	_, err = svc.Update(ctx, update)
	require.NoError(t, err)

	before := loadPartnerPayout(t, db, payout.ID)
	eventsBefore := len(before.Events)

	// Replay the exact same callback.
	_, err = svc.Update(ctx, update)
	require.NoError(t, err)

	after := loadPartnerPayout(t, db, payout.ID)
	assert.Equal(t, before.Status, after.Status)
	assert.Len(t, after.Events, eventsBefore, "duplicate callback must not append journal events")

	process := loadProcess(t, db, processID)
	assert.Equal(t, 1, process.TotalBooked)
	assert.Equal(t, domain.StatusPartiallyCompleted, process.Status)
}

func TestUpdateLateExternalStatusKeepsResolvedBatch(t *testing.T) {
	svc, db, node, _, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	payoutIDs := seedPayouts(t, db, node, partnerID, 2, payoutdomain.StatusApproved)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)
	_, err := svc.Create(ctx, partnerID, payout)
	require.NoError(t, err)
	processID := *payout.PayoutProcessID

	_, err = svc.Update(ctx, domain.UpdateRequest{
		PayoutProcessID: processID,
		PartnerID:       partnerID,
		Transfers: []domain.TransferUpdate{
			{RefID: payoutIDs[0], Status: domain.TransferStatusBooked},
			{RefID: payoutIDs[1], Status: domain.TransferStatusBooked},
		},
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, loadProcess(t, db, processID).Status)

	before := loadPartnerPayout(t, db, payout.ID)
	eventsBefore := len(before.Events)

	// A delayed rail acknowledgement arrives after every line has resolved.
	_, err = svc.Update(ctx, domain.UpdateRequest{
		PayoutProcessID: processID,
		PartnerID:       partnerID,
		ExternalStatus:  domain.ExternalReceived,
	})
	require.NoError(t, err)

	// The raw code is recorded but the derived statuses stay terminal.
	process := loadProcess(t, db, processID)
	assert.Equal(t, domain.ExternalReceived, process.ExternalStatus)
	assert.Equal(t, domain.StatusCompleted, process.Status)

	after := loadPartnerPayout(t, db, payout.ID)
	assert.Equal(t, partnerpayoutdomain.StatusCompleted, after.Status)
	assert.Len(t, after.Events, eventsBefore, "late callback must not append journal events")
}

func TestUpdateDuplicateExternalStatusIsNoOp(t *testing.T) {
	svc, db, node, _, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	payoutIDs := seedPayouts(t, db, node, partnerID, 2, payoutdomain.StatusApproved)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)
	_, err := svc.Create(ctx, partnerID, payout)
	require.NoError(t, err)
	processID := *payout.PayoutProcessID

	ack := domain.UpdateRequest{
		PayoutProcessID: processID,
		PartnerID:       partnerID,
		ExternalStatus:  domain.ExternalReceived,
	}
	_, err = svc.Update(ctx, ack)
	require.NoError(t, err)
	require.Equal(t, domain.StatusValidated, loadProcess(t, db, processID).Status)

	_, err = svc.Update(ctx, domain.UpdateRequest{
		PayoutProcessID: processID,
		PartnerID:       partnerID,
		Transfers: []domain.TransferUpdate{
			{RefID: payoutIDs[0], Status: domain.TransferStatusBooked},
		},
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPartiallyCompleted, loadProcess(t, db, processID).Status)

	before := loadPartnerPayout(t, db, payout.ID)
	eventsBefore := len(before.Events)

	// The rail replays the acknowledgement already on file.
	_, err = svc.Update(ctx, ack)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPartiallyCompleted, loadProcess(t, db, processID).Status)
	after := loadPartnerPayout(t, db, payout.ID)
	assert.Equal(t, before.Status, after.Status)
	assert.Len(t, after.Events, eventsBefore, "replayed callback must not append journal events")
}

func TestUpdateSkipsUnknownTransferLines(t *testing.T) {
	svc, db, node, _, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	payoutIDs := seedPayouts(t, db, node, partnerID, 2, payoutdomain.StatusApproved)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)
	_, err := svc.Create(ctx, partnerID, payout)
	require.NoError(t, err)
	processID := *payout.PayoutProcessID

	_, err = svc.Update(ctx, domain.UpdateRequest{
		PayoutProcessID: processID,
		PartnerID:       partnerID,
		Transfers: []domain.TransferUpdate{
			{RefID: node.Generate(), Status: domain.TransferStatusBooked},
			{RefID: payoutIDs[0], Status: domain.TransferStatusBooked},
		},
	})
	require.NoError(t, err)

	process := loadProcess(t, db, processID)
	assert.Equal(t, 1, process.TotalBooked)
	assert.Equal(t, domain.StatusPartiallyCompleted, process.Status)
}

func TestUpdateIsOrderIndependent(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, reversed bool) (domain.Status, partnerpayoutdomain.Status) {
		svc, db, node, _, _ := setupSettlement(t)
		partnerID := node.Generate()

		payoutIDs := seedPayouts(t, db, node, partnerID, 2, payoutdomain.StatusApproved)
		payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)
		_, err := svc.Create(ctx, partnerID, payout)
		require.NoError(t, err)
		processID := *payout.PayoutProcessID

		updates := []domain.TransferUpdate{
			{RefID: payoutIDs[0], Status: domain.TransferStatusBooked},
			{RefID: payoutIDs[1], Status: domain.TransferStatusRejected},
		}
		if reversed {
			updates[0], updates[1] = updates[1], updates[0]
		}
		for _, update := range updates {
			_, err = svc.Update(ctx, domain.UpdateRequest{
				PayoutProcessID: processID,
				PartnerID:       partnerID,
				Transfers:       []domain.TransferUpdate{update},
			})
			require.NoError(t, err)
		}

		return loadProcess(t, db, processID).Status, loadPartnerPayout(t, db, payout.ID).Status
	}

	var forwardProcess, reversedProcess domain.Status
	var forwardPayout, reversedPayout partnerpayoutdomain.Status
	t.Run("forward", func(t *testing.T) {
		forwardProcess, forwardPayout = run(t, false)
	})
	t.Run("reversed", func(t *testing.T) {
		reversedProcess, reversedPayout = run(t, true)
	})

	assert.Equal(t, forwardProcess, reversedProcess)
	assert.Equal(t, forwardPayout, reversedPayout)
	assert.Equal(t, domain.StatusCompleted, forwardProcess)
	assert.Equal(t, partnerpayoutdomain.StatusPartiallyCompleted, forwardPayout)
}

func TestUpdateUnknownProcess(t *testing.T) {
	svc, _, node, _, _ := setupSettlement(t)

	_, err := svc.Update(context.Background(), domain.UpdateRequest{
		PayoutProcessID: node.Generate(),
		PartnerID:       node.Generate(),
		ExternalStatus:  domain.ExternalAccepted,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateBatchPartialSuccess(t *testing.T) {
	svc, db, node, _, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	payoutIDs := seedPayouts(t, db, node, partnerID, 2, payoutdomain.StatusApproved)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)
	_, err := svc.Create(ctx, partnerID, payout)
	require.NoError(t, err)
	processID := *payout.PayoutProcessID

	applied, err := svc.UpdateBatch(ctx, []domain.UpdateRequest{
		{
			PayoutProcessID: processID,
			PartnerID:       partnerID,
			ExternalStatus:  domain.ExternalAccepted,
		},
		{
			PayoutProcessID: node.Generate(), // unknown batch
			PartnerID:       partnerID,
			ExternalStatus:  domain.ExternalAccepted,
		},
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.StatusAccepted, loadProcess(t, db, processID).Status)
}

func TestUpdateBatchAllFailed(t *testing.T) {
	svc, _, node, _, _ := setupSettlement(t)

	_, err := svc.UpdateBatch(context.Background(), []domain.UpdateRequest{
		{
			PayoutProcessID: node.Generate(),
			PartnerID:       node.Generate(),
			ExternalStatus:  domain.ExternalAccepted,
		},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApproveAndCreate(t *testing.T) {
	svc, db, node, enqueuer, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	payoutIDs := seedPayouts(t, db, node, partnerID, 3, payoutdomain.StatusWaitingForSignature)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusWaitingForSignature)

	process, err := svc.ApproveAndCreate(ctx, domain.ApprovalRequest{
		PartnerPayoutID: payout.ID,
		PartnerID:       partnerID,
		SigningStatus:   domain.SigningStatusSigned,
		SigningMeta:     map[string]any{"signer": "anna.larsen"},
	})
	require.NoError(t, err)
	require.NotNil(t, process)
	assert.Len(t, process.CreditTransferInfo, 3)
	assert.Equal(t, []string{"job-1"}, enqueuer.dispatched)

	approved := loadPartnerPayout(t, db, payout.ID)
	require.NotNil(t, approved.PayoutProcessID)
	assert.Equal(t, process.ID, *approved.PayoutProcessID)
	require.NotEmpty(t, approved.Events)
	assert.Equal(t, string(partnerpayoutdomain.StatusApproved), approved.Events[0].Status)
	assert.Equal(t, "signed by anna.larsen", approved.Events[0].Note)

	// The signing flip moved every leaf through approved into in_progress.
	for _, id := range payoutIDs {
		assert.Equal(t, payoutdomain.StatusInProgress, payoutStatus(t, db, id))
	}
}

func TestRefundSettlementLifecycle(t *testing.T) {
	svc, db, node, enqueuer, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	paymentIDs := seedInvoicePayments(t, db, node, partnerID, 2, invoicepaymentdomain.RefundStatusWaitingForSignature)
	payout := seedRefundPartnerPayout(t, db, node, partnerID, paymentIDs, partnerpayoutdomain.StatusWaitingForSignature)

	process, err := svc.ApproveAndCreate(ctx, domain.ApprovalRequest{
		PartnerPayoutID: payout.ID,
		PartnerID:       partnerID,
		SigningStatus:   domain.SigningStatusSigned,
		SigningMeta:     map[string]any{"signer": "anna.larsen"},
	})
	require.NoError(t, err)
	require.NotNil(t, process)
	assert.Len(t, process.CreditTransferInfo, 2)
	assert.Len(t, process.PaymentIDs, 2)
	assert.Empty(t, process.PayoutIDs)
	assert.Equal(t, []string{"job-1"}, enqueuer.dispatched)

	// The signing flip moved every refund through approved into in_progress.
	for _, id := range paymentIDs {
		assert.Equal(t, invoicepaymentdomain.RefundStatusInProgress, refundStatus(t, db, id))
	}

	var auditCount int
	require.NoError(t, db.Raw(
		`SELECT COUNT(1) FROM audit_logs WHERE action = ? AND target_type = ?`,
		"settlement.sent_to_nets", "invoice_payment",
	).Scan(&auditCount).Error)
	assert.Equal(t, 2, auditCount)

	// One refund books, the other is rejected by the bank.
	_, err = svc.Update(ctx, domain.UpdateRequest{
		PayoutProcessID: process.ID,
		PartnerID:       partnerID,
		Transfers: []domain.TransferUpdate{
			{RefID: paymentIDs[0], Status: domain.TransferStatusBooked},
			{RefID: paymentIDs[1], Status: domain.TransferStatusRejected},
		},
	})
	require.NoError(t, err)

	resolved := loadProcess(t, db, process.ID)
	assert.Equal(t, domain.StatusCompleted, resolved.Status)
	assert.Equal(t, 1, resolved.TotalBooked)
	assert.Equal(t, 1, resolved.TotalReject)
	assert.Equal(t, invoicepaymentdomain.RefundStatusCompleted, refundStatus(t, db, paymentIDs[0]))
	assert.Equal(t, invoicepaymentdomain.RefundStatusFailed, refundStatus(t, db, paymentIDs[1]))

	cascaded := loadPartnerPayout(t, db, payout.ID)
	assert.Equal(t, partnerpayoutdomain.StatusPartiallyCompleted, cascaded.Status)
}

func TestApproveAndCreateRejectsUnsignedStatus(t *testing.T) {
	svc, db, node, _, _ := setupSettlement(t)
	partnerID := node.Generate()

	payoutIDs := seedPayouts(t, db, node, partnerID, 1, payoutdomain.StatusWaitingForSignature)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusWaitingForSignature)

	_, err := svc.ApproveAndCreate(context.Background(), domain.ApprovalRequest{
		PartnerPayoutID: payout.ID,
		PartnerID:       partnerID,
		SigningStatus:   "rejected",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSigningStatus)
	assert.Equal(t, partnerpayoutdomain.StatusWaitingForSignature, loadPartnerPayout(t, db, payout.ID).Status)
}

func TestApproveAndCreateLeafCountMismatchRollsBack(t *testing.T) {
	svc, db, node, enqueuer, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	payoutIDs := seedPayouts(t, db, node, partnerID, 3, payoutdomain.StatusWaitingForSignature)
	// One leaf already left the signable state.
	require.NoError(t, db.Exec(
		`UPDATE payouts SET status = ? WHERE id = ?`,
		payoutdomain.StatusApproved, payoutIDs[1],
	).Error)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusWaitingForSignature)

	_, err := svc.ApproveAndCreate(ctx, domain.ApprovalRequest{
		PartnerPayoutID: payout.ID,
		PartnerID:       partnerID,
		SigningStatus:   domain.SigningStatusSigned,
	})
	assert.ErrorIs(t, err, domain.ErrLeafCountMismatch)
	assert.Empty(t, enqueuer.staged)

	// Rollback left the aggregate and the untouched leaves as they were.
	assert.Equal(t, partnerpayoutdomain.StatusWaitingForSignature, loadPartnerPayout(t, db, payout.ID).Status)
	assert.Equal(t, payoutdomain.StatusWaitingForSignature, payoutStatus(t, db, payoutIDs[0]))
	assert.Equal(t, payoutdomain.StatusApproved, payoutStatus(t, db, payoutIDs[1]))
}

func TestGetScopesByPartner(t *testing.T) {
	svc, db, node, _, _ := setupSettlement(t)
	partnerID := node.Generate()
	ctx := context.Background()

	payoutIDs := seedPayouts(t, db, node, partnerID, 1, payoutdomain.StatusApproved)
	payout := seedPartnerPayout(t, db, node, partnerID, payoutIDs, partnerpayoutdomain.StatusApproved)
	_, err := svc.Create(ctx, partnerID, payout)
	require.NoError(t, err)

	found, err := svc.Get(ctx, *payout.PayoutProcessID, partnerID)
	require.NoError(t, err)
	assert.Equal(t, *payout.PayoutProcessID, found.ID)

	_, err = svc.Get(ctx, *payout.PayoutProcessID, node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/leasepay/internal/clock"
	"github.com/smallbiznis/leasepay/internal/partnerpayout/domain"
	"github.com/smallbiznis/leasepay/internal/partnerpayout/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`CREATE TABLE partner_payouts (
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
	)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		Clock: fakeClock,
		Repo:  repository.Provide(),
	})
	return svc, db, node, fakeClock
}

func seedPayout(t *testing.T, db *gorm.DB, node *snowflake.Node, partnerID snowflake.ID) *domain.PartnerPayout {
	t.Helper()
	now := time.Now().UTC()
	payout := &domain.PartnerPayout{
		ID:        node.Generate(),
		PartnerID: partnerID,
		Type:      domain.TypePayout,
		PayoutIDs: domain.IDList{node.Generate(), node.Generate()},
		Status:    domain.StatusProcessing,
		Events:    domain.EventList{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.Create(payout).Error)
	return payout
}

func TestGet(t *testing.T) {
	svc, db, node, _ := setupService(t)
	partnerID := node.Generate()
	payout := seedPayout(t, db, node, partnerID)

	found, err := svc.Get(context.Background(), payout.ID, partnerID)
	require.NoError(t, err)
	assert.Equal(t, payout.ID, found.ID)
	assert.Equal(t, domain.TypePayout, found.Type)
	assert.Len(t, found.PayoutIDs, 2)
}

func TestGetScopedToPartner(t *testing.T) {
	svc, db, node, _ := setupService(t)
	partnerID := node.Generate()
	payout := seedPayout(t, db, node, partnerID)

	_, err := svc.Get(context.Background(), payout.ID, node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyStatusAppendsJournalEvent(t *testing.T) {
	svc, db, node, fakeClock := setupService(t)
	partnerID := node.Generate()
	payout := seedPayout(t, db, node, partnerID)
	ctx := context.Background()

	err := svc.ApplyStatus(ctx, payout.ID, partnerID, domain.StatusValidated, "nets_received", "")
	require.NoError(t, err)

	fakeClock.Advance(time.Hour)
	err = svc.ApplyStatus(ctx, payout.ID, partnerID, domain.StatusAccepted, "nets_accepted", "")
	require.NoError(t, err)

	var updated domain.PartnerPayout
	require.NoError(t, db.Take(&updated, "id = ?", payout.ID).Error)
	assert.Equal(t, domain.StatusAccepted, updated.Status)
	require.Len(t, updated.Events, 2)
	assert.Equal(t, "nets_received", updated.Events[0].Status)
	assert.Equal(t, "nets_accepted", updated.Events[1].Status)
	assert.True(t, updated.Events[1].At.After(updated.Events[0].At))
}

func TestApplyStatusUnknownPayout(t *testing.T) {
	svc, _, node, _ := setupService(t)

	err := svc.ApplyStatus(context.Background(), node.Generate(), node.Generate(), domain.StatusAccepted, "nets_accepted", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkFailedRecordsNote(t *testing.T) {
	svc, db, node, _ := setupService(t)
	partnerID := node.Generate()
	payout := seedPayout(t, db, node, partnerID)

	err := svc.MarkFailed(context.Background(), payout.ID, partnerID, "no credit transfer data built for batch")
	require.NoError(t, err)

	var updated domain.PartnerPayout
	require.NoError(t, db.Take(&updated, "id = ?", payout.ID).Error)
	assert.Equal(t, domain.StatusFailed, updated.Status)
	require.Len(t, updated.Events, 1)
	assert.Equal(t, string(domain.StatusFailed), updated.Events[0].Status)
	assert.Equal(t, "no credit transfer data built for batch", updated.Events[0].Note)
}

func TestParseType(t *testing.T) {
	parsed, err := domain.ParseType("payout")
	require.NoError(t, err)
	assert.Equal(t, domain.TypePayout, parsed)

	parsed, err = domain.ParseType("refund_payment")
	require.NoError(t, err)
	assert.Equal(t, domain.TypeRefundPayment, parsed)

	_, err = domain.ParseType("transfer")
	assert.ErrorIs(t, err, domain.ErrInvalidType)
}

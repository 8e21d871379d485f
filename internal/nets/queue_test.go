package nets

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/leasepay/internal/config"
	"github.com/smallbiznis/leasepay/internal/nets/domain"
	payoutprocessdomain "github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupQueue(t *testing.T) (*Queue, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`CREATE TABLE nets_outbox (
		id BIGINT PRIMARY KEY,
		job_id TEXT NOT NULL UNIQUE,
		queue_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		dispatched_at DATETIME
	)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	queue := NewQueue(Params{
		DB:      db,
		Log:     zaptest.NewLogger(t),
		GenID:   node,
		Client:  nil,
		NETSCfg: &config.NETSConfigHolder{},
	}).(*Queue)
	return queue, db, node
}

func sampleProcess(node *snowflake.Node) *payoutprocessdomain.PayoutProcess {
	partnerID := node.Generate()
	return &payoutprocessdomain.PayoutProcess{
		ID:              node.Generate(),
		PartnerID:       partnerID,
		PartnerPayoutID: node.Generate(),
		CreditTransferInfo: payoutprocessdomain.CreditTransferList{
			{RefID: node.Generate(), Amount: 1500, Currency: "NOK", DestinationAccount: "NO9386011117947"},
		},
		Status:           payoutprocessdomain.StatusNew,
		GroupHeaderMsgID: "01HZX5M9T3",
		PaymentInfoID:    "01HZX5M9T4",
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
}

func TestStageWritesOutboxRow(t *testing.T) {
	queue, db, node := setupQueue(t)
	ctx := context.Background()
	process := sampleProcess(node)

	var jobID string
	err := db.Transaction(func(tx *gorm.DB) error {
		var stageErr error
		jobID, stageErr = queue.Stage(ctx, tx, process)
		return stageErr
	})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	var row struct {
		QueueKey     string     `gorm:"column:queue_key"`
		Payload      string     `gorm:"column:payload"`
		DispatchedAt *time.Time `gorm:"column:dispatched_at"`
	}
	require.NoError(t, db.Raw(
		`SELECT queue_key, payload, dispatched_at FROM nets_outbox WHERE job_id = ?`, jobID,
	).Scan(&row).Error)
	assert.Equal(t, config.DefaultNETSConfig().RenderQueueKey, row.QueueKey)
	assert.Nil(t, row.DispatchedAt)

	var job domain.RenderSubmitJob
	require.NoError(t, json.Unmarshal([]byte(row.Payload), &job))
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, process.PartnerID, job.PartnerID)
	assert.Equal(t, config.DefaultNETSConfig().DebtorAccount, job.DebtorAccount)
	assert.Len(t, job.PayoutProcess.CreditTransferInfo, 1)
}

func TestStageRollsBackWithTransaction(t *testing.T) {
	queue, db, node := setupQueue(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := queue.Stage(ctx, tx, sampleProcess(node)); err != nil {
			return err
		}
		return fmt.Errorf("force rollback")
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM nets_outbox`).Scan(&count).Error)
	assert.Equal(t, 0, count)
}

func TestDispatchWithoutClient(t *testing.T) {
	queue, db, node := setupQueue(t)
	ctx := context.Background()

	var jobID string
	err := db.Transaction(func(tx *gorm.DB) error {
		var stageErr error
		jobID, stageErr = queue.Stage(ctx, tx, sampleProcess(node))
		return stageErr
	})
	require.NoError(t, err)

	assert.ErrorIs(t, queue.Dispatch(ctx, jobID), domain.ErrQueueDisabled)

	// The row stays pending for a later replay.
	var pending int
	require.NoError(t, db.Raw(
		`SELECT COUNT(1) FROM nets_outbox WHERE dispatched_at IS NULL`,
	).Scan(&pending).Error)
	assert.Equal(t, 1, pending)
}

func TestRedispatchPendingSkipsFailures(t *testing.T) {
	queue, db, node := setupQueue(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		_, stageErr := queue.Stage(ctx, tx, sampleProcess(node))
		return stageErr
	})
	require.NoError(t, err)

	// No redis client: every dispatch fails and the rows stay pending.
	dispatched, err := queue.RedispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)
}

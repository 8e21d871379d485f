package nets

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/leasepay/internal/config"
	"github.com/smallbiznis/leasepay/internal/nets/domain"
	payoutprocessdomain "github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Client  *redis.Client
	NETSCfg *config.NETSConfigHolder
}

// Queue is the redis-backed render-and-submit handoff with a transactional
// outbox underneath.
type Queue struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	client  *redis.Client
	netsCfg *config.NETSConfigHolder
}

func NewQueue(p Params) domain.Enqueuer {
	return &Queue{
		db:      p.DB,
		log:     p.Log.Named("nets.queue"),
		genID:   p.GenID,
		client:  p.Client,
		netsCfg: p.NETSCfg,
	}
}

func (q *Queue) Stage(ctx context.Context, tx *gorm.DB, process *payoutprocessdomain.PayoutProcess) (string, error) {
	cfg := q.netsCfg.Current()

	job := domain.RenderSubmitJob{
		JobID:         uuid.NewString(),
		PartnerID:     process.PartnerID,
		DebtorAccount: cfg.DebtorAccount,
		DebtorName:    cfg.DebtorName,
		PayoutProcess: *process,
		EnqueuedAt:    time.Now().UTC(),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	err = tx.WithContext(ctx).Exec(
		`INSERT INTO nets_outbox (id, job_id, queue_key, payload, created_at, dispatched_at)
		 VALUES (?, ?, ?, ?, ?, NULL)`,
		q.genID.Generate(),
		job.JobID,
		cfg.RenderQueueKey,
		string(payload),
		time.Now().UTC(),
	).Error
	if err != nil {
		return "", err
	}
	return job.JobID, nil
}

func (q *Queue) Dispatch(ctx context.Context, jobID string) error {
	if q.client == nil {
		return domain.ErrQueueDisabled
	}

	var row struct {
		QueueKey     string     `gorm:"column:queue_key"`
		Payload      string     `gorm:"column:payload"`
		DispatchedAt *time.Time `gorm:"column:dispatched_at"`
	}
	err := q.db.WithContext(ctx).Raw(
		`SELECT queue_key, payload, dispatched_at FROM nets_outbox WHERE job_id = ?`,
		jobID,
	).Scan(&row).Error
	if err != nil {
		return err
	}
	if row.QueueKey == "" {
		return domain.ErrJobNotFound
	}
	if row.DispatchedAt != nil {
		return nil
	}

	if err := q.client.LPush(ctx, row.QueueKey, row.Payload).Err(); err != nil {
		return err
	}

	return q.db.WithContext(ctx).Exec(
		`UPDATE nets_outbox SET dispatched_at = ? WHERE job_id = ? AND dispatched_at IS NULL`,
		time.Now().UTC(),
		jobID,
	).Error
}

func (q *Queue) RedispatchPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	var jobIDs []string
	err := q.db.WithContext(ctx).Raw(
		`SELECT job_id FROM nets_outbox WHERE dispatched_at IS NULL ORDER BY created_at LIMIT ?`,
		limit,
	).Scan(&jobIDs).Error
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, jobID := range jobIDs {
		if err := q.Dispatch(ctx, jobID); err != nil {
			q.log.Warn("failed to redispatch render job", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

func NewRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

var Module = fx.Module("nets.queue",
	fx.Provide(NewRedisClient),
	fx.Provide(NewQueue),
	fx.Invoke(func(lc fx.Lifecycle, enq domain.Enqueuer, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				n, err := enq.RedispatchPending(ctx, 100)
				if err != nil {
					log.Warn("render job redispatch failed", zap.Error(err))
					return nil
				}
				if n > 0 {
					log.Info("redispatched pending render jobs", zap.Int("count", n))
				}
				return nil
			},
		})
	}),
)

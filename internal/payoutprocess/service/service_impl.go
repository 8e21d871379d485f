package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/leasepay/internal/audit/domain"
	"github.com/smallbiznis/leasepay/internal/clock"
	"github.com/smallbiznis/leasepay/internal/config"
	netsdomain "github.com/smallbiznis/leasepay/internal/nets/domain"
	obsmetrics "github.com/smallbiznis/leasepay/internal/observability/metrics"
	partnerpayoutdomain "github.com/smallbiznis/leasepay/internal/partnerpayout/domain"
	"github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"github.com/smallbiznis/leasepay/internal/payoutprocess/strategy"
	pkgdb "github.com/smallbiznis/leasepay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Repo        domain.Repository
	PartnerRepo partnerpayoutdomain.Repository
	Registry    *strategy.Registry
	Enqueuer    netsdomain.Enqueuer
	AuditRepo   auditdomain.Repository
	NETSCfg     *config.NETSConfigHolder
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	genID       *snowflake.Node
	repo        domain.Repository
	partnerRepo partnerpayoutdomain.Repository
	registry    *strategy.Registry
	enqueuer    netsdomain.Enqueuer
	auditRepo   auditdomain.Repository
	netsCfg     *config.NETSConfigHolder
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payoutprocess.service"),
		clock:       p.Clock,
		genID:       p.GenID,
		repo:        p.Repo,
		partnerRepo: p.PartnerRepo,
		registry:    p.Registry,
		enqueuer:    p.Enqueuer,
		auditRepo:   p.AuditRepo,
		netsCfg:     p.NETSCfg,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Get(ctx context.Context, id, partnerID snowflake.ID) (*domain.PayoutProcess, error) {
	if id == 0 || partnerID == 0 {
		return nil, domain.ErrInvalidRequest
	}
	process, err := s.repo.Find(ctx, s.db, id, partnerID)
	if err != nil {
		return nil, err
	}
	if process == nil {
		return nil, domain.ErrNotFound
	}
	return process, nil
}

// Create assembles one bank batch for an approved partner payout (§ batch
// assembler). The leaf flips, audit rows, batch insert and outbox row share
// one transaction; the queue dispatch deliberately happens after commit so a
// crash in between is recovered by outbox replay, not rollback.
func (s *Service) Create(ctx context.Context, partnerID snowflake.ID, payout *partnerpayoutdomain.PartnerPayout) (bool, error) {
	_, enqueued, err := s.assemble(ctx, partnerID, payout)
	if err != nil {
		return false, err
	}
	return enqueued, nil
}

func (s *Service) assemble(ctx context.Context, partnerID snowflake.ID, payout *partnerpayoutdomain.PartnerPayout) (*domain.PayoutProcess, bool, error) {
	if payout == nil || partnerID == 0 || payout.ID == 0 || payout.PartnerID != partnerID {
		return nil, false, domain.ErrInvalidRequest
	}
	if _, err := partnerpayoutdomain.ParseType(string(payout.Type)); err != nil {
		return nil, false, err
	}
	leafIDs := payout.LeafIDs()
	if len(leafIDs) == 0 {
		return nil, false, domain.ErrInvalidRequest
	}

	cfg := s.netsCfg.Current()
	if len(leafIDs) > cfg.MaxBatchSize {
		return nil, false, domain.ErrBatchTooLarge
	}

	strat, err := s.registry.For(payout.Type)
	if err != nil {
		return nil, false, err
	}

	transferData, err := strat.BuildTransferData(ctx, s.db, partnerID, leafIDs)
	if err != nil {
		return nil, false, err
	}
	if len(transferData) == 0 {
		// Terminal business outcome, recorded as data rather than raised.
		if err := s.markPayoutFailed(ctx, payout, "no credit transfer data built for batch"); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	now := s.clock.Now()
	executeDate := now.AddDate(0, 0, cfg.ExecutionOffsetDays)

	process := &domain.PayoutProcess{
		ID:                 s.genID.Generate(),
		PartnerID:          partnerID,
		PartnerPayoutID:    payout.ID,
		CreditTransferInfo: transferData,
		ExternalStatus:     "",
		Status:             domain.StatusNew,
		GroupHeaderMsgID:   ulid.Make().String(),
		PaymentInfoID:      ulid.Make().String(),
		SentFileStatus:     cfg.SentFileStatusOnSend,
		RequestExecuteDate: &executeDate,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if payout.Type == partnerpayoutdomain.TypeRefundPayment {
		process.PaymentIDs = leafIDs
	} else {
		process.PayoutIDs = leafIDs
	}

	var jobID string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, process); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrProcessExists
			}
			return err
		}

		flipped, err := strat.MarkInTransit(ctx, tx, partnerID, leafIDs)
		if err != nil {
			return err
		}
		if flipped != int64(len(leafIDs)) {
			s.log.Warn("in-transit flip matched fewer leaves than batch covers",
				zap.Int64("flipped", flipped),
				zap.Int("expected", len(leafIDs)),
				zap.String("payout_process_id", process.ID.String()),
			)
		}

		for _, leafID := range leafIDs {
			if err := s.writeAuditRow(ctx, tx, partnerID, "settlement.sent_to_nets", strat.TargetType(), leafID.String(), map[string]any{
				"payout_process_id":   process.ID.String(),
				"group_header_msg_id": process.GroupHeaderMsgID,
			}); err != nil {
				return err
			}
		}

		if err := s.partnerRepo.LinkProcess(ctx, tx, payout.ID, partnerID, process.ID); err != nil {
			return err
		}

		jobID, err = s.enqueuer.Stage(ctx, tx, process)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	payout.PayoutProcessID = &process.ID

	if err := s.enqueuer.Dispatch(ctx, jobID); err != nil {
		s.log.Error("render job dispatch failed, outbox replay will retry",
			zap.String("job_id", jobID),
			zap.String("payout_process_id", process.ID.String()),
			zap.Error(err),
		)
		return process, false, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.ProcessesCreated.Inc()
	}
	return process, true, nil
}

// Update applies one bank callback. The merge, recount and both status
// transitions run under a row lock; the cascade to the partner payout is
// part of the same transaction and fires only when the derived status
// actually moved.
func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.PayoutProcess, error) {
	if req.PayoutProcessID == 0 || req.PartnerID == 0 {
		return nil, domain.ErrInvalidRequest
	}
	if req.ExternalStatus == "" && req.SentFileStatus == "" && len(req.Transfers) == 0 {
		return nil, domain.ErrInvalidRequest
	}

	var (
		process        *domain.PayoutProcess
		entriesChanged bool
		statusChanged  bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, req.PayoutProcessID, req.PartnerID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}

		previous := *current
		previousAgg := domain.TransferAggregate{
			TotalBooked:   current.TotalBooked,
			TotalReject:   current.TotalReject,
			TotalTransfer: current.TotalTransfer,
		}

		entriesChanged = s.mergeTransfers(current, req.Transfers)

		fieldsChanged := false
		if req.SentFileStatus != "" && req.SentFileStatus != current.SentFileStatus {
			current.SentFileStatus = req.SentFileStatus
			fieldsChanged = true
		}
		externalChanged := false
		if req.ExternalStatus != "" && req.ExternalStatus != current.ExternalStatus {
			current.ExternalStatus = req.ExternalStatus
			externalChanged = true
			fieldsChanged = true
		}

		total := len(current.CreditTransferInfo)
		agg := domain.Aggregate(current.CreditTransferInfo)

		cascadeEvent := ""
		if transition, ok := domain.Reconcile(previousAgg, agg, total); ok {
			current.Status = transition.Status
			cascadeEvent = transition.Event
			if transition.Status == domain.StatusCompleted && agg.TotalBooked == total && current.BookedAt == nil {
				bookedAt := s.clock.Now()
				current.BookedAt = &bookedAt
			}
		}
		// Only a fresh external code may transition the derived status; a
		// duplicated or replayed callback carrying the code already on file
		// must stay a no-op.
		if externalChanged {
			if transition, ok := domain.DeriveExternal(current.ExternalStatus, agg, total); ok {
				current.Status = transition.Status
				cascadeEvent = transition.Event
			}
		}

		current.TotalBooked = agg.TotalBooked
		current.TotalReject = agg.TotalReject
		current.TotalTransfer = agg.TotalTransfer

		statusChanged = current.Status != previous.Status
		if !entriesChanged && !fieldsChanged && !statusChanged {
			// Duplicate or stale callback: a successful, silent no-op.
			process = current
			return nil
		}

		if err := s.repo.Save(ctx, tx, current); err != nil {
			return err
		}

		if statusChanged {
			if err := s.cascade(ctx, tx, current, agg, total, cascadeEvent); err != nil {
				return err
			}
		}

		if err := s.writeAuditRow(ctx, tx, req.PartnerID, "payout_process.updated", "payout_process", current.ID.String(), map[string]any{
			"status":          string(current.Status),
			"external_status": current.ExternalStatus,
			"total_booked":    agg.TotalBooked,
			"total_reject":    agg.TotalReject,
			"total_transfer":  agg.TotalTransfer,
		}); err != nil {
			return err
		}

		process = current
		return nil
	})
	if err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCallback("error")
		}
		return nil, err
	}

	if !entriesChanged && !statusChanged {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCallback("noop")
		}
		return process, nil
	}

	if entriesChanged {
		if err := s.fanOutLeafStatus(ctx, process); err != nil {
			// The batch is already reconciled; fan-out is idempotent and
			// will converge on the next callback.
			s.log.Error("leaf status fan-out failed",
				zap.String("payout_process_id", process.ID.String()),
				zap.Error(err),
			)
		}
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCallback("applied")
		if statusChanged {
			s.obsMetrics.Cascades.Inc()
		}
	}
	return process, nil
}

// UpdateBatch applies independent update instructions sequentially. Partial
// success is permitted; the call succeeds if at least one item updated.
func (s *Service) UpdateBatch(ctx context.Context, reqs []domain.UpdateRequest) (bool, error) {
	if len(reqs) == 0 {
		return false, domain.ErrInvalidRequest
	}

	applied := 0
	var errs []error
	for _, req := range reqs {
		if _, err := s.Update(ctx, req); err != nil {
			s.log.Warn("batch update instruction failed",
				zap.String("payout_process_id", req.PayoutProcessID.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		applied++
	}
	if applied == 0 {
		return false, errors.Join(errs...)
	}
	return true, nil
}

// ApproveAndCreate is the approval→processing handoff for a freshly-signed
// partner payout: flip the aggregate to approved, bulk-flip the covered
// leaves with a hard count assertion, then assemble the batch.
func (s *Service) ApproveAndCreate(ctx context.Context, req domain.ApprovalRequest) (*domain.PayoutProcess, error) {
	if req.PartnerPayoutID == 0 || req.PartnerID == 0 {
		return nil, domain.ErrInvalidRequest
	}
	if req.SigningStatus != domain.SigningStatusSigned {
		return nil, domain.ErrInvalidSigningStatus
	}

	var payout *partnerpayoutdomain.PartnerPayout
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.partnerRepo.FindForUpdate(ctx, tx, req.PartnerPayoutID, req.PartnerID)
		if err != nil {
			return err
		}
		if current == nil {
			return partnerpayoutdomain.ErrNotFound
		}

		strat, err := s.registry.For(current.Type)
		if err != nil {
			return err
		}

		leafIDs := current.LeafIDs()
		matched, err := strat.ApproveSigned(ctx, tx, req.PartnerID, leafIDs)
		if err != nil {
			return err
		}
		if matched != int64(len(leafIDs)) {
			// The batch must never proceed on a partial flip.
			s.log.Error("approval flip count mismatch",
				zap.Int64("matched", matched),
				zap.Int("expected", len(leafIDs)),
				zap.String("partner_payout_id", current.ID.String()),
			)
			return domain.ErrLeafCountMismatch
		}

		current.Status = partnerpayoutdomain.StatusApproved
		current.Events = append(current.Events, partnerpayoutdomain.Event{
			Status: string(partnerpayoutdomain.StatusApproved),
			Note:   signingNote(req.SigningMeta),
			At:     s.clock.Now(),
		})
		if err := s.partnerRepo.UpdateStatus(ctx, tx, current); err != nil {
			return err
		}

		if err := s.writeAuditRow(ctx, tx, req.PartnerID, "partner_payout.approved", "partner_payout", current.ID.String(), map[string]any{
			"leaf_count": len(leafIDs),
		}); err != nil {
			return err
		}

		payout = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	process, _, err := s.assemble(ctx, req.PartnerID, payout)
	if err != nil {
		return nil, err
	}
	if process == nil {
		return nil, domain.ErrNoTransferData
	}
	return process, nil
}

// mergeTransfers applies per-line bank responses onto the stored array.
// Lines referencing unknown transfers are skipped: the batch is the unit of
// correctness and the bank occasionally echoes foreign lines.
func (s *Service) mergeTransfers(process *domain.PayoutProcess, updates []domain.TransferUpdate) bool {
	changed := false
	for _, update := range updates {
		if update.RefID == 0 || update.Status == "" {
			continue
		}
		found := false
		for i := range process.CreditTransferInfo {
			if process.CreditTransferInfo[i].RefID != update.RefID {
				continue
			}
			found = true
			if process.CreditTransferInfo[i].Status != update.Status {
				process.CreditTransferInfo[i].Status = update.Status
				changed = true
			}
			break
		}
		if !found {
			s.log.Warn("callback line references unknown transfer",
				zap.String("ref_id", update.RefID.String()),
				zap.String("payout_process_id", process.ID.String()),
			)
		}
	}
	return changed
}

// cascade maps the batch's new status onto its partner payout: one status
// set plus one journal event. A fully processed batch is refined into
// completed/failed/partially_completed by the aggregate.
func (s *Service) cascade(ctx context.Context, tx *gorm.DB, process *domain.PayoutProcess, agg domain.TransferAggregate, total int, event string) error {
	payout, err := s.partnerRepo.FindForUpdate(ctx, tx, process.PartnerPayoutID, process.PartnerID)
	if err != nil {
		return err
	}
	if payout == nil {
		s.log.Warn("payout process has no partner payout to cascade to",
			zap.String("payout_process_id", process.ID.String()),
		)
		return nil
	}

	status := partnerPayoutStatus(process.Status, agg, total)
	if event == "" {
		event = string(status)
	}

	payout.Status = status
	payout.Events = append(payout.Events, partnerpayoutdomain.Event{
		Status: event,
		At:     s.clock.Now(),
	})
	return s.partnerRepo.UpdateStatus(ctx, tx, payout)
}

// partnerPayoutStatus maps a derived batch status onto the aggregate
// request's business-visible status.
func partnerPayoutStatus(status domain.Status, agg domain.TransferAggregate, total int) partnerpayoutdomain.Status {
	switch status {
	case domain.StatusCompleted:
		return partnerpayoutdomain.Status(domain.Outcome(agg, total))
	case domain.StatusValidated:
		return partnerpayoutdomain.StatusValidated
	case domain.StatusAccepted:
		return partnerpayoutdomain.StatusAccepted
	case domain.StatusPartiallyCompleted:
		return partnerpayoutdomain.StatusPartiallyCompleted
	case domain.StatusFailed:
		return partnerpayoutdomain.StatusFailed
	case domain.StatusError:
		return partnerpayoutdomain.StatusError
	case domain.StatusAsiceApproved:
		return partnerpayoutdomain.StatusAsiceApproved
	default:
		return partnerpayoutdomain.StatusProcessing
	}
}

func (s *Service) fanOutLeafStatus(ctx context.Context, process *domain.PayoutProcess) error {
	payoutType := partnerpayoutdomain.TypePayout
	if len(process.PaymentIDs) > 0 {
		payoutType = partnerpayoutdomain.TypeRefundPayment
	}
	strat, err := s.registry.For(payoutType)
	if err != nil {
		return err
	}

	updated, err := strat.ApplyLeafStatus(ctx, s.db, process.PartnerID, process.CreditTransferInfo)
	if err != nil {
		return err
	}
	if s.obsMetrics != nil && updated > 0 {
		s.obsMetrics.LeafFanout.Add(float64(updated))
	}
	return nil
}

func (s *Service) markPayoutFailed(ctx context.Context, payout *partnerpayoutdomain.PartnerPayout, note string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.partnerRepo.FindForUpdate(ctx, tx, payout.ID, payout.PartnerID)
		if err != nil {
			return err
		}
		if current == nil {
			return partnerpayoutdomain.ErrNotFound
		}
		current.Status = partnerpayoutdomain.StatusFailed
		current.Events = append(current.Events, partnerpayoutdomain.Event{
			Status: string(partnerpayoutdomain.StatusFailed),
			Note:   note,
			At:     s.clock.Now(),
		})
		if err := s.partnerRepo.UpdateStatus(ctx, tx, current); err != nil {
			return err
		}
		payout.Status = current.Status
		payout.Events = current.Events
		return s.writeAuditRow(ctx, tx, payout.PartnerID, "partner_payout.failed", "partner_payout", payout.ID.String(), map[string]any{
			"note": note,
		})
	})
}

func (s *Service) writeAuditRow(ctx context.Context, tx *gorm.DB, partnerID snowflake.ID, action, targetType, targetID string, metadata map[string]any) error {
	if s.auditRepo == nil {
		return nil
	}
	entry := &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		PartnerID:  partnerID,
		ActorType:  string(auditdomain.ActorTypeSystem),
		Action:     action,
		TargetType: targetType,
		TargetID:   &targetID,
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  time.Now().UTC(),
	}
	return s.auditRepo.Insert(ctx, tx, entry)
}

func signingNote(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if note, ok := meta["note"].(string); ok {
		return note
	}
	if signer, ok := meta["signer"].(string); ok {
		return "signed by " + signer
	}
	return ""
}

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/leasepay/internal/audit"
	auditdomain "github.com/smallbiznis/leasepay/internal/audit/domain"
	"github.com/smallbiznis/leasepay/internal/config"
	"github.com/smallbiznis/leasepay/internal/invoicepayment"
	"github.com/smallbiznis/leasepay/internal/nets"
	obsmetrics "github.com/smallbiznis/leasepay/internal/observability/metrics"
	"github.com/smallbiznis/leasepay/internal/partnerpayout"
	partnerpayoutdomain "github.com/smallbiznis/leasepay/internal/partnerpayout/domain"
	"github.com/smallbiznis/leasepay/internal/payout"
	"github.com/smallbiznis/leasepay/internal/payoutprocess"
	payoutprocessdomain "github.com/smallbiznis/leasepay/internal/payoutprocess/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	partnerpayout.Module,
	payout.Module,
	invoicepayment.Module,
	payoutprocess.Module,
	nets.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsMetrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmetrics.GinMiddleware(obsMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsMetrics *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(obsMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine           *gin.Engine
	cfg              config.Config
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	partnerPayoutSvc partnerpayoutdomain.Service
	payoutProcessSvc payoutprocessdomain.Service
	auditSvc         auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	PartnerPayoutSvc partnerpayoutdomain.Service
	PayoutProcessSvc payoutprocessdomain.Service
	AuditSvc         auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		db:               p.DB,
		log:              p.Log.Named("http.server"),
		genID:            p.GenID,
		partnerPayoutSvc: p.PartnerPayoutSvc,
		payoutProcessSvc: p.PayoutProcessSvc,
		auditSvc:         p.AuditSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", s.PartnerRequired())

	// -------- Partner payouts --------
	v1.GET("/partner-payouts/:id", s.GetPartnerPayout)
	v1.POST("/partner-payouts/:id/signing", s.SignPartnerPayout)

	// -------- Payout processes --------
	v1.POST("/payout-processes", s.CreatePayoutProcess)
	v1.GET("/payout-processes/:id", s.GetPayoutProcess)
	v1.PATCH("/payout-processes/:id", s.UpdatePayoutProcess)
	v1.POST("/payout-processes/batch-update", s.BatchUpdatePayoutProcesses)

	// -------- Audit --------
	v1.GET("/audit-logs", s.ListAuditLogs)
}

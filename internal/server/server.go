package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/carepayhq/carepay/internal/capture"
	"github.com/carepayhq/carepay/internal/config"
	"github.com/carepayhq/carepay/internal/earnings"
	earningsservice "github.com/carepayhq/carepay/internal/earnings/service"
	obsmetrics "github.com/carepayhq/carepay/internal/observability/metrics"
	"github.com/carepayhq/carepay/internal/payout"
	payoutservice "github.com/carepayhq/carepay/internal/payout/service"
	"github.com/carepayhq/carepay/internal/recurring"
	recurringservice "github.com/carepayhq/carepay/internal/recurring/service"
	"github.com/carepayhq/carepay/internal/referral"
	referralservice "github.com/carepayhq/carepay/internal/referral/service"
	"github.com/carepayhq/carepay/internal/reporting"
	reportingservice "github.com/carepayhq/carepay/internal/reporting/service"
	"github.com/carepayhq/carepay/internal/timesheet"
	timesheetservice "github.com/carepayhq/carepay/internal/timesheet/service"
	"github.com/carepayhq/carepay/internal/webhook"
	webhookservice "github.com/carepayhq/carepay/internal/webhook/service"
)

var Module = fx.Module("http.server",
	obsmetrics.Module,
	capture.Module,
	recurring.Module,
	referral.Module,
	timesheet.Module,
	earnings.Module,
	webhook.Module,
	payout.Module,
	reporting.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	captureSvc   *capture.Service
	recurringSvc *recurringservice.Service
	referralSvc  *referralservice.Service
	timesheetSvc *timesheetservice.Service
	earningsSvc  *earningsservice.Service
	webhookSvc   *webhookservice.Service
	payoutSvc    *payoutservice.Service
	reportingSvc *reportingservice.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	CaptureSvc   *capture.Service
	RecurringSvc *recurringservice.Service
	ReferralSvc  *referralservice.Service
	TimesheetSvc *timesheetservice.Service
	EarningsSvc  *earningsservice.Service
	WebhookSvc   *webhookservice.Service
	PayoutSvc    *payoutservice.Service
	ReportingSvc *reportingservice.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("http.server"),
		captureSvc:   p.CaptureSvc,
		recurringSvc: p.RecurringSvc,
		referralSvc:  p.ReferralSvc,
		timesheetSvc: p.TimesheetSvc,
		earningsSvc:  p.EarningsSvc,
		webhookSvc:   p.WebhookSvc,
		payoutSvc:    p.PayoutSvc,
		reportingSvc: p.ReportingSvc,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func registerRoutes(s *Server) {
	s.registerAPIRoutes()
	s.registerAdminRoutes()
	s.registerWebhookRoutes()
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ActorMiddleware())

	bookings := api.Group("/bookings")
	{
		bookings.POST("/:booking_id/charge-intent", s.CreateChargeIntent)
		bookings.POST("/:booking_id/charge", s.ChargeBooking)
		bookings.POST("/:booking_id/autopay", s.UpdateAutoPay)
		bookings.POST("/:booking_id/referral", s.ApplyReferralCode)
	}

	timesheets := api.Group("/timesheets")
	{
		timesheets.POST("/clock-in", s.ClockIn)
		timesheets.POST("/:record_id/clock-out", s.ClockOut)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", ActorMiddleware(), RequireAdmin())

	admin.POST("/payouts/run", s.RunPayouts)
	admin.POST("/timesheets/:record_id/settle", s.SettleTimesheetRecord)

	reconciliation := admin.Group("/reconciliation")
	{
		reconciliation.GET("/overview", s.ReconciliationOverview)
		reconciliation.GET("/providers/:provider_id/earnings", s.ProviderEarnings)
	}
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payments", s.HandlePaymentWebhook)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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

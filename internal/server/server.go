package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tillpoint/internal/audit"
	auditdomain "github.com/smallbiznis/tillpoint/internal/audit/domain"
	"github.com/smallbiznis/tillpoint/internal/authorization"
	"github.com/smallbiznis/tillpoint/internal/config"
	"github.com/smallbiznis/tillpoint/internal/inventory"
	"github.com/smallbiznis/tillpoint/internal/ledger"
	"github.com/smallbiznis/tillpoint/internal/observability"
	obsmiddleware "github.com/smallbiznis/tillpoint/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tillpoint/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tillpoint/internal/observability/tracing"
	"github.com/smallbiznis/tillpoint/internal/order"
	orderdomain "github.com/smallbiznis/tillpoint/internal/order/domain"
	"github.com/smallbiznis/tillpoint/internal/payment"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	"github.com/smallbiznis/tillpoint/internal/product"
	"github.com/smallbiznis/tillpoint/internal/providers/pdf"
	"github.com/smallbiznis/tillpoint/internal/ratelimit"
	"github.com/smallbiznis/tillpoint/internal/report"
	reportdomain "github.com/smallbiznis/tillpoint/internal/report/domain"
	"github.com/smallbiznis/tillpoint/internal/sequence"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	sequence.Module,
	ledger.Module,
	product.Module,
	inventory.Module,
	order.Module,
	payment.Module,
	report.Module,
	ratelimit.Module,
	pdf.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, gatherer prometheus.Gatherer) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics, gatherer)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine      *gin.Engine
	cfg         config.Config
	authzSvc    authorization.Service
	auditSvc    auditdomain.Service
	orderSvc    orderdomain.Service
	paymentSvc  paymentdomain.Service
	reportSvc   reportdomain.Service
	pdfProvider pdf.Provider
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	AuthzSvc    authorization.Service
	AuditSvc    auditdomain.Service
	OrderSvc    orderdomain.Service
	PaymentSvc  paymentdomain.Service
	ReportSvc   reportdomain.Service
	PDFProvider pdf.Provider `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		authzSvc:    p.AuthzSvc,
		auditSvc:    p.AuditSvc,
		orderSvc:    p.OrderSvc,
		paymentSvc:  p.PaymentSvc,
		reportSvc:   p.ReportSvc,
		pdfProvider: p.PDFProvider,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(ActorContext(), RequireActor())

	orders := api.Group("/orders")
	orders.GET("/stats", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderStats), s.OrderStats)
	orders.GET("/reports/today", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderList), s.TodayOrders)
	orders.GET("/reports/range", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderRange), s.ListOrdersByRange)
	orders.GET("/customer/:customerId", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderView), s.ListCustomerOrders)
	orders.GET("", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderList), s.ListOrders)
	orders.GET("/:id", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderView), s.GetOrder)
	orders.POST("", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderCreate), s.CreateOrder)
	orders.PATCH("/:id/status", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderUpdateStatus), s.UpdateOrderStatus)
	orders.PATCH("/:id/discount", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderDiscount), s.ApplyOrderDiscount)
	orders.DELETE("/:id", s.authorizeAction(authorization.ObjectOrder, authorization.ActionOrderCancel), s.CancelOrder)

	payments := api.Group("/payments")
	payments.GET("/stats", s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentStats), s.PaymentStats)
	payments.GET("/reports/revenue", s.authorizeAction(authorization.ObjectReport, authorization.ActionReportRevenue), s.RevenueReport)
	payments.GET("/reports/daily", s.authorizeAction(authorization.ObjectReport, authorization.ActionReportDaily), s.DailyRevenueReport)
	payments.GET("/order/:orderId", s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.PaymentsByOrder)
	payments.GET("", s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentList), s.ListPayments)
	payments.GET("/:id", s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPayment)
	payments.GET("/:id/receipt", s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentReceipt), s.PaymentReceipt)
	payments.POST("/process", s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentProcess), s.ProcessPayment)
	payments.POST("/:id/refund", s.authorizeAction(authorization.ObjectPayment, authorization.ActionPaymentRefund), s.RefundPayment)

	api.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, envelope{Success: false, Message: "route not found"})
	})
}

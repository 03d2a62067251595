package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	allocationdomain "github.com/ngtluan2k/NextMarket-sub001/internal/allocation/domain"
	attributiondomain "github.com/ngtluan2k/NextMarket-sub001/internal/attribution/domain"
	"github.com/ngtluan2k/NextMarket-sub001/internal/config"
	frauddomain "github.com/ngtluan2k/NextMarket-sub001/internal/fraud/domain"
	"github.com/ngtluan2k/NextMarket-sub001/internal/observability/metrics"
	programdomain "github.com/ngtluan2k/NextMarket-sub001/internal/program/domain"
	referraldomain "github.com/ngtluan2k/NextMarket-sub001/internal/referral/domain"
	reversaldomain "github.com/ngtluan2k/NextMarket-sub001/internal/reversal/domain"
)

// Server binds HTTP handlers to the domain services.
type Server struct {
	engine *gin.Engine

	cfg config.Config
	log *zap.Logger
	db  *gorm.DB

	metrics *metrics.Metrics

	referralSvc    referraldomain.Service
	budget         programdomain.BudgetLedger
	attributionSvc attributiondomain.Service
	fraudGate      frauddomain.Gate
	allocator      allocationdomain.Engine
	reversals      reversaldomain.Engine
}

// Params collects the server dependencies from fx.
type Params struct {
	fx.In

	Engine  *gin.Engine
	Cfg     config.Config
	Log     *zap.Logger
	DB      *gorm.DB
	Metrics *metrics.Metrics

	ReferralSvc    referraldomain.Service
	Budget         programdomain.BudgetLedger
	AttributionSvc attributiondomain.Service
	FraudGate      frauddomain.Gate
	Allocator      allocationdomain.Engine
	Reversals      reversaldomain.Engine
}

// NewServer wires the HTTP server.
func NewServer(p Params) *Server {
	return &Server{
		engine:         p.Engine,
		cfg:            p.Cfg,
		log:            p.Log.Named("server"),
		db:             p.DB,
		metrics:        p.Metrics,
		referralSvc:    p.ReferralSvc,
		budget:         p.Budget,
		attributionSvc: p.AttributionSvc,
		fraudGate:      p.FraudGate,
		allocator:      p.Allocator,
		reversals:      p.Reversals,
	}
}

// NewEngine builds the gin engine with recovery and request logging.
func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log.Named("http")))
	return engine
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		}
		for _, ginErr := range c.Errors {
			fields = append(fields, zap.Error(ginErr.Err))
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("request failed", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

// RegisterAPIRoutes attaches every route to the engine.
func (s *Server) RegisterAPIRoutes() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})

	s.engine.GET("/healthz", s.Healthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	{
		api.POST("/orders/:id/paid", s.OrderPaid)
		api.POST("/orders/:id/reverse", s.ReverseOrder)
		api.POST("/orders/:id/void", s.VoidOrder)
		api.POST("/order-items/:id/partial-reversal", s.PartialReversal)

		api.POST("/referrals", s.EnrollReferral)
		api.GET("/referrals/:id/ancestors", s.ListAncestors)
		api.GET("/referrals/:id/descendants", s.ListDescendants)
		api.GET("/referrals/:id/tree", s.DescendantTree)

		api.GET("/programs/:id/budget", s.ProgramBudget)

		api.POST("/links/:code/click", s.RecordLinkClick)

		api.GET("/fraud-logs", s.ListFraudLogs)
		api.POST("/fraud-logs/:id/review", s.ReviewFraudLog)
	}
}

// Healthz reports liveness and database reachability.
func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunHTTP starts the HTTP listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server started", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil {
		AbortWithError(c, newValidationError(name, "invalid_id", "invalid "+name))
		return 0, false
	}
	return id, true
}

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/subhub/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/subhub/internal/catalog/domain"
	"github.com/smallbiznis/subhub/internal/clock"
	"github.com/smallbiznis/subhub/internal/config"
	favoritedomain "github.com/smallbiznis/subhub/internal/favorite/domain"
	ledgerdomain "github.com/smallbiznis/subhub/internal/ledger/domain"
	"github.com/smallbiznis/subhub/internal/observability"
	obsmiddleware "github.com/smallbiznis/subhub/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/subhub/internal/observability/metrics"
	obstracing "github.com/smallbiznis/subhub/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
	"github.com/smallbiznis/subhub/internal/ratelimit"
	userdomain "github.com/smallbiznis/subhub/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(obsmetrics.NewHTTPMetrics),
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) {
		s.RegisterAPIRoutes()
		s.RegisterAdminRoutes()
	}),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// RunHTTP serves the engine on the configured address for the app lifetime.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
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
	engine       *gin.Engine
	cfg          config.Config
	clock        clock.Clock
	userSvc      userdomain.Service
	catalogSvc   catalogdomain.Service
	orderSvc     orderdomain.Service
	ledgerSvc    ledgerdomain.Service
	favoriteSvc  favoritedomain.Service
	auditSvc     auditdomain.Service
	orderLimiter *ratelimit.OrderLimiter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Clock        clock.Clock
	UserSvc      userdomain.Service
	CatalogSvc   catalogdomain.Service
	OrderSvc     orderdomain.Service
	LedgerSvc    ledgerdomain.Service
	FavoriteSvc  favoritedomain.Service
	AuditSvc     auditdomain.Service
	OrderLimiter *ratelimit.OrderLimiter `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		clock:        p.Clock,
		userSvc:      p.UserSvc,
		catalogSvc:   p.CatalogSvc,
		orderSvc:     p.OrderSvc,
		ledgerSvc:    p.LedgerSvc,
		favoriteSvc:  p.FavoriteSvc,
		auditSvc:     p.AuditSvc,
		orderLimiter: p.OrderLimiter,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Catalog --------
	api.GET("/subscriptions", s.ListSubscriptions)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.GET("/subscriptions/:id/tariffs", s.ListTariffs)

	user := api.Group("", s.UserRequired())

	user.GET("/me", s.GetMe)

	// -------- Orders --------
	user.GET("/orders", s.ListOrders)
	user.GET("/orders/:id", s.GetOrderByID)
	user.POST("/orders", s.OrderRateLimit(), s.CreateOrder)
	user.POST("/orders/:id/cancel", s.OrderRateLimit(), s.CancelOrder)
	user.POST("/orders/:id/resume", s.OrderRateLimit(), s.ResumeOrder)
	user.PATCH("/orders/:id/tariff", s.OrderRateLimit(), s.ChangeOrderTariff)

	// -------- Ledger --------
	user.GET("/transactions", s.ListTransactions)
	user.GET("/summary", s.GetSummary)

	// -------- Favorites --------
	user.GET("/favorites", s.ListFavorites)
	user.POST("/favorites/:subscriptionId", s.AddFavorite)
	user.DELETE("/favorites/:subscriptionId", s.RemoveFavorite)
}

func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin", s.AdminRequired())

	admin.POST("/users", s.CreateUser)
	admin.GET("/users/:id", s.GetUserByID)
	admin.POST("/users/:id/top-up", s.TopUpUser)

	admin.POST("/subscriptions", s.CreateSubscription)
	admin.POST("/subscriptions/:id/tariffs", s.CreateTariff)
	admin.PATCH("/tariffs/:id", s.UpdateTariff)

	admin.GET("/audit-logs", s.ListAuditLogs)
}

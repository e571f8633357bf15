package server

import (
	"context"
	"net/http"
	"time"

	"github.com/EF-corp/AgroBotTg/internal/authorization"
	"github.com/EF-corp/AgroBotTg/internal/config"
	entitlementdomain "github.com/EF-corp/AgroBotTg/internal/entitlement/domain"
	"github.com/EF-corp/AgroBotTg/internal/interaction"
	"github.com/EF-corp/AgroBotTg/internal/observability"
	obsmiddleware "github.com/EF-corp/AgroBotTg/internal/observability/logger"
	obsmetrics "github.com/EF-corp/AgroBotTg/internal/observability/metrics"
	obstracing "github.com/EF-corp/AgroBotTg/internal/observability/tracing"
	paymentdomain "github.com/EF-corp/AgroBotTg/internal/payment/domain"
	"github.com/EF-corp/AgroBotTg/internal/payment/webhook"
	promodomain "github.com/EF-corp/AgroBotTg/internal/promo/domain"
	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	"github.com/EF-corp/AgroBotTg/internal/ratelimit"
	"github.com/EF-corp/AgroBotTg/internal/renewal"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(func(d *interaction.Dispatcher) Interactions { return d }),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// Interactions is the part of the bot dispatcher the HTTP transport drives.
type Interactions interface {
	Dispatch(ctx context.Context, ev interaction.InboundEvent) error
	HandleMessage(ctx context.Context, userID int64, req interaction.MessageRequest) (interaction.MessageResult, error)
	StartPurchase(ctx context.Context, userID int64, rateName string) (string, error)
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
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

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	userSvc       userdomain.Service
	ledgerSvc     entitlementdomain.Service
	rateSvc       ratedomain.Service
	promoSvc      promodomain.Service
	paymentSvc    paymentdomain.Service
	webhookSvc    webhook.Service
	renewalSvc    renewal.Service
	interactions  Interactions
	authzSvc      authorization.Service
	limiter       *ratelimit.MessageLimiter
	obsMetrics    *obsmetrics.Metrics
	adminKeyCheck func(key string) bool
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	UserSvc      userdomain.Service
	LedgerSvc    entitlementdomain.Service
	RateSvc      ratedomain.Service
	PromoSvc     promodomain.Service
	PaymentSvc   paymentdomain.Service
	WebhookSvc   webhook.Service
	RenewalSvc   renewal.Service
	Interactions Interactions
	AuthzSvc     authorization.Service
	Limiter      *ratelimit.MessageLimiter `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		userSvc:       p.UserSvc,
		ledgerSvc:     p.LedgerSvc,
		rateSvc:       p.RateSvc,
		promoSvc:      p.PromoSvc,
		paymentSvc:    p.PaymentSvc,
		webhookSvc:    p.WebhookSvc,
		renewalSvc:    p.RenewalSvc,
		interactions:  p.Interactions,
		authzSvc:      p.AuthzSvc,
		limiter:       p.Limiter,
		obsMetrics:    p.ObsMetrics,
		adminKeyCheck: newAdminKeyCheck(p.Cfg.AdminAPIKeyHash),
	}

	svc.registerUserRoutes()
	svc.registerPublicRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerUserRoutes() {
	v1 := s.engine.Group("/v1")

	v1.GET("/rates", s.ListRates)

	users := v1.Group("/users")
	users.POST("", s.EnsureUser)

	user := users.Group("/:id", s.UserContext())
	{
		user.PUT("/phone", s.SetPhone)
		user.GET("/balance", s.GetBalance)
		user.POST("/events", s.DispatchEvent)
		user.POST("/messages", s.MessageRateLimit(), s.PostMessage)
		user.POST("/purchases", s.StartPurchase)
		user.DELETE("/purchases", s.CancelPurchase)
		user.POST("/promo", s.RedeemPromo)
	}
}

func (s *Server) registerPublicRoutes() {
	s.engine.POST("/payments/notification", s.HandlePaymentNotification)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AdminRequired())

	admin.POST("/rates", s.authorizeAction(authorization.ObjectRate, authorization.ActionRateCreate), s.CreateRate)
	admin.PUT("/rates/:name", s.authorizeAction(authorization.ObjectRate, authorization.ActionRateUpdate), s.UpdateRate)
	admin.DELETE("/rates/:name", s.authorizeAction(authorization.ObjectRate, authorization.ActionRateDelete), s.DeleteRate)

	admin.GET("/promos", s.authorizeAction(authorization.ObjectPromo, authorization.ActionPromoView), s.ListPromos)
	admin.POST("/promos", s.authorizeAction(authorization.ObjectPromo, authorization.ActionPromoCreate), s.CreatePromo)
	admin.DELETE("/promos/:code", s.authorizeAction(authorization.ObjectPromo, authorization.ActionPromoDelete), s.DeletePromo)

	admin.GET("/users/:id", s.authorizeAction(authorization.ObjectUser, authorization.ActionUserView), s.GetUser)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

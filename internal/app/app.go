package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/inkwell/server/cmd/server/docs" // swagger docs
	"github.com/inkwell/server/internal/jobs"
	"github.com/inkwell/server/internal/module/auth"
	"github.com/inkwell/server/internal/module/notification"
	"github.com/inkwell/server/internal/module/payment"
	"github.com/inkwell/server/internal/module/payment/provider"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/quota"
	"github.com/inkwell/server/internal/module/subscription"
	"github.com/inkwell/server/internal/module/tokenusage"
	"github.com/inkwell/server/internal/module/usage"
	"github.com/inkwell/server/internal/module/user"
	"github.com/inkwell/server/internal/module/webhook"
	sharedcache "github.com/inkwell/server/internal/shared/cache"
	"github.com/inkwell/server/internal/shared/clock"
	"github.com/inkwell/server/internal/shared/config"
	"github.com/inkwell/server/internal/shared/database"
	"github.com/inkwell/server/internal/shared/logger"
	"github.com/inkwell/server/internal/utils/metrics"
	"github.com/inkwell/server/internal/utils/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const webhookJobTimeout = 30 * time.Second

// Deps are the infrastructure handles the application runs on. Zero values
// are filled from the config by New.
type Deps struct {
	DB       *gorm.DB
	Redis    redis.UniversalClient
	Registry *prometheus.Registry
	Clock    clock.Clock
	Logger   *zap.Logger
}

// App represents the application.
type App struct {
	config    *config.Config
	db        *gorm.DB
	redis     redis.UniversalClient
	router    *gin.Engine
	logger    *logger.Logger
	zapLogger *zap.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	clock     clock.Clock

	// Modules
	authService         *auth.Service
	jwtManager          *auth.JWTManager
	authHandler         *auth.Handler
	subscriptionService *subscription.Service
	subscriptionHandler *subscription.Handler
	usageService        *usage.Service
	usageHandler        *usage.Handler
	tokenUsageService   *tokenusage.Service
	tokenUsageHandler   *tokenusage.Handler
	quotaGate           *quota.Gate
	quotaHandler        *quota.Handler
	notificationGate    *notification.Gate
	notificationHandler *notification.Handler
	paymentHandler      *payment.Handler
	webhookHandler      *webhook.Handler
	webhookDispatcher   *webhook.Dispatcher
	scheduler           *jobs.Scheduler
}

// New connects to the configured datastores and builds the application.
func New(cfg *config.Config) (*App, error) {
	zapLog, err := logger.NewZapLogger(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init zap logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rdb, err := sharedcache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		// Redis only backs the daily call counter and idempotency keys.
		zapLog.Warn("redis unavailable, daily call limits disabled", zap.Error(err))
		rdb = nil
	}

	return NewWithDeps(cfg, Deps{DB: db, Redis: rdb, Logger: zapLog})
}

// NewWithDeps builds the application on existing infrastructure.
func NewWithDeps(cfg *config.Config, deps Deps) (*App, error) {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
		deps.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := &App{
		config: cfg,
		db:     deps.DB,
		redis:  deps.Redis,
		logger: logger.New(&logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
		}),
		zapLogger: deps.Logger,
		registry:  deps.Registry,
		metrics:   metrics.New("inkwell", deps.Registry),
		clock:     deps.Clock,
	}

	if cfg.Database.AutoMigrate {
		if err := app.migrate(); err != nil {
			return nil, err
		}
	}

	if err := app.initModules(); err != nil {
		return nil, fmt.Errorf("init modules: %w", err)
	}

	app.router = app.setupRouter()
	app.registerRoutes()

	if app.scheduler != nil {
		app.scheduler.Start()
	}
	return app, nil
}

func (a *App) migrate() error {
	return database.Migrate(a.db,
		&user.User{},
		&auth.APIKey{},
		&subscription.Subscription{},
		&usage.Period{},
		&tokenusage.Record{},
		&notification.Record{},
		&webhook.Event{},
	)
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(a.config.Server.FrontendURL)))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	return r
}

// initModules builds modules bottom-up: catalog and subscriptions first,
// then the ledger, gates and providers that depend on them.
func (a *App) initModules() error {
	cfg := a.config

	catalog := plan.NewCatalog(plan.ProviderIDs{
		StripePricePro:        cfg.Stripe.PriceIDPro,
		StripePriceEnterprise: cfg.Stripe.PriceIDEnterprise,
		PayPalPlanPro:         cfg.PayPal.PlanIDPro,
		PayPalPlanEnterprise:  cfg.PayPal.PlanIDEnterprise,
	})

	// Auth
	a.jwtManager = auth.NewJWTManager(&auth.JWTConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
	})
	a.authService = auth.NewService(auth.NewAPIKeyRepository(a.db), a.clock, a.zapLogger)
	a.authHandler = auth.NewHandler(a.authService)

	// Subscription state
	a.subscriptionService = subscription.NewService(subscription.NewRepository(a.db), catalog, a.clock, a.zapLogger)
	a.subscriptionHandler = subscription.NewHandler(a.subscriptionService)

	// Usage ledger and token log
	a.usageService = usage.NewService(usage.NewRepository(a.db), a.subscriptionService, a.clock, a.metrics, a.zapLogger)
	a.usageHandler = usage.NewHandler(a.usageService)
	a.tokenUsageService = tokenusage.NewService(tokenusage.NewRepository(a.db), a.clock, a.zapLogger)
	a.tokenUsageHandler = tokenusage.NewHandler(a.tokenUsageService)

	// Notifications
	a.notificationGate = notification.NewGate(notification.GateConfig{
		Repo:        notification.NewRepository(a.db),
		Users:       user.NewRepository(a.db),
		Plans:       a.subscriptionService,
		Sender:      notification.NewSender(&cfg.Email, a.zapLogger),
		Cache:       notification.NewLRUSentCache(cfg.Notification.CacheSize, cfg.Notification.CacheTTL),
		Clock:       a.clock,
		Metrics:     a.metrics,
		Logger:      a.zapLogger,
		FrontendURL: cfg.Server.FrontendURL,
	})
	a.notificationHandler = notification.NewHandler(a.notificationGate)
	a.wireUsageHooks()

	// Quota gate
	a.quotaGate = quota.NewGate(a.subscriptionService, a.usageService, a.tokenUsageService, a.redis, a.clock, a.metrics, a.zapLogger)
	a.quotaHandler = quota.NewHandler(a.quotaGate, a.usageService)

	// Payment providers
	var (
		stripeGateway  payment.StripeGateway
		paypalGateway  payment.PayPalGateway
		stripeVerifier webhook.StripeVerifier
		paypalVerifier webhook.PayPalVerifier
	)
	if cfg.Stripe.Enabled() {
		sp := provider.NewStripeProvider(provider.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Breaker:       provider.DefaultBreakerConfig(),
		}, a.metrics)
		stripeGateway, stripeVerifier = sp, sp
	}
	if cfg.PayPal.Enabled() {
		pp, err := provider.NewPayPalClient(provider.PayPalConfig{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			IsProd:       cfg.PayPal.IsLive(),
			WebhookID:    cfg.PayPal.WebhookID,
			BrandName:    cfg.PayPal.BrandName,
			Breaker:      provider.DefaultBreakerConfig(),
		}, a.metrics)
		if err != nil {
			// Checkout and webhooks answer PROVIDER_MISCONFIGURED until restart.
			a.zapLogger.Error("paypal disabled", zap.Error(err))
		} else {
			paypalGateway, paypalVerifier = pp, pp
		}
	}

	a.paymentHandler = payment.NewHandler(payment.NewService(payment.Config{
		Stripe:        stripeGateway,
		PayPal:        paypalGateway,
		Subscriptions: a.subscriptionService,
		Users:         user.NewRepository(a.db),
		URLs: payment.URLs{
			StripeSuccess:      cfg.Stripe.SuccessURL,
			StripeCancel:       cfg.Stripe.CancelURL,
			StripePortalReturn: cfg.Stripe.PortalReturnURL,
			PayPalReturn:       cfg.PayPal.ReturnURL,
			PayPalCancel:       cfg.PayPal.CancelURL,
		},
		Logger: a.zapLogger,
	}))

	// Webhooks
	processor := webhook.NewProcessor(webhook.NewRepository(a.db), map[string]webhook.Reconciler{
		webhook.ProviderStripe: webhook.NewStripeReconciler(a.subscriptionService, a.zapLogger),
		webhook.ProviderPayPal: webhook.NewPayPalReconciler(a.subscriptionService, a.zapLogger),
	}, a.clock, a.metrics, a.zapLogger)
	a.webhookDispatcher = webhook.NewDispatcher(cfg.Webhook.Workers, cfg.Webhook.QueueSize, webhookJobTimeout, a.zapLogger, a.metrics)
	a.webhookHandler = webhook.NewHandler(stripeVerifier, paypalVerifier, processor, a.webhookDispatcher, a.zapLogger)

	// Jobs
	if cfg.Jobs.Enabled {
		scheduler, err := jobs.New(jobs.Config{
			UsageResetSchedule: cfg.Jobs.UsageResetSchedule,
			QuotaSweepSchedule: cfg.Jobs.QuotaSweepSchedule,
			Ledger:             a.usageService,
			Subscriptions:      a.subscriptionService,
			Tokens:             a.tokenUsageService,
			Notifier:           a.notificationGate,
			Clock:              a.clock,
			Logger:             a.zapLogger,
		})
		if err != nil {
			return fmt.Errorf("init jobs: %w", err)
		}
		a.scheduler = scheduler
	}

	return nil
}

// wireUsageHooks sends threshold notifications after increments and reset
// notices after the monthly rollover. Threshold emails go out in the
// background; notification failures never fail the usage write.
func (a *App) wireUsageHooks() {
	a.usageService.OnIncrement(func(ctx context.Context, userID uuid.UUID, feature plan.Feature, used, limit int64) {
		a.notificationGate.NotifyAsync(ctx, userID, string(feature), used, limit)
	})
	a.usageService.OnReset(func(ctx context.Context, userID uuid.UUID) {
		if _, err := a.notificationGate.NotifyReset(ctx, userID); err != nil {
			a.zapLogger.Warn("quota reset notification failed",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	})
}

// registerRoutes registers routes for all modules.
func (a *App) registerRoutes() {
	api := a.router.Group("/api")

	// Signature-verified provider callbacks
	a.webhookHandler.RegisterRoutes(api)

	// Signed-in users
	userRouter := api.Group("")
	userRouter.Use(middleware.RequireAuth(a.jwtManager))
	a.subscriptionHandler.RegisterRoutes(userRouter)
	a.paymentHandler.RegisterRoutes(userRouter, middleware.Idempotency(a.redis, 0))
	a.usageHandler.RegisterRoutes(userRouter)
	a.quotaHandler.RegisterRoutes(userRouter)
	a.notificationHandler.RegisterRoutes(userRouter)
	a.authHandler.RegisterRoutes(userRouter, a.quotaGate.RequireFeature(plan.CapabilityAPI))

	// Connected platforms
	platformRouter := api.Group("")
	platformRouter.Use(middleware.RequireAPIKey(a.authService), a.quotaGate.RequireFeature(plan.CapabilityAPI))
	a.tokenUsageHandler.RegisterPlatformRoutes(platformRouter)
	a.usageHandler.RegisterPlatformRoutes(platformRouter)
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop drains background work and releases resources.
func (a *App) Stop(ctx context.Context) {
	if a.scheduler != nil {
		a.scheduler.Stop(ctx)
	}
	if a.webhookDispatcher != nil {
		a.webhookDispatcher.Stop()
	}
	if a.notificationGate != nil {
		if err := a.notificationGate.Wait(ctx); err != nil {
			a.zapLogger.Warn("pending notifications abandoned", zap.Error(err))
		}
	}

	if a.zapLogger != nil {
		_ = a.zapLogger.Sync()
	}
	if a.redis != nil {
		_ = sharedcache.Close(a.redis)
	}
	if a.db != nil {
		_ = database.Close(a.db)
	}
}

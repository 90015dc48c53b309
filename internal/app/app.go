// Package app wires the services shared by the API server and posmctl.
package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"posmdesk/internal/config"
	"posmdesk/internal/database"
	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/audit"
	"posmdesk/internal/domain/auth"
	"posmdesk/internal/domain/inventory"
	"posmdesk/internal/domain/notification"
	"posmdesk/internal/domain/photo"
	"posmdesk/internal/domain/reference"
	"posmdesk/internal/domain/request"
	"posmdesk/internal/domain/schedule"
	"posmdesk/internal/domain/transfer"
	"posmdesk/internal/middleware"
	"posmdesk/internal/pkg/jwt"
	"posmdesk/internal/pkg/keylock"
	"posmdesk/internal/pkg/lease"
	"posmdesk/internal/pkg/livefeed"
	"posmdesk/internal/pkg/ratelimit"
	"posmdesk/internal/queue"
)

type App struct {
	Config *config.AppConfig
	DB     *gorm.DB
	Hub    *livefeed.Hub
	JWT    *jwt.Service

	Audit      *audit.Recorder
	References *reference.Repository
	Users      *auth.Service
	Requests   *request.Service
	Ledger     *inventory.Ledger
	Transfers  *transfer.Coordinator
	Planner    *schedule.Planner
	Engine     *schedule.Engine
	Reports    *schedule.ReportService
	Photos     *photo.DiskStore

	Notifications *notification.Service

	redis   *redis.Client
	limiter ratelimit.Limiter
}

// Models lists every table the service owns, in migration order.
func Models() []any {
	models := reference.Models()
	models = append(models, auth.Models()...)
	models = append(models, request.Models()...)
	models = append(models, inventory.Models()...)
	models = append(models, transfer.Models()...)
	models = append(models, schedule.Models()...)
	models = append(models, audit.Models()...)
	models = append(models, notification.Models()...)
	return models
}

// New connects to the database and builds the service graph.
func New(cfg *config.AppConfig) (*App, error) {
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return Build(cfg, db), nil
}

// Build wires services over an open database. Reports and notifications go
// to RabbitMQ when RABBITMQ_URL is set; otherwise reports go to the log and
// notifications stay in-app. The tick lease and the rate limit are shared
// through Redis when REDIS_ADDR answers.
func Build(cfg *config.AppConfig, db *gorm.DB) *App {
	a := &App{
		Config: cfg,
		DB:     db,
		Hub:    livefeed.NewHub(),
		JWT:    jwt.New(cfg.JWTSecret, cfg.JWTTTL),
	}

	policy := access.NewPolicy()
	locks := keylock.New()
	a.Audit = audit.NewRecorder(db, policy, a.Hub)
	a.References = reference.NewRepository(db)

	users := auth.NewRepository(db)
	a.Users = auth.NewService(users, a.JWT, policy, a.Audit, a.References)
	a.Requests = request.NewService(db, policy, a.Audit, a.References, locks, cfg.LockWait)
	a.Ledger = inventory.NewLedger(db, policy, a.Audit, locks, cfg.LockWait, a.References)
	a.Transfers = transfer.NewCoordinator(db, policy, a.Audit, locks, cfg.LockWait, a.References)
	a.Planner = schedule.NewPlanner(policy, a.Requests)

	var delivery schedule.Delivery = schedule.LogDelivery{}
	var outbox notification.Outbox
	if cfg.RabbitMQURL != "" {
		delivery = queue.NewPublisher(cfg.RabbitMQURL, cfg.ReportQueue)
		outbox = queue.NewPublisher(cfg.RabbitMQURL, cfg.NotificationQueue)
	}
	a.Notifications = notification.NewService(notification.NewRepository(db), users, a.Hub, outbox)
	a.Requests.SetNotifier(a.Notifications)

	var tickLease lease.Lease = lease.NewMemory()
	if a.redis = lease.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); a.redis != nil {
		tickLease = lease.NewRedis(a.redis)
	}
	if cfg.RateLimitEnabled {
		a.limiter = newLimiter(cfg, a.redis)
	}

	a.Engine = schedule.NewEngine(db, users, delivery, tickLease, cfg.ReportTimezone, a.Hub)
	a.Reports = schedule.NewReportService(db, policy, a.Audit, a.References, a.Engine, delivery)
	a.Photos = photo.NewDiskStore(cfg.PhotoDir, cfg.PhotoURLBase)
	return a
}

// newLimiter budgets RateLimitPerMinute requests per client IP with bursts
// of RateLimitBurst, shared across replicas when Redis is configured.
func newLimiter(cfg *config.AppConfig, rdb *redis.Client) ratelimit.Limiter {
	rc := ratelimit.Config{
		Capacity: cfg.RateLimitBurst,
		Refill:   cfg.RateLimitPerMinute,
		Interval: time.Minute,
		Prefix:   "posmdesk:rl:",
	}
	if rdb != nil {
		return ratelimit.NewRedis(rdb, rc)
	}
	return ratelimit.NewMemory(rc)
}

func (a *App) Migrate() error {
	return database.Migrate(a.DB, Models()...)
}

// Router builds the HTTP surface.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(middleware.ErrorLogger(), middleware.RequestLogger(), middleware.CORS(a.Config.CORSOrigins))
	r.MaxMultipartMemory = photo.MaxFileSize + 1<<20

	r.GET("/health", a.health)
	r.GET("/ws/feed", a.Hub.Handler(middleware.FeedResolver(a.JWT)))
	r.Static(a.Photos.StaticBase(), a.Photos.BaseDir())

	authHandler := auth.NewHandler(a.Users, a.JWT.TTL())
	referenceHandler := reference.NewHandler(a.References)
	photoHandler := photo.NewHandler(a.Photos)
	requestHandler := request.NewHandler(a.Requests, a.Photos)
	inventoryHandler := inventory.NewHandler(a.Ledger)
	transferHandler := transfer.NewHandler(a.Transfers)
	scheduleHandler := schedule.NewHandler(a.Planner, a.Reports, a.Engine)
	auditHandler := audit.NewHandler(a.Audit)
	notificationHandler := notification.NewHandler(a.Notifications)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.RateLimit(a.limiter))
	{
		authHandler.RegisterPublicRoutes(v1)

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(a.JWT))
		{
			authHandler.RegisterProtectedRoutes(protected)
			referenceHandler.RegisterRoutes(protected)
			photoHandler.RegisterRoutes(protected)
			requestHandler.RegisterRoutes(protected)
			inventoryHandler.RegisterRoutes(protected)
			transferHandler.RegisterRoutes(protected)
			scheduleHandler.RegisterRoutes(protected)
			auditHandler.RegisterRoutes(protected)
			notificationHandler.RegisterRoutes(protected)
		}
	}
	return r
}

// health reports degraded, not failed, when audit writes have been lost.
func (a *App) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	dbStatus := "ok"
	if sqlDB, err := a.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbStatus = "unreachable"
		status = "down"
	}
	auditFailures := a.Audit.Failures()
	if status == "ok" && auditFailures > 0 {
		status = "degraded"
	}

	code := http.StatusOK
	if status == "down" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":           status,
		"database":         dbStatus,
		"audit_failures":   auditFailures,
		"feed_connections": a.Hub.Connections(),
		"report_timezone":  a.Engine.Location().String(),
	})
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Printf("redis_close_failed error=%q", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

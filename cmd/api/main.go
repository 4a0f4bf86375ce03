package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-ledger-api/internal/config"
	"github.com/noah-isme/gema-ledger-api/internal/curriculum"
	"github.com/noah-isme/gema-ledger-api/internal/database"
	"github.com/noah-isme/gema-ledger-api/internal/handler"
	"github.com/noah-isme/gema-ledger-api/internal/middleware"
	"github.com/noah-isme/gema-ledger-api/internal/repository"
	"github.com/noah-isme/gema-ledger-api/internal/router"
	"github.com/noah-isme/gema-ledger-api/internal/service"
	cloud "github.com/noah-isme/gema-ledger-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		Verbose:         cfg.AppEnv == "development",
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := repository.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	if redisClient == nil {
		logger.Warn().Msg("redis not configured; analytics cache and mirror outbox disabled")
	} else {
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	catalog, err := curriculum.LoadDir(cfg.TopicCatalogDir, logger)
	if err != nil {
		logger.Warn().Err(err).Str("dir", cfg.TopicCatalogDir).Msg("topic catalog unavailable; display names fall back to humanized ids")
		catalog = curriculum.NewCatalog(logger)
	}

	var uploader service.DrawingUploader
	if cfg.CloudinaryEnabled() {
		cld, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		uploader = cld
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	store := repository.NewResponseStore(db)
	assessmentRepo := repository.NewAssessmentRepository(db)

	events := service.NewReviewEventHub(redisClient, cfg.EventsChannel, natsConn, logger)
	weaknessService := service.NewWeaknessService(store, catalog, redisClient, cfg.AnalyticsCacheTTL, logger)
	outbox := service.NewMirrorOutbox(redisClient, store, weaknessService, logger)
	cleanupService := service.NewCleanupService(store, assessmentRepo, weaknessService, events, cfg.CleanupConcurrency, logger)
	assessmentService := service.NewAssessmentService(assessmentRepo, cleanupService, validate, logger)
	responseService := service.NewResponseService(store, assessmentRepo, service.ResponseServiceDeps{
		Drawings:  service.NewDrawingStore(uploader, logger),
		Outbox:    outbox,
		Events:    events,
		Snapshots: weaknessService,
	}, validate, logger)
	reviewService := service.NewReviewService(store, assessmentRepo, outbox, events, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	deps := router.Dependencies{
		AssessmentHandler:   handler.NewAssessmentHandler(assessmentService, logger),
		ResponseHandler:     handler.NewResponseHandler(responseService, logger),
		ReviewHandler:       handler.NewReviewHandler(reviewService, responseService, logger),
		ReviewStreamHandler: handler.NewReviewStreamHandler(events, logger),
		AnalyticsHandler:    handler.NewAnalyticsHandler(weaknessService, catalog, logger),
		MaintenanceHandler:  handler.NewMaintenanceHandler(cleanupService, outbox, logger),
		HealthProbes:        healthProbes(db, redisClient, natsConn),
		SubmitRateLimiter:   middleware.RateLimit("submit", 30, time.Minute),
	}
	if cfg.JWTSecret != "" {
		deps.JWTMiddleware = middleware.JWTProtected(cfg.JWTSecret)
		deps.StaffMiddleware = middleware.RequireStaff()
	} else {
		logger.Warn().Msg("jwt secret not set; api runs without authentication")
	}

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSAllowOrigins})
	router.Register(app, cfg, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events.Start(ctx)
	go drainOutbox(ctx, outbox, cfg.OutboxDrainInterval, cfg.OutboxDrainBatch, logger)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cancel)
}

func drainOutbox(ctx context.Context, outbox service.MirrorOutbox, interval time.Duration, batch int, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := outbox.Drain(ctx, batch)
			if err != nil {
				logger.Warn().Err(err).Msg("mirror outbox drain failed")
				continue
			}
			if report.Processed > 0 {
				logger.Info().
					Int("applied", report.Applied).
					Int("requeued", report.Requeued).
					Int("pending", report.Pending).
					Msg("mirror outbox drained")
			}
		}
	}
}

func healthProbes(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) []handler.HealthProbe {
	probes := []handler.HealthProbe{{
		Name:  "database",
		Check: func(ctx context.Context) error { return database.PingDB(ctx, db) },
	}}
	if redisClient != nil {
		probes = append(probes, handler.HealthProbe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	if natsConn != nil {
		probes = append(probes, handler.HealthProbe{
			Name: "nats",
			Check: func(context.Context) error {
				if !natsConn.IsConnected() {
					return nats.ErrConnectionClosed
				}
				return nil
			},
		})
	}
	return probes
}

func waitForShutdown(app *fiber.App, stopWorkers context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}

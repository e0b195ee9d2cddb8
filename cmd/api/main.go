package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-intervention-api/internal/config"
	"github.com/noah-isme/gema-intervention-api/internal/database"
	"github.com/noah-isme/gema-intervention-api/internal/handler"
	"github.com/noah-isme/gema-intervention-api/internal/middleware"
	"github.com/noah-isme/gema-intervention-api/internal/repository"
	"github.com/noah-isme/gema-intervention-api/internal/router"
	"github.com/noah-isme/gema-intervention-api/internal/service"
	"github.com/noah-isme/gema-intervention-api/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if cfg.AppEnv == "development" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, mentor alerts will not be published there")
		} else {
			defer natsConn.Drain()
		}
	}

	notifiers := service.MultiMentorNotifier{service.NewLogMentorNotifier(logger)}
	notifierNames := []string{"log"}

	if cfg.MentorWebhookURL != "" {
		notifiers = append(notifiers, service.NewWebhookMentorNotifier(cfg.MentorWebhookURL, cfg.MentorNotifyTimeout, logger))
		notifierNames = append(notifierNames, "webhook")
	}

	if redisClient != nil || natsConn != nil {
		notifiers = append(notifiers, service.NewBrokerMentorNotifier(redisClient, natsConn, cfg.NotificationChannel))
		notifierNames = append(notifierNames, "broker")
	}

	if cfg.AMQPURL != "" {
		broker, err := database.ConnectAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq unavailable, mentor alerts will not be queued")
		} else {
			defer broker.Close()
			notifiers = append(notifiers, service.NewAMQPMentorNotifier(broker.Channel, cfg.AMQPExchange, cfg.AMQPRoutingKey))
			notifierNames = append(notifierNames, "amqp")
		}
	}

	var locker service.StudentLocker = service.NewLocalStudentLocker()
	locking := "local"
	if redisClient != nil {
		locker = service.NewRedisStudentLocker(redisClient, cfg.NotificationChannel+":student-lock", cfg.StudentLockTTL)
		locking = "redis"
	}

	validate := utils.NewValidator()
	broadcaster := service.NewStatusBroadcaster()

	interventionRepo := repository.NewInterventionRepository(db)
	interventionService := service.NewInterventionService(
		interventionRepo,
		locker,
		notifiers,
		broadcaster,
		validate,
		service.InterventionOptions{
			AutoUnlockAfter: cfg.AutoUnlockAfter,
			NotifyTimeout:   cfg.MentorNotifyTimeout,
		},
		logger,
	)

	interventionHandler := handler.NewInterventionHandler(interventionService, logger)
	statusStreamHandler := handler.NewStatusStreamHandler(interventionService, broadcaster, cfg.StatusStreamRefresh, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		Immutable:    true,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSOrigins,
		AccessLog:    cfg.AppEnv == "development",
	})
	router.Register(app, cfg, router.Dependencies{
		InterventionHandler: interventionHandler,
		StatusStreamHandler: statusStreamHandler,
		CheckInLimiter:      middleware.RateLimit("checkin", cfg.CheckInRateLimit, time.Minute),
		MentorGuards:        middleware.MentorAuth(cfg.JWTSecret),
		Notifiers:           notifierNames,
		Locking:             locking,
	})

	logger.Info().
		Strs("notifiers", notifierNames).
		Str("locking", locking).
		Dur("auto_unlock", cfg.AutoUnlockAfter).
		Bool("mentor_auth", cfg.MentorAuthEnabled()).
		Msg("intervention api starting")

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
